package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/jamstudio/internal/config"
	"github.com/audiolibrelab/jamstudio/internal/device/headless"
	"github.com/audiolibrelab/jamstudio/internal/service"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Session, *headless.Backend) {
	t.Helper()

	cfg := config.Default()
	cfg.Audio = config.AudioConfig{SampleRate: 1000, BufferSize: 100, InputChannels: 1, OutputChannels: 2, Backend: "headless"}
	cfg.Tracks = []config.Track{{ID: "t1", Volume: 1}, {ID: "t2", Volume: 1}}
	cfg.Recording.WaveformInterval = time.Hour
	cfg.Output.Directory = t.TempDir()

	b := &headless.Backend{Config: headless.Config{Manual: true}}
	sess, err := service.New(cfg, service.WithBackend(b))
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	ts := httptest.NewServer(New(sess, "0").Handler())
	t.Cleanup(ts.Close)
	return ts, sess, b
}

func post(t *testing.T, ts *httptest.Server, path string, form url.Values) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("POST %s: decoding body: %v", path, err)
	}
	return resp, body
}

func TestStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st service.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.Backend != "headless" || st.Active {
		t.Errorf("status = %+v", st)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/record/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /record/start = %d", resp.StatusCode)
	}

	resp, _ = post(t, ts, "/status", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /status = %d", resp.StatusCode)
	}
}

func TestRecordFlow(t *testing.T) {
	ts, _, b := newTestServer(t)

	resp, body := post(t, ts, "/record/start", url.Values{"track": {"t1"}})
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("record/start = %d %v", resp.StatusCode, body)
	}

	resp, body = post(t, ts, "/record/start", url.Values{"track": {"t1"}})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second record/start = %d %v, want 409", resp.StatusCode, body)
	}

	b.Device().Step([][]float32{make([]float32, 100)})

	resp, body = post(t, ts, "/record/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("record/stop = %d %v", resp.StatusCode, body)
	}
	takes, _ := body["takes"].([]interface{})
	if len(takes) != 1 {
		t.Errorf("takes = %v", body["takes"])
	}
}

func TestMultiTrackRecordFlow(t *testing.T) {
	ts, _, b := newTestServer(t)

	resp, body := post(t, ts, "/record/start", url.Values{"tracks": {"t1, t2"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("record/start = %d %v", resp.StatusCode, body)
	}
	b.Device().Step(nil)

	_, body = post(t, ts, "/record/stop", nil)
	if takes, _ := body["takes"].([]interface{}); len(takes) != 2 {
		t.Errorf("takes = %v", body["takes"])
	}
}

func TestErrorMapping(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		path string
		form url.Values
		want int
	}{
		{"/record/start", url.Values{}, http.StatusBadRequest},
		{"/record/start", url.Values{"track": {"ghost"}}, http.StatusNotFound},
		{"/punch/in", url.Values{"track": {"t1"}}, http.StatusConflict},
		{"/tracks/volume", url.Values{"track": {"t1"}, "value": {"loud"}}, http.StatusBadRequest},
		{"/tracks/volume", url.Values{"track": {"ghost"}, "value": {"0.5"}}, http.StatusNotFound},
		{"/tracks/mute", url.Values{"track": {"t1"}, "value": {"maybe"}}, http.StatusBadRequest},
		{"/monitoring", url.Values{"mode": {"loud"}}, http.StatusBadRequest},
		{"/clips/import", url.Values{"track": {"t1"}, "path": {"song.flac"}}, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		resp, body := post(t, ts, tt.path, tt.form)
		if resp.StatusCode != tt.want {
			t.Errorf("POST %s %v = %d %v, want %d", tt.path, tt.form, resp.StatusCode, body, tt.want)
		}
		if body["success"] != false {
			t.Errorf("POST %s: success = %v", tt.path, body["success"])
		}
	}
}

func TestTransportAndMixer(t *testing.T) {
	ts, sess, _ := newTestServer(t)

	for _, req := range []struct {
		path string
		form url.Values
	}{
		{"/transport/play", nil},
		{"/transport/seek", url.Values{"position": {"5"}}},
		{"/tracks/volume", url.Values{"track": {"t1"}, "value": {"0.5"}}},
		{"/tracks/pan", url.Values{"track": {"t1"}, "value": {"-0.25"}}},
		{"/tracks/solo", url.Values{"track": {"t2"}, "value": {"true"}}},
		{"/master", url.Values{"value": {"0.8"}}},
		{"/monitoring", url.Values{"mode": {"off"}, "gain": {"0.5"}}},
	} {
		resp, body := post(t, ts, req.path, req.form)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST %s = %d %v", req.path, resp.StatusCode, body)
		}
	}

	st := sess.Status()
	if !st.Transport.Playing || st.Transport.Position < 5 {
		t.Errorf("transport = %+v", st.Transport)
	}
	if st.Transport.Master != 0.8 || st.Monitoring.Mode != "off" || st.Monitoring.Gain != 0.5 {
		t.Errorf("status = %+v", st)
	}

	var t1, t2 bool
	for _, tr := range sess.Tracks() {
		switch tr.ID {
		case "t1":
			t1 = tr.Volume == 0.5 && tr.Pan == -0.25
		case "t2":
			t2 = tr.Solo
		}
	}
	if !t1 || !t2 {
		t.Errorf("tracks = %+v", sess.Tracks())
	}

	resp, _ := post(t, ts, "/transport/stop", nil)
	if resp.StatusCode != http.StatusOK || sess.Status().Transport.Playing {
		t.Error("transport/stop did not stop")
	}
}

func TestTracksEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/tracks")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var tr TracksResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatal(err)
	}
	if len(tr.Tracks) != 2 || !strings.HasPrefix(tr.Tracks[0].ID, "t") {
		t.Errorf("tracks = %+v", tr.Tracks)
	}
}
