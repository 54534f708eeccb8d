// Package clipstore persists finished recordings as WAV files and imports
// clips from disk for the timeline.
package clipstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/jamstudio/internal/audio"
	"github.com/audiolibrelab/jamstudio/internal/wav"
)

// Store writes clips under a single directory
type Store struct {
	dir      string
	registry *Registry
	now      func() time.Time

	// parallel SaveAll writers
	limit int
}

// Option customizes a Store
type Option func(*Store)

// WithClock overrides the timestamp used in file names
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRegistry replaces the decoder registry
func WithRegistry(r *Registry) Option {
	return func(s *Store) { s.registry = r }
}

// New returns a store rooted at dir. The directory is created on first save.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, registry: DefaultRegistry(), now: time.Now, limit: 4}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the output directory
func (s *Store) Dir() string { return s.dir }

// Save writes buf as <track>-<unix>.wav and returns the file path.
func (s *Store) Save(trackID string, buf *audio.Buffer) (string, error) {
	if buf == nil {
		return "", fmt.Errorf("no audio to save for track %q", trackID)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := cleanFileName(trackID)
	if name == "" {
		name = "track"
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%d.wav", name, s.now().Unix()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := wav.Write(f, buf); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	slog.Info("Clip saved", "track", trackID, "path", path, "frames", buf.Frames(), "channels", buf.NumChannels())
	return path, nil
}

// SaveAll writes every buffer concurrently. On failure the first error is
// returned and files already written are kept.
func (s *Store) SaveAll(ctx context.Context, buffers map[string]*audio.Buffer) (map[string]string, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)

	var mu sync.Mutex
	paths := make(map[string]string, len(buffers))

	for trackID, buf := range buffers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			path, err := s.Save(trackID, buf)
			if err != nil {
				return err
			}
			mu.Lock()
			paths[trackID] = path
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return paths, err
	}
	return paths, nil
}

// Load decodes the clip at path using the decoder for its extension
func (s *Store) Load(path string) (*audio.Buffer, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	dec, ok := s.registry.Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", audio.ErrUnsupportedFormat, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip: %w", err)
	}
	defer f.Close()

	buf, err := dec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	slog.Debug("Clip loaded", "path", path, "frames", buf.Frames(), "sample_rate", buf.SampleRate)
	return buf, nil
}

// List returns the clip files in the store directory that a decoder can read
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := s.registry.Get(filepath.Ext(e.Name())); ok {
			out = append(out, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
