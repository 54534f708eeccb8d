package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "JAMSTUDIO"

type DefinitionsConfig struct {
	Tracks []TrackDefinition `mapstructure:"tracks" yaml:"tracks"`
}

type TrackDefinition struct {
	ID     string           `mapstructure:"id" yaml:"id"`
	Name   string           `mapstructure:"name" yaml:"name"`
	Volume float64          `mapstructure:"volume" yaml:"volume"`
	Pan    float64          `mapstructure:"pan" yaml:"pan"`
	Muted  bool             `mapstructure:"muted" yaml:"muted"`
	Solo   bool             `mapstructure:"solo" yaml:"solo"`
	Clips  []ClipDefinition `mapstructure:"clips" yaml:"clips,omitempty"`
}

// ClipDefinition places an audio file on a track
type ClipDefinition struct {
	Path    string  `mapstructure:"path" yaml:"path"`
	Start   float64 `mapstructure:"start" yaml:"start"`
	GainDB  float64 `mapstructure:"gain_db" yaml:"gain_db,omitempty"`
	FadeIn  float64 `mapstructure:"fade_in" yaml:"fade_in,omitempty"`
	FadeOut float64 `mapstructure:"fade_out" yaml:"fade_out,omitempty"`
}

type TrackReference struct {
	Ref    string   `mapstructure:"ref" yaml:"ref"`
	Volume *float64 `mapstructure:"volume,omitempty" yaml:"volume,omitempty"`
	Pan    *float64 `mapstructure:"pan,omitempty" yaml:"pan,omitempty"`
	Muted  *bool    `mapstructure:"muted,omitempty" yaml:"muted,omitempty"`
	Solo   *bool    `mapstructure:"solo,omitempty" yaml:"solo,omitempty"`
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Audio        AudioConfig               `mapstructure:"audio" yaml:"audio"`
	Recording    RecordingConfig           `mapstructure:"recording" yaml:"recording"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Name      string          `mapstructure:"-" yaml:"name"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Tracks    []Track         `mapstructure:"tracks" yaml:"tracks"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type ConfigProfile struct {
	Audio     AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Tracks    []TrackReference `mapstructure:"tracks" yaml:"tracks"`
	Recording RecordingConfig  `mapstructure:"recording" yaml:"recording"`
	Output    OutputConfig     `mapstructure:"output" yaml:"output"`
}

type InheritanceInfo struct {
	Audio     map[string]string // key -> "inherited" or "profile-specific"
	Recording map[string]string
	Output    map[string]string
}

type AudioConfig struct {
	SampleRate     int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	BufferSize     int      `mapstructure:"buffer_size" yaml:"buffer_size"`
	InputChannels  int      `mapstructure:"input_channels" yaml:"input_channels"`
	OutputChannels int      `mapstructure:"output_channels" yaml:"output_channels"`
	Backend        string   `mapstructure:"backend" yaml:"backend"`           // "auto", "jack", "pipewire", "oto", "headless"
	Sources        []string `mapstructure:"sources" yaml:"sources,omitempty"` // capture ports or a node name
}

type RecordingConfig struct {
	Monitoring       string        `mapstructure:"monitoring" yaml:"monitoring"` // "auto", "input-only", "off"
	MonitorGain      float64       `mapstructure:"monitor_gain" yaml:"monitor_gain"`
	WaveformBins     int           `mapstructure:"waveform_bins" yaml:"waveform_bins"`
	WaveformInterval time.Duration `mapstructure:"waveform_interval" yaml:"waveform_interval"`
}

type Track struct {
	ID     string           `mapstructure:"id" yaml:"id"`
	Name   string           `mapstructure:"name" yaml:"name"`
	Volume float64          `mapstructure:"volume" yaml:"volume"`
	Pan    float64          `mapstructure:"pan" yaml:"pan"`
	Muted  bool             `mapstructure:"muted" yaml:"muted"`
	Solo   bool             `mapstructure:"solo" yaml:"solo"`
	Clips  []ClipDefinition `mapstructure:"clips" yaml:"clips,omitempty"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

var defaultConfig = Config{
	Name: "default",
	Audio: AudioConfig{
		SampleRate:     48000,
		BufferSize:     4096,
		InputChannels:  2,
		OutputChannels: 2,
		Backend:        "auto",
	},
	Tracks: []Track{
		{ID: "t1", Name: "Track 1", Volume: 1},
	},
	Recording: RecordingConfig{
		Monitoring:       "auto",
		MonitorGain:      1,
		WaveformBins:     500,
		WaveformInterval: 100 * time.Millisecond,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "JamStudio"),
	},
}

// Default returns the built-in configuration with environment overrides applied
func Default() *Config {
	v := newViper()
	cfg := &Config{
		Name:   defaultConfig.Name,
		Tracks: append([]Track(nil), defaultConfig.Tracks...),
		Output: defaultConfig.Output,
	}
	// env first, built-in defaults fill the rest
	applyRootDefaults(cfg, readAudio(v), readRecording(v))
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return cfg
}

// LoadWithProfile reads configFile and resolves the named profile, falling
// back to active_config and then "default". An empty file name yields Default().
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return Default(), nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selectedConfig = mergeConfigs(base, selectedConfig)
		}
	}
	selectedConfig.Name = configName

	// root sections (and JAMSTUDIO_* env) fill what profiles left blank,
	// built-in defaults fill the rest
	applyRootDefaults(selectedConfig, rootConfig.Audio, rootConfig.Recording)

	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
	}
	if selectedConfig.Output.Directory == "" {
		selectedConfig.Output.Directory = defaultConfig.Output.Directory
	}
	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	for i := range selectedConfig.Tracks {
		for j := range selectedConfig.Tracks[i].Clips {
			selectedConfig.Tracks[i].Clips[j].Path = expandPath(selectedConfig.Tracks[i].Clips[j].Path)
		}
	}

	if err := Validate(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := newViper()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			return nil, fmt.Errorf("invalid config '%s': empty profile", configName)
		}
		if err := validateTrackReferences(configProfile.Tracks, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// newViper returns an instance bound to JAMSTUDIO_* variables. Keys need a
// default for AutomaticEnv to reach them during Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"audio.sample_rate", "audio.buffer_size", "audio.input_channels", "audio.output_channels", "audio.backend",
		"recording.monitoring", "recording.monitor_gain", "recording.waveform_bins", "recording.waveform_interval",
	} {
		v.SetDefault(key, nil)
	}
	return v
}

func readAudio(v *viper.Viper) AudioConfig {
	return AudioConfig{
		SampleRate:     v.GetInt("audio.sample_rate"),
		BufferSize:     v.GetInt("audio.buffer_size"),
		InputChannels:  v.GetInt("audio.input_channels"),
		OutputChannels: v.GetInt("audio.output_channels"),
		Backend:        v.GetString("audio.backend"),
		Sources:        v.GetStringSlice("audio.sources"),
	}
}

func readRecording(v *viper.Viper) RecordingConfig {
	return RecordingConfig{
		Monitoring:       v.GetString("recording.monitoring"),
		MonitorGain:      v.GetFloat64("recording.monitor_gain"),
		WaveformBins:     v.GetInt("recording.waveform_bins"),
		WaveformInterval: v.GetDuration("recording.waveform_interval"),
	}
}

// applyRootDefaults fills zero fields from the root sections, then from
// the built-in defaults
func applyRootDefaults(cfg *Config, audio AudioConfig, rec RecordingConfig) {
	for _, base := range []AudioConfig{audio, defaultConfig.Audio} {
		if cfg.Audio.SampleRate == 0 {
			cfg.Audio.SampleRate = base.SampleRate
		}
		if cfg.Audio.BufferSize == 0 {
			cfg.Audio.BufferSize = base.BufferSize
		}
		if cfg.Audio.InputChannels == 0 {
			cfg.Audio.InputChannels = base.InputChannels
		}
		if cfg.Audio.OutputChannels == 0 {
			cfg.Audio.OutputChannels = base.OutputChannels
		}
		if cfg.Audio.Backend == "" {
			cfg.Audio.Backend = base.Backend
		}
		if len(cfg.Audio.Sources) == 0 {
			cfg.Audio.Sources = base.Sources
		}
	}
	for _, base := range []RecordingConfig{rec, defaultConfig.Recording} {
		if cfg.Recording.Monitoring == "" {
			cfg.Recording.Monitoring = base.Monitoring
		}
		if cfg.Recording.MonitorGain == 0 {
			cfg.Recording.MonitorGain = base.MonitorGain
		}
		if cfg.Recording.WaveformBins == 0 {
			cfg.Recording.WaveformBins = base.WaveformBins
		}
		if cfg.Recording.WaveformInterval == 0 {
			cfg.Recording.WaveformInterval = base.WaveformInterval
		}
	}
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving track references
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Audio:     profile.Audio,
		Recording: profile.Recording,
		Output:    profile.Output,
	}

	for i, ref := range profile.Tracks {
		if ref.Ref == "" {
			return nil, fmt.Errorf("tracks[%d]: 'ref' is required", i)
		}

		definition := findDefinition(definitions, ref.Ref)
		if definition == nil {
			return nil, fmt.Errorf("tracks[%d]: reference '%s' not found in definitions", i, ref.Ref)
		}

		track := Track{
			ID:     definition.ID,
			Name:   definition.Name,
			Volume: definition.Volume,
			Pan:    definition.Pan,
			Muted:  definition.Muted,
			Solo:   definition.Solo,
			Clips:  append([]ClipDefinition(nil), definition.Clips...),
		}

		if ref.Volume != nil {
			track.Volume = *ref.Volume
		}
		if ref.Pan != nil {
			track.Pan = *ref.Pan
		}
		if ref.Muted != nil {
			track.Muted = *ref.Muted
		}
		if ref.Solo != nil {
			track.Solo = *ref.Solo
		}

		config.Tracks = append(config.Tracks, track)
	}

	return config, nil
}

func findDefinition(definitions *DefinitionsConfig, id string) *TrackDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Tracks {
		if definitions.Tracks[i].ID == id {
			return &definitions.Tracks[i]
		}
	}
	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// - Tracks: only the tracks listed in the profile, or the base tracks when the profile lists none
// - For all other settings (audio, recording, output), use profile value or fallback to base
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{
		Inheritance: &InheritanceInfo{
			Audio:     map[string]string{},
			Recording: map[string]string{},
			Output:    map[string]string{},
		},
	}
	if base != nil {
		result.Audio = base.Audio
		result.Recording = base.Recording
		result.Output = base.Output
		result.Tracks = base.Tracks
	}
	if profile == nil {
		return result
	}

	pick := func(section map[string]string, key string, set bool) bool {
		if set {
			section[key] = "profile-specific"
		} else {
			section[key] = "inherited"
		}
		return set
	}

	a, pa := &result.Audio, profile.Audio
	if pick(result.Inheritance.Audio, "sample_rate", pa.SampleRate != 0) {
		a.SampleRate = pa.SampleRate
	}
	if pick(result.Inheritance.Audio, "buffer_size", pa.BufferSize != 0) {
		a.BufferSize = pa.BufferSize
	}
	if pick(result.Inheritance.Audio, "input_channels", pa.InputChannels != 0) {
		a.InputChannels = pa.InputChannels
	}
	if pick(result.Inheritance.Audio, "output_channels", pa.OutputChannels != 0) {
		a.OutputChannels = pa.OutputChannels
	}
	if pick(result.Inheritance.Audio, "backend", pa.Backend != "") {
		a.Backend = pa.Backend
	}
	if pick(result.Inheritance.Audio, "sources", len(pa.Sources) > 0) {
		a.Sources = pa.Sources
	}

	r, pr := &result.Recording, profile.Recording
	if pick(result.Inheritance.Recording, "monitoring", pr.Monitoring != "") {
		r.Monitoring = pr.Monitoring
	}
	if pick(result.Inheritance.Recording, "monitor_gain", pr.MonitorGain != 0) {
		r.MonitorGain = pr.MonitorGain
	}
	if pick(result.Inheritance.Recording, "waveform_bins", pr.WaveformBins != 0) {
		r.WaveformBins = pr.WaveformBins
	}
	if pick(result.Inheritance.Recording, "waveform_interval", pr.WaveformInterval != 0) {
		r.WaveformInterval = pr.WaveformInterval
	}

	if pick(result.Inheritance.Output, "directory", profile.Output.Directory != "") {
		result.Output.Directory = profile.Output.Directory
	}

	if len(profile.Tracks) > 0 {
		result.Tracks = profile.Tracks
	}

	return result
}

// Validate checks the resolved configuration
func Validate(c *Config) error {
	a := c.Audio
	if a.SampleRate < 8000 || a.SampleRate > 384000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 384000, got: %d", a.SampleRate)
	}
	if a.BufferSize <= 0 || a.BufferSize&(a.BufferSize-1) != 0 {
		return fmt.Errorf("audio.buffer_size must be a positive power of two, got: %d", a.BufferSize)
	}
	if a.InputChannels < 1 || a.InputChannels > 2 {
		return fmt.Errorf("audio.input_channels must be 1 or 2, got: %d", a.InputChannels)
	}
	if a.OutputChannels < 1 || a.OutputChannels > 2 {
		return fmt.Errorf("audio.output_channels must be 1 or 2, got: %d", a.OutputChannels)
	}
	if len(a.Sources) > a.InputChannels {
		return fmt.Errorf("audio.sources lists %d sources for %d input channels", len(a.Sources), a.InputChannels)
	}

	switch c.Recording.Monitoring {
	case "auto", "input-only", "off":
	default:
		return fmt.Errorf("recording.monitoring must be 'auto', 'input-only' or 'off', got: %s", c.Recording.Monitoring)
	}
	if c.Recording.MonitorGain < 0 || c.Recording.MonitorGain > 1 {
		return fmt.Errorf("recording.monitor_gain must be within [0,1], got: %.2f", c.Recording.MonitorGain)
	}
	if c.Recording.WaveformBins <= 0 {
		return fmt.Errorf("recording.waveform_bins must be > 0, got: %d", c.Recording.WaveformBins)
	}
	if c.Recording.WaveformInterval <= 0 {
		return fmt.Errorf("recording.waveform_interval must be > 0, got: %s", c.Recording.WaveformInterval)
	}

	seen := make(map[string]bool)
	for i, t := range c.Tracks {
		if t.ID == "" {
			return fmt.Errorf("tracks[%d] must have an id", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tracks[%d]: duplicate track '%s'", i, t.ID)
		}
		seen[t.ID] = true
		if err := validateTrackValues(fmt.Sprintf("tracks[%d] '%s'", i, t.ID), t.Volume, t.Pan, t.Clips); err != nil {
			return err
		}
	}

	return nil
}

// validateDefinitions validates the definitions section
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return fmt.Errorf("definitions section is required")
	}

	if len(definitions.Tracks) == 0 {
		return fmt.Errorf("definitions.tracks cannot be empty")
	}

	seenIDs := make(map[string]bool)

	for i, def := range definitions.Tracks {
		prefix := fmt.Sprintf("definitions.tracks[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if def.Name == "" {
			return fmt.Errorf("%s: 'name' is required", prefix)
		}
		if err := validateTrackValues(prefix, def.Volume, def.Pan, def.Clips); err != nil {
			return err
		}
	}

	return nil
}

func validateTrackValues(prefix string, volume, pan float64, clips []ClipDefinition) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("%s: 'volume' must be within [0,1], got: %.2f", prefix, volume)
	}
	if pan < -1 || pan > 1 {
		return fmt.Errorf("%s: 'pan' must be within [-1,1], got: %.2f", prefix, pan)
	}
	for j, clip := range clips {
		if clip.Path == "" {
			return fmt.Errorf("%s: clips[%d]: 'path' is required", prefix, j)
		}
		if clip.Start < 0 {
			return fmt.Errorf("%s: clips[%d]: 'start' must be >= 0, got: %.2f", prefix, j, clip.Start)
		}
		if clip.FadeIn < 0 || clip.FadeOut < 0 {
			return fmt.Errorf("%s: clips[%d]: fades must be >= 0", prefix, j)
		}
	}
	return nil
}

// validateTrackReferences validates track references in a config profile
func validateTrackReferences(tracks []TrackReference, definitions *DefinitionsConfig) error {
	for i, ref := range tracks {
		prefix := fmt.Sprintf("tracks[%d]", i)

		if ref.Ref == "" {
			return fmt.Errorf("%s: 'ref' is required", prefix)
		}

		if findDefinition(definitions, ref.Ref) == nil {
			return fmt.Errorf("%s: references undefined track definition '%s'", prefix, ref.Ref)
		}

		if ref.Volume != nil && (*ref.Volume < 0 || *ref.Volume > 1) {
			return fmt.Errorf("%s: volume override must be within [0,1], got %.2f", prefix, *ref.Volume)
		}
		if ref.Pan != nil && (*ref.Pan < -1 || *ref.Pan > 1) {
			return fmt.Errorf("%s: pan override must be within [-1,1], got %.2f", prefix, *ref.Pan)
		}
	}

	return nil
}

func cloneConfig(c *Config) *Config {
	out := *c
	out.Tracks = append([]Track(nil), c.Tracks...)
	return &out
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
