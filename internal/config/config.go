// Package config loads and validates loopmic configuration.
//
// The component attributes (source URL and supervision knobs) arrive
// either from the daemon's YAML file or from the host as a loosely typed
// attribute map; both paths end in the same Attributes struct and the
// same Validate.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for configuration rejected before any
// process action is taken.
var ErrInvalidConfig = errors.New("invalid config")

// Defaults for the supervision knobs.
const (
	DefaultMaxRestarts       = 3
	DefaultRestartCooldown   = 10 * time.Second
	DefaultReconcileInterval = 30 * time.Second
	DefaultStopTimeout       = 5 * time.Second
	DefaultFFmpegPath        = "ffmpeg"
	DefaultReconnectDelayMax = 10
)

// Process table backends.
const (
	ProcessTableNative = "native"
	ProcessTablePgrep  = "pgrep"
)

// Attributes configure one stream component.
type Attributes struct {
	RTSPURL           string   `yaml:"rtsp_url" json:"rtsp_url"`
	MaxRestarts       int      `yaml:"max_restarts,omitempty" json:"max_restarts,omitempty"`
	RestartCooldown   Duration `yaml:"restart_cooldown,omitempty" json:"restart_cooldown,omitempty"`
	ReconcileInterval Duration `yaml:"reconcile_interval,omitempty" json:"reconcile_interval,omitempty"`
	StopTimeout       Duration `yaml:"stop_timeout,omitempty" json:"stop_timeout,omitempty"`
	FFmpegPath        string   `yaml:"ffmpeg_path,omitempty" json:"ffmpeg_path,omitempty"`
	ReconnectDelayMax int      `yaml:"reconnect_delay_max,omitempty" json:"reconnect_delay_max,omitempty"`
}

// Config is the daemon configuration file, ~/.loopmic/config.yaml.
type Config struct {
	Attributes   `yaml:",inline"`
	ProcessTable string  `yaml:"process_table,omitempty"` // "native" | "pgrep"
	Socket       string  `yaml:"socket,omitempty"`
	Log          Logging `yaml:"log,omitempty"`
}

// Logging selects the slog handler.
type Logging struct {
	Level  string `yaml:"level,omitempty"`  // debug | info | warn | error
	Format string `yaml:"format,omitempty"` // text | json
}

// Duration wraps time.Duration for YAML strings like "10s". A bare number
// is read as seconds, which is how host frameworks usually send it.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.Duration.String())), nil
}

func parseDuration(s string) (time.Duration, error) {
	if parsed, err := time.ParseDuration(s); err == nil {
		return parsed, nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// DefaultPath returns the default config file path: ~/.loopmic/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".loopmic", "config.yaml")
}

// Load reads a YAML config file from path. A missing file yields an empty
// Config and no error: the daemon then runs unconfigured until the file
// appears or the host pushes attributes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Configured reports whether the file names a stream source.
func (c *Config) Configured() bool {
	return c.RTSPURL != ""
}

// Validate checks the daemon-level settings and, when a source is set,
// the component attributes.
func (c *Config) Validate() error {
	switch c.ProcessTable {
	case "", ProcessTableNative, ProcessTablePgrep:
	default:
		return invalid("process_table must be %q or %q, got %q", ProcessTableNative, ProcessTablePgrep, c.ProcessTable)
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	if c.Configured() {
		return c.Attributes.Validate()
	}
	return nil
}

// Validate checks the component attributes.
func (a Attributes) Validate() error {
	if a.RTSPURL == "" {
		return invalid("rtsp_url must be a non-empty string")
	}
	if a.MaxRestarts < 0 {
		return invalid("max_restarts must not be negative")
	}
	if a.ReconnectDelayMax < 0 {
		return invalid("reconnect_delay_max must not be negative")
	}
	for name, d := range map[string]Duration{
		"restart_cooldown":   a.RestartCooldown,
		"reconcile_interval": a.ReconcileInterval,
		"stop_timeout":       a.StopTimeout,
	} {
		if d.Duration < 0 {
			return invalid("%s must not be negative", name)
		}
	}
	return nil
}

// WithDefaults returns a copy with zero-valued knobs filled in.
func (a Attributes) WithDefaults() Attributes {
	if a.MaxRestarts == 0 {
		a.MaxRestarts = DefaultMaxRestarts
	}
	if a.RestartCooldown.Duration == 0 {
		a.RestartCooldown.Duration = DefaultRestartCooldown
	}
	if a.ReconcileInterval.Duration == 0 {
		a.ReconcileInterval.Duration = DefaultReconcileInterval
	}
	if a.StopTimeout.Duration == 0 {
		a.StopTimeout.Duration = DefaultStopTimeout
	}
	if a.FFmpegPath == "" {
		a.FFmpegPath = DefaultFFmpegPath
	}
	if a.ReconnectDelayMax == 0 {
		a.ReconnectDelayMax = DefaultReconnectDelayMax
	}
	return a
}

// FromMap decodes host-supplied attributes. rtsp_url must be present and
// a non-empty string; the other keys are optional.
func FromMap(m map[string]any) (Attributes, error) {
	raw, ok := m["rtsp_url"]
	if !ok {
		return Attributes{}, invalid("rtsp_url is required in attributes")
	}
	if s, isString := raw.(string); !isString || s == "" {
		return Attributes{}, invalid("rtsp_url must be a non-empty string")
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return Attributes{}, invalid("encoding attributes: %v", err)
	}
	var attrs Attributes
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return Attributes{}, invalid("decoding attributes: %v", err)
	}
	if err := attrs.Validate(); err != nil {
		return Attributes{}, err
	}
	return attrs, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
