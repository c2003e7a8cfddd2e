package model

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	LogFormatAuto = "auto"
	LogFormatJSON = "json"
	LogFormatText = "text"

	DefaultServerURL = "http://kraken-grantgumina.herokuapp.com"
	DefaultShell     = "/bin/sh"
)

// Config is the content of kraken.yaml.
type Config struct {
	Version     int     `yaml:"version"` // fixed 0 for now
	Verbose     bool    `yaml:"verbose"`
	LogFormat   string  `yaml:"log_format"`            // auto | json | text
	Credentials string  `yaml:"credentials,omitempty"` // empty => ~/.krakenrc
	Server      Server  `yaml:"server"`
	Job         JobExec `yaml:"job"`
	Relay       Relay   `yaml:"relay"`
}

// Server points to the remote job/log collection service.
type Server struct {
	URL     URL           `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// JobExec configures how jobs are executed locally.
type JobExec struct {
	Dir         string        `yaml:"dir,omitempty"` // empty => os.TempDir()
	Shell       string        `yaml:"shell"`
	Timeout     time.Duration `yaml:"timeout"` // 0 => no timeout
	GracePeriod time.Duration `yaml:"grace_period"`
	// Env is added to the environment of the command, $VAR values are
	// expanded when the job starts.
	Env map[string]string `yaml:"env,omitempty"`
}

// Relay configures the asynchronous remote log forwarding.
type Relay struct {
	Queue int `yaml:"queue"`
}

func DefaultConfig() Config {
	u, err := url.Parse(DefaultServerURL)
	if err != nil {
		panic(err)
	}
	return Config{
		Version:   0,
		LogFormat: LogFormatAuto,
		Server: Server{
			URL:     URL{URL: u},
			Timeout: 30 * time.Second,
		},
		Job: JobExec{
			Shell:       DefaultShell,
			GracePeriod: 5 * time.Second,
		},
		Relay: Relay{
			Queue: 1024,
		},
	}
}

// LoadConfig decodes YAML from r on top of DefaultConfig and validates the
// result. Unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StoreConfig writes cfg as YAML to w.
func StoreConfig(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

// Validate returns an error wrapping ErrInvalidConfig describing every
// invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Version != 0 {
		errs = append(errs, fmt.Errorf("version: %d is not supported, expected 0", c.Version))
	}
	switch c.LogFormat {
	case "", LogFormatAuto, LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("log_format: possible values (auto,json,text): got %q", c.LogFormat))
	}
	if u := c.Server.URL.AsURL(); u == nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, errors.New("server.url: must be an absolute http or https url"))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout: must not be negative"))
	}
	if c.Job.Shell == "" {
		errs = append(errs, errors.New("job.shell: is required"))
	}
	if c.Job.Timeout < 0 {
		errs = append(errs, errors.New("job.timeout: must not be negative"))
	}
	if c.Job.GracePeriod < 0 {
		errs = append(errs, errors.New("job.grace_period: must not be negative"))
	}
	for k := range c.Job.Env {
		if k == "" || strings.ContainsRune(k, '=') {
			errs = append(errs, fmt.Errorf("job.env: invalid variable name %q", k))
		}
	}
	if c.Relay.Queue <= 0 {
		errs = append(errs, errors.New("relay.queue: must be positive, got "+strconv.Itoa(c.Relay.Queue)))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ApplyEnv overrides configuration from KRAKEN_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("KRAKEN_SERVER_URL"); ok && v != "" {
		if err := c.Server.URL.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("KRAKEN_SERVER_URL: %w", err)
		}
	}
	if v, ok := lookup("KRAKEN_JOB_DIR"); ok && v != "" {
		c.Job.Dir = v
	}
	if v, ok := lookup("KRAKEN_VERBOSE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KRAKEN_VERBOSE: %w", err)
		}
		c.Verbose = b
	}
	return nil
}
