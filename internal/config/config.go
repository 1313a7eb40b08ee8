package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WGPANEL_"

type Config struct {
	ServerURL string `yaml:"server_url"`
	// User is the human identity sent as "by" on every mutating request.
	User           string        `yaml:"user"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	TailLines       int           `yaml:"tail_lines"`
	BufferCap       int           `yaml:"buffer_cap"`
	ContextDebounce time.Duration `yaml:"context_debounce"`

	StreamFailureThreshold int           `yaml:"stream_failure_threshold"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	ResumeInterval         time.Duration `yaml:"resume_interval"`
	RetryMinBackoff        time.Duration `yaml:"retry_min_backoff"`
	RetryMaxBackoff        time.Duration `yaml:"retry_max_backoff"`

	MaxAttachmentBytes int64         `yaml:"max_attachment_bytes"`
	NoticeTTL          time.Duration `yaml:"notice_ttl"`

	DBPath      string `yaml:"db_path"`
	LogPath     string `yaml:"log_path"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

func DefaultConfig() Config {
	return Config{
		ServerURL:              "http://127.0.0.1:8848",
		User:                   "user",
		RequestTimeout:         15 * time.Second,
		TailLines:              200,
		BufferCap:              1000,
		ContextDebounce:        150 * time.Millisecond,
		StreamFailureThreshold: 3,
		PollInterval:           10 * time.Second,
		ResumeInterval:         60 * time.Second,
		RetryMinBackoff:        250 * time.Millisecond,
		RetryMaxBackoff:        4 * time.Second,
		MaxAttachmentBytes:     20 << 20,
		NoticeTTL:              8 * time.Second,
		DBPath:                 defaultStatePath("state.db"),
		LogPath:                defaultStatePath("wgpanel.log"),
		LogLevel:               "info",
	}
}

// DefaultPath is the config file read when no --config flag is given.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "wgpanel", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "wgpanel.yaml"
	}
	return filepath.Join(home, ".config", "wgpanel", "config.yaml")
}

func defaultStatePath(name string) string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "wgpanel", name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".local", "state", "wgpanel", name)
}

// Load layers the YAML file at path (missing is fine) over the defaults, then
// a .env file in the working directory, then WGPANEL_* variables.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv file. Variables already set
// in the process environment win over the file.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}
	integer := func(key string, dst *int64) error {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("SERVER_URL", &c.ServerURL)
	str("USER", &c.User)
	str("DB_PATH", &c.DBPath)
	str("LOG_PATH", &c.LogPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)
	for key, dst := range map[string]*time.Duration{
		"REQUEST_TIMEOUT":  &c.RequestTimeout,
		"CONTEXT_DEBOUNCE": &c.ContextDebounce,
		"POLL_INTERVAL":    &c.PollInterval,
		"RESUME_INTERVAL":  &c.ResumeInterval,
		"NOTICE_TTL":       &c.NoticeTTL,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	tail := int64(c.TailLines)
	if err := integer("TAIL_LINES", &tail); err != nil {
		return err
	}
	c.TailLines = int(tail)
	return integer("MAX_ATTACHMENT_BYTES", &c.MaxAttachmentBytes)
}

func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url must be an http(s) URL, got %q", c.ServerURL)
	}
	if strings.TrimSpace(c.User) == "" {
		return errors.New("user must not be empty")
	}
	if c.TailLines <= 0 || c.BufferCap <= 0 {
		return fmt.Errorf("tail_lines and buffer_cap must be positive")
	}
	if c.TailLines > c.BufferCap {
		return fmt.Errorf("tail_lines (%d) exceeds buffer_cap (%d)", c.TailLines, c.BufferCap)
	}
	if c.MaxAttachmentBytes <= 0 {
		return fmt.Errorf("max_attachment_bytes must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}
