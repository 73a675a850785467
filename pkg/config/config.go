package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/andesco/random-image/pkg/imageproxy"
)

// Log formats
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatText = "text"
)

// Duration is a time.Duration read from "10s" style strings or a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML reads the scalar with ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in time.Duration notation, e.g. "1.5s".
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds every runtime setting of the server. The yaml tags name the
// keys of the configuration file.
type Config struct {
	Port       string `yaml:"port"`
	SourceList string `yaml:"source-list"`
	Title      string `yaml:"title"`
	Prefork    bool   `yaml:"prefork,omitempty"`

	UserAgent          string   `yaml:"user-agent"`
	Timeout            Duration `yaml:"timeout"`
	MaxRedirects       int      `yaml:"max-redirects"`
	MaxBytes           int64    `yaml:"max-bytes"`
	InsecureSkipVerify bool     `yaml:"insecure-skip-verify"`

	LogLevel  string `yaml:"log-level"`
	LogFormat string `yaml:"log-format"`
	LogURLs   bool   `yaml:"log-urls,omitempty"`
	AccessLog bool   `yaml:"access-log,omitempty"`
	Metrics   bool   `yaml:"metrics"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Port:         "8080",
		SourceList:   "image_links.txt",
		Title:        "Random Image",
		UserAgent:    imageproxy.DefaultUserAgent,
		Timeout:      Duration(imageproxy.DefaultTimeout),
		MaxRedirects: imageproxy.DefaultMaxRedirects,
		MaxBytes:     imageproxy.DefaultMaxBytes,
		LogLevel:     "info",
		LogFormat:    FormatAuto,
		Metrics:      true,
	}
}

// Override is a setting given on the command line. It takes precedence over
// the environment variable Env, which is not checked when the override is present.
type Override struct {
	Env   string
	Apply func(*Config) error
}

// LoadDotEnv copies a .env file in the working directory into the environment.
// Variables that are already set are kept. A missing file is fine, e.g. in production.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load builds the configuration from the defaults, the YAML file at path (if
// any), a .env file in the working directory (if any), the environment and
// finally overrides, then validates the result.
func Load(path string, overrides ...Override) (Config, error) {
	cfg := Default()

	if path != "" {
		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
			return Config{}, fmt.Errorf("syntax error in config file '%s': %w", path, err)
		}
	}

	LoadDotEnv()

	envErrs := cfg.applyEnv()
	var errs []error
	for _, o := range overrides {
		delete(envErrs, o.Env)
		if err := o.Apply(&cfg); err != nil {
			errs = append(errs, err)
		}
	}

	keys := make([]string, 0, len(envErrs))
	for key := range envErrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		errs = append(errs, envErrs[key])
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv copies the environment into c and returns the parse errors keyed by variable.
func (c *Config) applyEnv() map[string]error {
	c.Port = getenv("PORT", c.Port)
	c.SourceList = getenv("SOURCE_LIST", c.SourceList)
	c.Title = getenv("PAGE_TITLE", c.Title)
	c.UserAgent = getenv("USER_AGENT", c.UserAgent)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("LOG_FORMAT", c.LogFormat)

	errs := make(map[string]error)
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		if d, err := ParseDuration(v); err != nil {
			errs["HTTP_TIMEOUT"] = fmt.Errorf("invalid HTTP_TIMEOUT=%q: %w", v, err)
		} else {
			c.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("MAX_REDIRECTS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs["MAX_REDIRECTS"] = fmt.Errorf("invalid MAX_REDIRECTS=%q: %w", v, err)
		} else {
			c.MaxRedirects = n
		}
	}
	if v := os.Getenv("MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err != nil {
			errs["MAX_IMAGE_BYTES"] = fmt.Errorf("invalid MAX_IMAGE_BYTES=%q: %w", v, err)
		} else {
			c.MaxBytes = n
		}
	}

	for key, dst := range map[string]*bool{
		"INSECURE_SKIP_VERIFY": &c.InsecureSkipVerify,
		"LOG_URLS":             &c.LogURLs,
		"ACCESS_LOG":           &c.AccessLog,
		"METRICS":              &c.Metrics,
		"PREFORK":              &c.Prefork,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs[key] = fmt.Errorf("invalid %s=%q: %w", key, v, err)
			continue
		}
		*dst = b
	}

	return errs
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must not be empty")
	}
	if c.SourceList == "" {
		return fmt.Errorf("source list path must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", time.Duration(c.Timeout))
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max redirects must not be negative, got %d", c.MaxRedirects)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive, got %d", c.MaxBytes)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case FormatAuto, FormatJSON, FormatText:
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ProxyOptions returns the fetch settings for imageproxy.New.
func (c Config) ProxyOptions() imageproxy.Options {
	return imageproxy.Options{
		UserAgent:          c.UserAgent,
		Timeout:            time.Duration(c.Timeout),
		MaxRedirects:       c.MaxRedirects,
		MaxBytes:           c.MaxBytes,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// ParseLevel converts a level name such as "debug" or "WARN" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseDuration accepts Go duration strings and bare integers, read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
