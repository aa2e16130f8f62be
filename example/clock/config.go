package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type config struct {
	// Transport is either "stdio" or "sse".
	Transport string `yaml:"transport" envconfig:"TRANSPORT"`
	// Addr is the listen address of the SSE transport.
	Addr string `yaml:"addr" envconfig:"ADDR"`
	// BaseURL is the externally visible URL of the SSE transport, used to build the
	// message endpoint announced to clients.
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
	// Timezone is the session timezone of the stdio transport.
	Timezone        string        `yaml:"timezone" envconfig:"TIMEZONE"`
	DefaultTimezone string        `yaml:"default_timezone" envconfig:"DEFAULT_TIMEZONE"`
	LogLevel        string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" envconfig:"LOG_FORMAT"`
	PingInterval    time.Duration `yaml:"ping_interval" envconfig:"PING_INTERVAL"`

	PrintConfigSchema bool `yaml:"-" ignored:"true"`
}

const (
	envPrefix = "CLOCK"

	transportStdIO = "stdio"
	transportSSE   = "sse"

	logFormatText = "text"
	logFormatJSON = "json"
)

var errInvalidConfig = errors.New("invalid config")

func defaultConfig() config {
	return config{
		Transport:       transportStdIO,
		Addr:            ":8080",
		BaseURL:         "http://localhost:8080",
		DefaultTimezone: "UTC",
		LogLevel:        "info",
		LogFormat:       logFormatText,
		PingInterval:    30 * time.Second,
	}
}

// loadConfig layers the configuration sources: defaults, the YAML file named by -config,
// the .env file, CLOCK_* environment variables and finally the flags set in args.
func loadConfig(args []string, stderr io.Writer) (config, error) {
	cfg := defaultConfig()

	var (
		configPath string
		envPath    string
		flagCfg    config
	)
	flags := flag.NewFlagSet("clock", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&envPath, "env-file", ".env", "path to a .env file, ignored when missing")
	flags.StringVar(&flagCfg.Transport, "transport", cfg.Transport, "transport to serve on: stdio or sse")
	flags.StringVar(&flagCfg.Addr, "addr", cfg.Addr, "listen address of the sse transport")
	flags.StringVar(&flagCfg.BaseURL, "base-url", cfg.BaseURL, "public base URL of the sse transport")
	flags.StringVar(&flagCfg.Timezone, "timezone", cfg.Timezone, "session timezone of the stdio transport")
	flags.StringVar(&flagCfg.DefaultTimezone, "default-timezone", cfg.DefaultTimezone,
		"timezone of sessions that don't configure one")
	flags.StringVar(&flagCfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&flagCfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	flags.DurationVar(&flagCfg.PingInterval, "ping-interval", cfg.PingInterval, "interval of keep-alive pings")
	flags.BoolVar(&flagCfg.PrintConfigSchema, "print-config-schema", false,
		"print the JSON schema of the session config and exit")

	if err := flags.Parse(args); err != nil {
		return config{}, err
	}

	if configPath != "" {
		if err := loadYAML(configPath, &cfg); err != nil {
			return config{}, err
		}
	}

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config{}, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return config{}, fmt.Errorf("failed to process environment: %w", err)
	}

	// Only the flags given on the command line override the other sources.
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = flagCfg.Transport
		case "addr":
			cfg.Addr = flagCfg.Addr
		case "base-url":
			cfg.BaseURL = flagCfg.BaseURL
		case "timezone":
			cfg.Timezone = flagCfg.Timezone
		case "default-timezone":
			cfg.DefaultTimezone = flagCfg.DefaultTimezone
		case "log-level":
			cfg.LogLevel = flagCfg.LogLevel
		case "log-format":
			cfg.LogFormat = flagCfg.LogFormat
		case "ping-interval":
			cfg.PingInterval = flagCfg.PingInterval
		case "print-config-schema":
			cfg.PrintConfigSchema = flagCfg.PrintConfigSchema
		}
	})

	if err := cfg.validate(); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func loadYAML(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func (c config) validate() error {
	if !slices.Contains([]string{transportStdIO, transportSSE}, c.Transport) {
		return fmt.Errorf("%w: unknown transport %q", errInvalidConfig, c.Transport)
	}
	if !slices.Contains([]string{logFormatText, logFormatJSON}, c.LogFormat) {
		return fmt.Errorf("%w: unknown log format %q", errInvalidConfig, c.LogFormat)
	}
	if _, err := c.slogLevel(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping interval must be positive", errInvalidConfig)
	}
	if c.Transport == transportSSE && c.BaseURL == "" {
		return fmt.Errorf("%w: base url is required for the sse transport", errInvalidConfig)
	}
	return nil
}

func (c config) slogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("failed to parse log level: %w", err)
	}
	return level, nil
}

func (c config) newLogger(w io.Writer) *slog.Logger {
	level, _ := c.slogLevel()
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == logFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
