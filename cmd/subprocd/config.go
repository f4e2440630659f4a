package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SUBPROCD_"

// config is the daemon configuration. Values are layered, lowest precedence
// first: defaults, the YAML config file, SUBPROCD_* environment variables and
// finally flags set explicitly on the command line.
type config struct {
	Host         string        `yaml:"host"          env:"HOST"`
	Port         string        `yaml:"port"          env:"PORT"`
	Debug        bool          `yaml:"debug"         env:"DEBUG"`
	CertPath     string        `yaml:"cert_path"     env:"CERT_PATH"`
	KeyPath      string        `yaml:"key_path"      env:"KEY_PATH"`
	CACertPath   string        `yaml:"ca_cert_path"  env:"CA_CERT_PATH"`
	Output       string        `yaml:"output"        env:"OUTPUT"`
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	ExecRate     float64       `yaml:"exec_rate"     env:"EXEC_RATE"`
	ExecBurst    int           `yaml:"exec_burst"    env:"EXEC_BURST"`
}

func defaultConfig() *config {
	return &config{
		Host:         "localhost",
		Port:         "8443",
		CertPath:     "certs/server.crt",
		KeyPath:      "certs/server.key",
		CACertPath:   "certs/ca.crt",
		DrainTimeout: 10 * time.Second,
	}
}

// loadConfig layers the config file at path (if any), the environment and the
// flags explicitly set in flags on top of the defaults. flagCfg holds the
// values the flags were parsed into. A nil environ reads the process
// environment.
func loadConfig(
	path string,
	environ map[string]string,
	flags *pflag.FlagSet,
	flagCfg *config,
) (*config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if flags != nil {
		cfg.applyFlags(flags, flagCfg)
	}

	return cfg, nil
}

func (c *config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode: %w", path, err)
	}

	return nil
}

// applyFlags copies the flags explicitly set on the command line from
// flagCfg. Flags left at their default don't override the file or
// environment.
func (c *config) applyFlags(flags *pflag.FlagSet, flagCfg *config) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			c.Host = flagCfg.Host
		case "port":
			c.Port = flagCfg.Port
		case "debug":
			c.Debug = flagCfg.Debug
		case "cert-path":
			c.CertPath = flagCfg.CertPath
		case "key-path":
			c.KeyPath = flagCfg.KeyPath
		case "ca-cert-path":
			c.CACertPath = flagCfg.CACertPath
		case "output":
			c.Output = flagCfg.Output
		case "drain-timeout":
			c.DrainTimeout = flagCfg.DrainTimeout
		case "exec-rate":
			c.ExecRate = flagCfg.ExecRate
		case "exec-burst":
			c.ExecBurst = flagCfg.ExecBurst
		}
	})
}

func (c *config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return fmt.Errorf("port string to number: %w", err)
	}

	if port < 1 || port > 65535 {
		return errors.New("port must be in valid range")
	}

	if c.CertPath == "" {
		return errors.New("cert-path cannot be empty")
	}

	if _, err := os.Stat(c.CertPath); err != nil {
		return fmt.Errorf("failed to stat cert-path: %w", err)
	}

	if c.KeyPath == "" {
		return errors.New("key-path cannot be empty")
	}

	if _, err := os.Stat(c.KeyPath); err != nil {
		return fmt.Errorf("failed to stat key-path: %w", err)
	}

	if c.CACertPath == "" {
		return errors.New("ca-cert-path cannot be empty")
	}

	if _, err := os.Stat(c.CACertPath); err != nil {
		return fmt.Errorf("failed to stat ca-cert-path: %w", err)
	}

	if c.DrainTimeout <= 0 {
		return errors.New("drain-timeout must be positive")
	}

	if c.ExecRate < 0 {
		return errors.New("exec-rate cannot be negative")
	}

	if c.ExecRate > 0 && c.ExecBurst < 1 {
		return errors.New("exec-burst must be at least 1 when exec-rate is set")
	}

	return nil
}

// openOutput opens the destination for children's output. An empty path or
// "-" is the daemon's own stdout. Files are appended to.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}

	return f, f.Close, nil
}
