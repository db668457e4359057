package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/stackwire/internal/logging"
)

// cliConfig is the stackctl settings file resolved over its defaults.
type cliConfig struct {
	ProfilesPath string
	Profile      string
	Output       string
	LogLevel     string
	MetricsAddr  string
}

type fileConfig struct {
	Profiles    string `toml:"profiles"`
	Profile     string `toml:"profile"`
	Output      string `toml:"output"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		ProfilesPath: "profiles.toml",
		Output:       outputTable,
		LogLevel:     "info",
	}
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load stackctl config: %w", err)
	}

	if meta.IsDefined("profiles") {
		if p := strings.TrimSpace(raw.Profiles); p != "" {
			cfg.ProfilesPath = p
		}
	}
	if meta.IsDefined("profile") {
		cfg.Profile = strings.TrimSpace(raw.Profile)
	}
	if meta.IsDefined("output") {
		cfg.Output = strings.ToLower(strings.TrimSpace(raw.Output))
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cliConfig{}, fmt.Errorf("load stackctl config: unknown key %q", undecoded[0].String())
	}

	return cfg, cfg.validate()
}

func (c cliConfig) validate() error {
	switch c.Output {
	case outputTable, outputPlain:
	default:
		return fmt.Errorf("output must be %s or %s, got %q", outputTable, outputPlain, c.Output)
	}
	if c.LogLevel != "" {
		if _, ok := logging.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("unknown log_level %q", c.LogLevel)
		}
	}
	return nil
}
