package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCLIConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadCLIConfig(writeConfig(t, `
profiles = "/etc/stackwire/profiles.toml"
output = "PLAIN"
metrics_addr = " 127.0.0.1:9464 "
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ProfilesPath != "/etc/stackwire/profiles.toml" {
		t.Fatalf("unexpected profiles path: %q", cfg.ProfilesPath)
	}
	if cfg.Output != outputPlain {
		t.Fatalf("unexpected output: %q", cfg.Output)
	}
	if cfg.MetricsAddr != "127.0.0.1:9464" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level should keep its default, got %q", cfg.LogLevel)
	}
	if cfg.Profile != "" {
		t.Fatalf("unexpected profile: %q", cfg.Profile)
	}
}

func TestLoadCLIConfigEmptyProfilesKeepsDefault(t *testing.T) {
	cfg, err := loadCLIConfig(writeConfig(t, `profiles = "  "`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ProfilesPath != defaultCLIConfig().ProfilesPath {
		t.Fatalf("unexpected profiles path: %q", cfg.ProfilesPath)
	}
}

func TestLoadCLIConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"output", `output = "yaml"`, "output must be"},
		{"log level", `log_level = "chatty"`, "log_level"},
		{"unknown key", `colour = "always"`, "unknown key"},
		{"syntax", `output = `, "load stackctl config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadCLIConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadCLIConfigMissingFile(t *testing.T) {
	if _, err := loadCLIConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
