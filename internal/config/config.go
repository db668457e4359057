package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/protocol/cipher"
	"github.com/pelletier/go-toml/v2"
)

// ProfilesFile is the on-disk list of named server profiles.
type ProfilesFile struct {
	Default  string             `toml:"default"`
	Profiles map[string]Profile `toml:"profiles"`
}

// Profile describes how to reach and authenticate to one stack server.
type Profile struct {
	Address         string           `toml:"address"`
	Database        string           `toml:"database"`
	Root            bool             `toml:"root"`
	Cipher          string           `toml:"cipher"`
	MaxFrameSize    int              `toml:"max_frame_size"`
	ConnectTimeout  string           `toml:"connect_timeout"`
	ReadTimeout     string           `toml:"read_timeout"`
	WriteTimeout    string           `toml:"write_timeout"`
	ConnectAttempts int              `toml:"connect_attempts"`
	ProcedureCache  *int             `toml:"procedure_cache"`
	Credential      CredentialConfig `toml:"credential"`
}

// CredentialConfig names where the profile's secret lives. Source is one of none, static,
// env, file or keyring. For env and file, Value is the variable name or the path.
type CredentialConfig struct {
	Source         string `toml:"source"`
	Value          string `toml:"value"`
	KeyringService string `toml:"keyring_service"`
	KeyringKey     string `toml:"keyring_key"`
	KeyringBackend string `toml:"keyring_backend"`
	KeyringDir     string `toml:"keyring_dir"`
}

func LoadProfiles(path string) (ProfilesFile, error) {
	var cfg ProfilesFile
	if err := loadToml(path, &cfg); err != nil {
		return ProfilesFile{}, err
	}
	if cfg.Default == "" && len(cfg.Profiles) == 1 {
		for name := range cfg.Profiles {
			cfg.Default = name
		}
	}
	if err := ValidateProfiles(cfg); err != nil {
		return ProfilesFile{}, err
	}
	return cfg, nil
}

// Profile returns the named profile, or the default one when name is empty.
func (f ProfilesFile) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.Default
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found (have %s)", name, strings.Join(f.Names(), ", "))
	}
	return p, nil
}

// Names lists profile names in sorted order.
func (f ProfilesFile) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateProfiles(cfg ProfilesFile) error {
	if len(cfg.Profiles) == 0 {
		return fmt.Errorf("profiles config defines no profiles")
	}
	if cfg.Default != "" {
		if _, ok := cfg.Profiles[cfg.Default]; !ok {
			return fmt.Errorf("default profile %q is not defined", cfg.Default)
		}
	}
	for _, name := range cfg.Names() {
		if err := ValidateProfile(cfg.Profiles[name]); err != nil {
			return fmt.Errorf("profile %q invalid: %w", name, err)
		}
	}
	return nil
}

func ValidateProfile(p Profile) error {
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("address is required")
	}
	if strings.HasPrefix(strings.TrimSpace(p.Address), ":") {
		return fmt.Errorf("address needs a host")
	}
	if p.MaxFrameSize != 0 && (p.MaxFrameSize < protocol.MinFrameSize || p.MaxFrameSize > protocol.MaxFrameSize) {
		return fmt.Errorf("max_frame_size %d outside [%d,%d]", p.MaxFrameSize, protocol.MinFrameSize, protocol.MaxFrameSize)
	}
	if c := strings.TrimSpace(p.Cipher); c != "" {
		if _, err := cipher.Parse(strings.ToLower(c)); err != nil {
			return fmt.Errorf("cipher: %w", err)
		}
	}
	for key, d := range map[string]string{
		"connect_timeout": p.ConnectTimeout,
		"read_timeout":    p.ReadTimeout,
		"write_timeout":   p.WriteTimeout,
	} {
		if _, err := parseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if p.ConnectAttempts < 0 {
		return fmt.Errorf("connect_attempts must not be negative")
	}
	if p.ProcedureCache != nil && *p.ProcedureCache < 0 {
		return fmt.Errorf("procedure_cache must not be negative")
	}
	return ValidateCredential(p.Credential)
}

func ValidateCredential(c CredentialConfig) error {
	switch strings.ToLower(strings.TrimSpace(c.Source)) {
	case "", "none":
		return nil
	case "static":
		if c.Value == "" {
			return fmt.Errorf("static credential needs a value")
		}
	case "env":
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("env credential needs a variable name in value")
		}
	case "file":
		if strings.TrimSpace(c.Value) == "" {
			return fmt.Errorf("file credential needs a path in value")
		}
	case "keyring":
		if c.KeyringService == "" || c.KeyringKey == "" {
			return fmt.Errorf("keyring credential needs keyring_service and keyring_key")
		}
	default:
		return fmt.Errorf("unknown credential source %q", c.Source)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
