package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/stackwire/internal/auth"
	"github.com/danmuck/stackwire/internal/protocol/session"
	"github.com/danmuck/stackwire/internal/stack"
)

// CredentialSource builds the auth source a profile names. It returns nil for profiles
// without a credential.
func (p Profile) CredentialSource() (auth.Source, error) {
	c := p.Credential
	switch strings.ToLower(strings.TrimSpace(c.Source)) {
	case "", "none":
		return nil, nil
	case "static":
		return auth.Static(c.Value), nil
	case "env":
		return auth.Env(strings.TrimSpace(c.Value)), nil
	case "file":
		path := strings.TrimSpace(c.Value)
		return auth.Func(func() ([]byte, error) {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read credential file: %w", err)
			}
			secret := bytes.TrimRight(raw, "\r\n")
			if len(secret) == 0 {
				return nil, fmt.Errorf("%w: %s is empty", auth.ErrNoCredential, path)
			}
			return secret, nil
		}), nil
	case "keyring":
		ring, err := auth.OpenKeyring(auth.KeyringConfig{
			Service:  c.KeyringService,
			Key:      c.KeyringKey,
			Backend:  c.KeyringBackend,
			FileDir:  c.KeyringDir,
			Password: c.Value,
		})
		if err != nil {
			return nil, err
		}
		return ring, nil
	}
	return nil, fmt.Errorf("unknown credential source %q", c.Source)
}

// SessionConfig converts the profile into a session config, resolving the credential.
func (p Profile) SessionConfig() (session.Config, error) {
	cfg := session.DefaultConfig()
	cfg.Address = strings.TrimSpace(p.Address)
	cfg.Database = p.Database
	cfg.Root = p.Root
	cfg.Cipher = p.Cipher
	if p.MaxFrameSize != 0 {
		cfg.MaxFrameSize = p.MaxFrameSize
	}
	if p.ConnectAttempts != 0 {
		cfg.MaxConnectAttempts = p.ConnectAttempts
	}
	var err error
	if d, _ := parseDuration(p.ConnectTimeout); d > 0 {
		cfg.ConnectTimeout = d
	}
	if cfg.ReadTimeout, err = parseDuration(p.ReadTimeout); err != nil {
		return session.Config{}, fmt.Errorf("read_timeout: %w", err)
	}
	if cfg.WriteTimeout, err = parseDuration(p.WriteTimeout); err != nil {
		return session.Config{}, fmt.Errorf("write_timeout: %w", err)
	}

	src, err := p.CredentialSource()
	if err != nil {
		return session.Config{}, err
	}
	if src != nil {
		if cfg.Credential, err = src.Credential(); err != nil {
			return session.Config{}, err
		}
	}
	return cfg, nil
}

func (p Profile) StackConfig() stack.Config {
	cfg := stack.DefaultConfig()
	if p.ProcedureCache != nil {
		cfg.ProcedureCacheSize = *p.ProcedureCache
	}
	return cfg
}
