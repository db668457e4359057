// Package auth resolves session credentials and checks them on the serving side.
//
// It intentionally avoids policy decisions: a Source says where a secret lives, a
// Validator says whether a presented secret matches.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrNoCredential = errors.New("auth: no credential")
)

// Source yields the credential a session authenticates with: the plain password or the
// shared cipher key.
type Source interface {
	Credential() ([]byte, error)
}

// Static is a credential held in memory.
type Static []byte

func (s Static) Credential() ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrNoCredential
	}
	return append([]byte(nil), s...), nil
}

// Env reads the credential from the named environment variable.
type Env string

func (e Env) Credential() ([]byte, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: $%s is unset", ErrNoCredential, string(e))
	}
	return []byte(v), nil
}

// Func adapts a function into a Source.
type Func func() ([]byte, error)

func (f Func) Credential() ([]byte, error) {
	return f()
}

// KeyringConfig selects an OS credential store entry.
type KeyringConfig struct {
	Service string
	Key     string
	// Backend is empty for the platform default or "file" for an encrypted directory,
	// which also works on headless hosts.
	Backend  string
	FileDir  string
	Password string
}

// Keyring reads credentials from an OS keyring entry.
type Keyring struct {
	ring keyring.Keyring
	key  string
}

func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	if cfg.Service == "" || cfg.Key == "" {
		return nil, errors.New("auth: keyring needs a service and a key")
	}
	kc := keyring.Config{ServiceName: cfg.Service}
	switch strings.ToLower(cfg.Backend) {
	case "":
	case "file":
		kc.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
		kc.FileDir = cfg.FileDir
		kc.FilePasswordFunc = keyring.FixedStringPrompt(cfg.Password)
	default:
		return nil, fmt.Errorf("auth: unknown keyring backend %q", cfg.Backend)
	}
	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("auth: open keyring %s: %w", cfg.Service, err)
	}
	return &Keyring{ring: ring, key: cfg.Key}, nil
}

func (k *Keyring) Credential() ([]byte, error) {
	item, err := k.ring.Get(k.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: keyring entry %q", ErrNoCredential, k.key)
	}
	if err != nil {
		return nil, fmt.Errorf("auth: keyring entry %q: %w", k.key, err)
	}
	if len(item.Data) == 0 {
		return nil, fmt.Errorf("%w: keyring entry %q is empty", ErrNoCredential, k.key)
	}
	return item.Data, nil
}

// Store writes secret under the configured key.
func (k *Keyring) Store(secret []byte) error {
	return k.ring.Set(keyring.Item{Key: k.key, Label: "stackwire " + k.key, Data: secret})
}

func (k *Keyring) Remove() error {
	return k.ring.Remove(k.key)
}

// Validator checks a presented credential.
type Validator interface {
	Validate(credential []byte) error
}

// StaticToken accepts exactly one shared secret. An empty token accepts nothing.
type StaticToken []byte

func (s StaticToken) Validate(credential []byte) error {
	if len(s) == 0 {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(s, credential) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(credential []byte) error

func (f FuncValidator) Validate(credential []byte) error {
	return f(credential)
}
