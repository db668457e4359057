package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/stackwire/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "prefix denied", stored: "abc", input: "ab", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := StaticToken(tc.stored).Validate([]byte(tc.input))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			log.Debug().Err(err).Msg("auth/static-token: result")
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(credential []byte) error {
		if string(credential) != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate([]byte("bad")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad credential, got %v", err)
	}
	if err := validator.Validate([]byte("ok")); err != nil {
		t.Fatalf("expected success for ok credential, got %v", err)
	}
}

func TestStaticAndEnvSources(t *testing.T) {
	testlog.Start(t)
	if _, err := Static(nil).Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("empty static err=%v", err)
	}
	got, err := Static("pw").Credential()
	if err != nil || string(got) != "pw" {
		t.Fatalf("static=%q err=%v", got, err)
	}

	t.Setenv("STACKWIRE_TEST_SECRET", "from-env")
	got, err = Env("STACKWIRE_TEST_SECRET").Credential()
	if err != nil || string(got) != "from-env" {
		t.Fatalf("env=%q err=%v", got, err)
	}
	if _, err := Env("STACKWIRE_TEST_UNSET_SECRET").Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("unset env err=%v", err)
	}

	var src Source = Func(func() ([]byte, error) { return []byte("fn"), nil })
	if got, _ := src.Credential(); string(got) != "fn" {
		t.Fatalf("func=%q", got)
	}
}

func TestFileKeyringRoundTrip(t *testing.T) {
	testlog.Start(t)
	cfg := KeyringConfig{
		Service:  "stackwire-test",
		Key:      "profile.local",
		Backend:  "file",
		FileDir:  t.TempDir(),
		Password: "unlock",
	}
	ring, err := OpenKeyring(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ring.Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("missing entry err=%v", err)
	}
	if err := ring.Store([]byte("s3cret")); err != nil {
		t.Fatalf("store: %v", err)
	}

	reopened, err := OpenKeyring(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Credential()
	if err != nil || string(got) != "s3cret" {
		t.Fatalf("credential=%q err=%v", got, err)
	}
	if err := reopened.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reopened.Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("removed entry err=%v", err)
	}
}

func TestOpenKeyringRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := OpenKeyring(KeyringConfig{Key: "k"}); err == nil {
		t.Fatalf("expected error without service")
	}
	if _, err := OpenKeyring(KeyringConfig{Service: "s", Key: "k", Backend: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
