package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "profiles":
		return profilesTemplate, nil
	case "stackctl":
		return stackctlTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const profilesTemplate = `default = "local"

[profiles.local]
address = "127.0.0.1:7400"
database = "main"
cipher = "plain"
max_frame_size = 4096
connect_timeout = "5s"
read_timeout = "30s"
write_timeout = "30s"
connect_attempts = 3
procedure_cache = 64

# source is none, static, env, file or keyring; value names the variable or the path.
[profiles.local.credential]
source = "env"
value = "STACKWIRE_PASSWORD"

[profiles.secure]
address = "db.internal:7400"
database = "main"
cipher = "3des"
connect_attempts = 5

[profiles.secure.credential]
source = "keyring"
keyring_service = "stackwire"
keyring_key = "secure"
`

const stackctlTemplate = `profiles = "profiles.toml"
profile = ""
output = "table"
log_level = "info"
metrics_addr = ""
`
