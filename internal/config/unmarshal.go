package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgellow/oauth-signin/internal/envutil"
)

// ParseConfigValue resolves a config value that is either a plain string or
// an {"$env": "VAR_NAME"} reference.
//
// The explicit JSON syntax is used instead of $VAR substitution so that a
// shell never expands the value before the config is parsed.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	return resolveEnv(envVar)
}

func resolveEnv(envVar string) (string, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// UnmarshalJSON requires secrets to be {"$env": ...} references. Plain
// strings are only accepted in development mode.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "" && !envutil.IsDev() {
			return fmt.Errorf("secret must use {\"$env\": \"VAR_NAME\"} reference")
		}
		*s = Secret(str)
		return nil
	}

	value, err := ParseConfigValue(data)
	if err != nil {
		return err
	}
	*s = Secret(value)
	return nil
}

// UnmarshalJSON parses a duration string such as "15m" or "250ms".
func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	if str == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(str)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", str, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for ProviderConfig so that the
// client id may come from an environment reference.
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	// Alias drops the method set to avoid recursion
	type alias ProviderConfig
	var raw struct {
		alias
		ClientIDRaw json.RawMessage `json:"clientId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = ProviderConfig(raw.alias)
	p.ClientID = ""
	if raw.ClientIDRaw != nil {
		clientID, err := ParseConfigValue(raw.ClientIDRaw)
		if err != nil {
			return fmt.Errorf("parsing clientId: %w", err)
		}
		p.ClientID = clientID
	}
	return nil
}
