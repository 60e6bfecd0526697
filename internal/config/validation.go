package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateDocument(data), nil
}

// ValidateDocument is ValidateFile over an in-memory document.
func ValidateDocument(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", SupportedVersion)
	} else if version != SupportedVersion {
		result.addError("version", "unsupported version '%s' - use '%s'", version, SupportedVersion)
	}

	validateProviderStructure(rawConfig, result)
	validateHandshakeStructure(rawConfig, result)
	validateReplayStructure(rawConfig, result)

	return result
}

func validateProviderStructure(rawConfig map[string]any, result *ValidationResult) {
	provider, ok := rawConfig["provider"].(map[string]any)
	if !ok {
		result.addError("provider", "provider field is required and must be an object")
		return
	}

	providerType, _ := provider["type"].(string)
	if _, known := presets[ProviderType(providerType)]; !known {
		result.addError("provider.type", "unknown provider type '%s' - use github, google, facebook, oidc or oauth2", providerType)
	}

	if _, ok := provider["clientId"]; !ok {
		result.addError("provider.clientId", "clientId is required")
	}
	if secret, ok := provider["clientSecret"]; !ok {
		result.addError("provider.clientSecret", "clientSecret is required")
	} else if err := validateEnvVarReference(secret, "provider.clientSecret"); err != nil {
		result.Errors = append(result.Errors, *err)
	}

	if path, ok := provider["callbackPath"].(string); ok {
		if err := ValidateCallbackPath(path); err != nil {
			result.addError("provider.callbackPath", "%v", err)
		}
	}

	if proof, ok := provider["sendSecretProof"].(bool); ok && !proof && providerType == string(ProviderFacebook) {
		result.addWarning("provider.sendSecretProof", "facebook apps that require appsecret_proof will reject profile requests without it")
	}
}

func validateHandshakeStructure(rawConfig map[string]any, result *ValidationResult) {
	handshake, ok := rawConfig["handshake"].(map[string]any)
	if !ok {
		result.addError("handshake", "handshake field is required and must be an object")
		return
	}

	if key, ok := handshake["stateKey"]; !ok {
		result.addError("handshake.stateKey", "stateKey is required")
	} else if err := validateEnvVarReference(key, "handshake.stateKey"); err != nil {
		result.Errors = append(result.Errors, *err)
	}

	for _, field := range []string{"stateTtl", "sessionTtl", "backchannelTimeout", "retryInitialInterval"} {
		value, ok := handshake[field]
		if !ok {
			continue
		}
		str, isString := value.(string)
		if !isString {
			result.addError("handshake."+field, "must be a duration string like \"15m\"")
			continue
		}
		d, err := time.ParseDuration(str)
		if err != nil {
			result.addError("handshake."+field, "invalid duration '%s'", str)
			continue
		}
		if d < 0 {
			result.addError("handshake."+field, "cannot be negative")
		}
	}

	if ttl, ok := handshake["stateTtl"].(string); ok {
		if d, err := time.ParseDuration(ttl); err == nil && d > time.Hour {
			result.addWarning("handshake.stateTtl", "state tokens valid for more than an hour widen the replay window")
		}
	}
}

func validateReplayStructure(rawConfig map[string]any, result *ValidationResult) {
	replay, ok := rawConfig["replay"].(map[string]any)
	if !ok {
		return
	}
	store, _ := replay["store"].(string)
	switch ReplayStoreKind(store) {
	case "", ReplayStoreMemory:
	case ReplayStoreNone:
		result.addWarning("replay.store", "state nonces are not tracked; a captured callback URL can be replayed until the state expires")
	case ReplayStoreRedis:
		if _, ok := replay["redisAddr"]; !ok {
			result.addError("replay.redisAddr", "redisAddr is required for redis store")
		}
	default:
		result.addError("replay.store", "unknown store '%s' - use none, memory or redis", store)
	}
}

// validateEnvVarReference checks that a secret uses the {"$env": ...} form
func validateEnvVarReference(value any, path string) *ValidationError {
	if _, isString := value.(string); isString {
		return &ValidationError{
			Path:    path,
			Message: "must use environment variable reference for security. Hint: {\"$env\": \"VAR_NAME\"}",
		}
	}
	refMap, isMap := value.(map[string]any)
	if !isMap {
		return &ValidationError{Path: path, Message: "must be an environment variable reference"}
	}
	if _, hasEnv := refMap["$env"]; !hasEnv {
		return &ValidationError{Path: path, Message: "must use {\"$env\": \"VAR_NAME\"} format"}
	}
	return nil
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		// Skip if this is already an env ref
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
