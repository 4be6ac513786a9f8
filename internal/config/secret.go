package config

// Secret is a string type that redacts itself when printed, logged or
// marshaled, used for exchange API keys/secrets in Config.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString redacts secrets under %#v formatting too.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalYAML ensures secrets are redacted when marshaled to YAML, e.g. by
// Config.String().
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}
