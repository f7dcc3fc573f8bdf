package config

import (
	"os"
)

// EnvironmentExpander expands environment variable placeholders within raw configuration data.
type EnvironmentExpander interface {
	// Expand replaces ${VAR} or $VAR placeholders in input.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders using os.ExpandEnv.
// Unset variables expand to an empty string, unless a default is given as ${VAR:-default}.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand implements EnvironmentExpander. It never returns an error.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	expanded := os.Expand(string(input), func(key string) string {
		name, def, hasDefault := cutDefault(key)
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
	return []byte(expanded), nil
}

func cutDefault(key string) (name, def string, ok bool) {
	for i := 0; i+1 < len(key); i++ {
		if key[i] == ':' && key[i+1] == '-' {
			return key[:i], key[i+2:], true
		}
	}
	return key, "", false
}
