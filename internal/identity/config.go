package identity

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the identity-provider configuration object. It is supplied
// pre-serialized, as JSON or YAML, by the deployment environment.
type Config struct {
	ProjectID  string        `yaml:"projectId"`
	SigningKey string        `yaml:"signingKey"`
	SessionTTL time.Duration `yaml:"sessionTTL"`
}

// ParseConfig decodes raw. Empty input yields the zero Config, under which
// only anonymous sign-in is available.
func ParseConfig(raw string) (Config, error) {
	var cfg Config
	if raw == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse identity config: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether custom-token sign-in is possible.
func (c Config) Enabled() bool {
	return c.SigningKey != ""
}
