// Package config reads process settings for the sandproxy binaries from
// SANDPROXY_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"warn"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`

	// Policy is a comma separated list of policy files, layered in order.
	Policy string `envconfig:"POLICY"`

	Addr string `envconfig:"ADDR" default:":8080"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("sandproxy", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// PolicyFiles splits Policy into paths, dropping empty entries.
func (c *Config) PolicyFiles() []string {
	var out []string
	for _, p := range strings.Split(c.Policy, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
