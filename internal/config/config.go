// Package config loads Lunaricorn service configuration from a YAML file on
// disk, then overlays it with environment variables. Environment variables
// win over the file whenever they are set, per spec §6.4.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DBConfig holds the relational store connection parameters shared by every
// service. Field names match the environment variables named in spec §6.4.
//
// Note the deliberate absence of `envDefault` tags: defaults are applied by
// DefaultDBConfig before the YAML file is loaded, the same "config file
// first, falling back to a hardcoded default" order the original
// leader/signaling services used (`self.config.get(key, default)`). An
// `envDefault` tag would make caarlos0/env re-apply its default over a value
// already loaded from YAML whenever the environment variable is unset,
// which would invert the precedence spec §6.4 requires.
type DBConfig struct {
	Type     string `yaml:"db_type" env:"db_type"`
	Host     string `yaml:"db_host" env:"db_host"`
	Port     int    `yaml:"db_port" env:"db_port"`
	User     string `yaml:"db_user" env:"db_user"`
	Password string `yaml:"db_password" env:"db_password"`
	Name     string `yaml:"dbname" env:"db_name"`
}

// DefaultDBConfig returns the hardcoded fallback values used when neither the
// YAML file nor the environment supply a setting.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Type:     "postgresql",
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Name:     "lunaricorn",
	}
}

// ConnString builds a libpq-style connection URL from the config.
func (c DBConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// Valid reports whether all required fields are populated.
func (c DBConfig) Valid() bool {
	return c.Type != "" && c.Host != "" && c.Port != 0 && c.User != "" && c.Password != "" && c.Name != ""
}

// LoadYAMLThenEnv reads a YAML document from path into dst, then re-parses
// env tags on dst so that any environment variable that is set overrides
// the value loaded from the file. dst must be a pointer to a struct whose
// fields carry both `yaml` and `env` tags.
//
// A missing file is not an error: dst keeps its zero value (or whatever the
// caller pre-populated) and only the environment overlay runs.
func LoadYAMLThenEnv(path string, dst any) error {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, dst); err != nil {
				return fmt.Errorf("parsing yaml config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// no file — env vars and defaults carry the config.
		default:
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := env.Parse(dst); err != nil {
		return fmt.Errorf("applying env overrides: %w", err)
	}
	return nil
}
