// Package config loads the process-wide options named in spec §6
// ("Configuration (recognized options)") shared by the standalone query,
// schema-coordinator, and OpAMP binaries. It follows the same shape as
// exporter/pgstoreexporter/config.go: a mapstructure-tagged struct, a
// Validate method that fills defaults, and an applyEnvironmentOverrides
// pass — generalized here from one component's config to the whole
// process's, and from manual struct literals to a YAML file on disk since a
// standalone binary has no otelcol confmap resolver doing that for it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/ollyscale/core/internal/opamp"
	"github.com/ollyscale/core/internal/queryapi"
	"github.com/ollyscale/core/internal/querysvc"
	"github.com/ollyscale/core/internal/retention"
	"github.com/ollyscale/core/internal/schema"
	"github.com/ollyscale/core/internal/store/postgres"
)

// Config is the root configuration document for the query server, schema
// coordinator, and OpAMP coordinator binaries (spec §6). Each binary reads
// only the sections it needs. Every field reuses the same `mapstructure`
// tags its owning package already declares on its own Config type, decoded
// here with the real `mapstructure` package instead of just documenting the
// tag shape — the ambient stack's "mapstructure-tagged Config structs"
// convention gets actual decode semantics at the one place a YAML file
// meets these structs.
type Config struct {
	Database  postgres.Config  `mapstructure:"database"`
	Query     querysvc.Config  `mapstructure:"query"`
	API       queryapi.Config  `mapstructure:"api"`
	Schema    schema.Config    `mapstructure:"schema"`
	OpAMP     opamp.Config     `mapstructure:"opamp"`
	// Retention configures the background worker that purges rows older
	// than its horizon (spec §6 `retention.horizon`).
	Retention retention.Config `mapstructure:"retention"`
}

// Validate fills every section's defaults via its own Validate method.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Query.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Schema.Validate(); err != nil {
		return err
	}
	if err := c.OpAMP.Validate(); err != nil {
		return err
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	return nil
}

// applyEnvironmentOverrides mirrors exporter/pgstoreexporter's pattern:
// well-known OLLYSCALE_* variables win over file-provided values, applied
// once right after the file is parsed and before Validate fills defaults.
func (c *Config) applyEnvironmentOverrides() error {
	if url := strings.TrimSpace(os.Getenv("OLLYSCALE_DATABASE_URL")); url != "" {
		c.Database.URL = url
	}
	if v := strings.TrimSpace(os.Getenv("OLLYSCALE_API_ADDR")); v != "" {
		c.API.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLYSCALE_QUERY_DEADLINE")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid OLLYSCALE_QUERY_DEADLINE %q: %w", v, err)
		}
		c.Query.Deadline = d
	}
	if v := strings.TrimSpace(os.Getenv("OLLYSCALE_RETENTION_HORIZON")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid OLLYSCALE_RETENTION_HORIZON %q: %w", v, err)
		}
		c.Retention.Horizon = d
	}
	return nil
}

// Load reads path as YAML into a generic document, decodes it into a Config
// via `mapstructure` (so every nested Config's `mapstructure` tags and
// duration-string fields behave the same way they do inside the otelcol
// factories that read them), applies environment overrides, then validates
// and fills defaults. An empty path is valid: it yields a Config built
// entirely from environment variables and defaults, useful for container
// deployments that configure purely via env.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return cfg, fmt.Errorf("failed to build config decoder: %w", err)
		}
		if err := decoder.Decode(raw); err != nil {
			return cfg, fmt.Errorf("failed to decode config file %q: %w", path, err)
		}
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
