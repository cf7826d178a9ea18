// Package config loads gateway settings from defaults, a config file, the
// environment (GQLINPUT_*) and bound command-line flags, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GQLINPUT_SERVER_ADDR.
const EnvPrefix = "GQLINPUT"

type Config struct {
	Server  Server  `mapstructure:"server"`
	GraphQL GraphQL `mapstructure:"graphql"`
	OTel    OTel    `mapstructure:"otel"`
	Log     Log     `mapstructure:"log"`
}

type Server struct {
	Addr            string        `mapstructure:"addr"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Pretty          bool          `mapstructure:"pretty"`
	MaxBodyBytes    int64         `mapstructure:"max-body-bytes"`
	MetadataHeaders []string      `mapstructure:"metadata-headers"`
	CORSOrigins     []string      `mapstructure:"cors-origins"`

	// RequestIDAsExecutionID lets the correlation id stand in for the
	// execution id when no contribution assigns one.
	RequestIDAsExecutionID bool `mapstructure:"request-id-as-execution-id"`
}

type GraphQL struct {
	Schema    string `mapstructure:"schema"`
	Data      string `mapstructure:"data"`
	CacheSize int    `mapstructure:"cache-size"`

	Introspection bool `mapstructure:"introspection"`
}

type OTel struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                   ":8080",
			Timeout:                10 * time.Second,
			MaxBodyBytes:           1 << 20,
			RequestIDAsExecutionID: true,
		},
		GraphQL: GraphQL{CacheSize: 256, Introspection: true},
		OTel:    OTel{Service: "gqlinput"},
		Log:     Log{Level: "info"},
	}
}

// SetDefaults registers every key with v so environment lookups and flag
// bindings resolve.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.pretty", d.Server.Pretty)
	v.SetDefault("server.max-body-bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.metadata-headers", d.Server.MetadataHeaders)
	v.SetDefault("server.cors-origins", d.Server.CORSOrigins)
	v.SetDefault("server.request-id-as-execution-id", d.Server.RequestIDAsExecutionID)
	v.SetDefault("graphql.schema", d.GraphQL.Schema)
	v.SetDefault("graphql.data", d.GraphQL.Data)
	v.SetDefault("graphql.cache-size", d.GraphQL.CacheSize)
	v.SetDefault("graphql.introspection", d.GraphQL.Introspection)
	v.SetDefault("otel.endpoint", d.OTel.Endpoint)
	v.SetDefault("otel.service", d.OTel.Service)
	v.SetDefault("log.level", d.Log.Level)
}

// Load resolves the configuration held by v. When file is non-empty it is
// read first and must exist.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that cannot be served.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout must not be negative"))
	}
	if c.GraphQL.CacheSize <= 0 {
		errs = append(errs, errors.New("graphql.cache-size must be positive"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}
