// Package config loads the progress-sync agent configuration from flags and
// PROGRESS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix for environment overrides, e.g. PROGRESS_STORE_BACKEND.
const EnvPrefix = "PROGRESS"

type StoreConfig struct {
	Backend     string `mapstructure:"backend" json:"backend" validate:"oneof=memory file sqlite redis postgres"`
	Path        string `mapstructure:"path" json:"path" validate:"required_if=Backend file,required_if=Backend sqlite"`
	RedisURL    string `mapstructure:"redis_url" json:"redis_url" validate:"required_if=Backend redis"`
	DatabaseURL string `mapstructure:"database_url" json:"database_url" validate:"required_if=Backend postgres"`
	Key         string `mapstructure:"key" json:"key" validate:"required"`
}

type Config struct {
	APIBaseURL  string        `mapstructure:"api_base_url" json:"api_base_url" validate:"required,url"`
	Token       string        `mapstructure:"token" json:"token"`
	TokenFile   string        `mapstructure:"token_file" json:"token_file"`
	Store       StoreConfig   `mapstructure:"store" json:"store"`
	NATSURL     string        `mapstructure:"nats_url" json:"nats_url"`
	LogLevel    string        `mapstructure:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" json:"http_timeout" validate:"gt=0"`
	Breaker     struct {
		Enabled bool `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"breaker" json:"breaker"`
}

// FlagSet returns the global flags. Parsing stops at the first positional
// argument so subcommands can own the rest of the command line.
func FlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.String("api_base_url", "", "progress API base URL (required), eg. https://api.example.com")
	fs.String("token", "", "bearer token; empty means signed out unless token_file is set")
	fs.String("token_file", "", "file holding the bearer token, read on every request")
	fs.String("nats_url", "", "publish sync events to NATS when set")
	fs.String("log_level", "info", "logging level")
	fs.Duration("http_timeout", 10*time.Second, "timeout for a single API request")
	fs.Bool("breaker.enabled", false, "fail fast while the API keeps failing")

	fs.String("store.backend", "file", "snapshot backend: memory, file, sqlite, redis or postgres")
	fs.String("store.path", "progress.json", "snapshot path for the file and sqlite backends")
	fs.String("store.redis_url", "", "redis url for the redis backend")
	fs.String("store.database_url", "", "postgres url for the postgres backend")
	fs.String("store.key", "user_progress", "snapshot key for shared backends")
	return fs
}

// Load parses args with fs, applies environment overrides and validates the
// result. It returns the positional arguments left after the global flags.
func Load(fs *pflag.FlagSet, args []string) (*Config, []string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

func normalize(cfg *Config) {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.TokenFile = strings.TrimSpace(cfg.TokenFile)
	cfg.NATSURL = strings.TrimSpace(cfg.NATSURL)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	cfg.Store.Key = strings.TrimSpace(cfg.Store.Key)
}

func validate(cfg *Config) error {
	vd := validator.New()
	vd.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	err := vd.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msg := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		ns := fe.Namespace()
		field := ns[strings.IndexByte(ns, '.')+1:]
		switch fe.Tag() {
		case "required", "required_if":
			msg = append(msg, fmt.Sprintf("%s is required", field))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", field, fe.Param()))
		case "url":
			msg = append(msg, fmt.Sprintf("%s must be an absolute url", field))
		default:
			msg = append(msg, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config:\n%s", strings.Join(msg, "\n"))
}
