package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "SELAH"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "selah.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 30
	defaultAuditSampleSize    = 100
	defaultAuditMismatchLimit = 10
)

// AppConfig captures runtime configuration for the sync API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	APISigningSecret   string
	TokenTTL           time.Duration
	AuditSampleSize    int
	AuditMismatchLimit int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("api.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("audit.counter_sample_size", defaultAuditSampleSize)
	configViper.SetDefault("audit.mismatch_limit", defaultAuditMismatchLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		APISigningSecret:   configViper.GetString("api.signing_secret"),
		TokenTTL:           time.Duration(configViper.GetInt("api.token_ttl_minutes")) * time.Minute,
		AuditSampleSize:    configViper.GetInt("audit.counter_sample_size"),
		AuditMismatchLimit: configViper.GetInt("audit.mismatch_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.APISigningSecret) == "" {
		return fmt.Errorf("api.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("api.token_ttl_minutes must be positive")
	}
	if c.AuditSampleSize <= 0 {
		return fmt.Errorf("audit.counter_sample_size must be positive")
	}
	if c.AuditMismatchLimit <= 0 {
		return fmt.Errorf("audit.mismatch_limit must be positive")
	}
	return nil
}
