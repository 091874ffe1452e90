package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "NOTESYNC"
	defaultRerumPageSize   = 100
	defaultDatabaseConns   = 3
	defaultSyncInterval    = 30 * time.Second
	defaultSyncDirection   = "forward"
	defaultLogLevel        = "info"
	defaultOperatorSubject = "operator"
	defaultOperatorTTL     = 12 * time.Hour
	defaultUserCacheTTL    = 5 * time.Minute
	defaultRequestTimeout  = 30 * time.Second
)

// AppConfig captures runtime configuration for the sync engine.
type AppConfig struct {
	RerumBaseURL        string
	RerumToken          string
	RerumPageSize       int
	RerumTimeout        time.Duration
	DatabaseURL         string
	DatabaseMaxConns    int
	Apply               bool
	Full                bool
	Watch               bool
	Interval            time.Duration
	Direction           string
	LogLevel            string
	StatusAddress       string
	AllowedOrigins      []string
	OperatorSecret      string
	OperatorTokenTTL    time.Duration
	FirebaseCredentials string
	UserCacheTTL        time.Duration
}

// TokenConfig captures what the token subcommand needs.
type TokenConfig struct {
	OperatorSecret   string
	OperatorTokenTTL time.Duration
	Subject          string
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

	configViper.SetDefault("rerum.page_size", defaultRerumPageSize)
	configViper.SetDefault("rerum.timeout", defaultRequestTimeout)
	configViper.SetDefault("database.max_conns", defaultDatabaseConns)
	configViper.SetDefault("sync.apply", false)
	configViper.SetDefault("sync.full", false)
	configViper.SetDefault("sync.watch", false)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.direction", defaultSyncDirection)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("operator.token_ttl", defaultOperatorTTL)
	configViper.SetDefault("operator.subject", defaultOperatorSubject)
	configViper.SetDefault("users.cache_ttl", defaultUserCacheTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		RerumBaseURL:        strings.TrimSpace(configViper.GetString("rerum.base_url")),
		RerumToken:          strings.TrimSpace(configViper.GetString("rerum.token")),
		RerumPageSize:       configViper.GetInt("rerum.page_size"),
		RerumTimeout:        configViper.GetDuration("rerum.timeout"),
		DatabaseURL:         strings.TrimSpace(configViper.GetString("database.url")),
		DatabaseMaxConns:    configViper.GetInt("database.max_conns"),
		Apply:               configViper.GetBool("sync.apply"),
		Full:                configViper.GetBool("sync.full"),
		Watch:               configViper.GetBool("sync.watch"),
		Interval:            configViper.GetDuration("sync.interval"),
		Direction:           strings.ToLower(strings.TrimSpace(configViper.GetString("sync.direction"))),
		LogLevel:            configViper.GetString("log.level"),
		StatusAddress:       strings.TrimSpace(configViper.GetString("status.address")),
		AllowedOrigins:      splitList(configViper.GetStringSlice("status.allowed_origins")),
		OperatorSecret:      configViper.GetString("operator.secret"),
		OperatorTokenTTL:    configViper.GetDuration("operator.token_ttl"),
		FirebaseCredentials: strings.TrimSpace(configViper.GetString("firebase.credentials")),
		UserCacheTTL:        configViper.GetDuration("users.cache_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadToken parses the subset of configuration the token subcommand needs.
func LoadToken(configViper *viper.Viper) (TokenConfig, error) {
	cfg := TokenConfig{
		OperatorSecret:   configViper.GetString("operator.secret"),
		OperatorTokenTTL: configViper.GetDuration("operator.token_ttl"),
		Subject:          strings.TrimSpace(configViper.GetString("operator.subject")),
	}
	if strings.TrimSpace(cfg.OperatorSecret) == "" {
		return TokenConfig{}, fmt.Errorf("operator.secret is required")
	}
	if cfg.OperatorTokenTTL <= 0 {
		return TokenConfig{}, fmt.Errorf("operator.token_ttl must be positive")
	}
	if cfg.Subject == "" {
		return TokenConfig{}, fmt.Errorf("operator.subject is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.RerumBaseURL == "" {
		return fmt.Errorf("rerum.base_url is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.RerumPageSize <= 0 {
		return fmt.Errorf("rerum.page_size must be positive")
	}
	if c.DatabaseMaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be positive")
	}
	if c.Watch && c.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive in watch mode")
	}
	switch c.Direction {
	case "forward", "reverse", "both":
	default:
		return fmt.Errorf("sync.direction must be forward, reverse, or both")
	}
	if c.StatusAddress != "" && c.OperatorSecret != "" && c.OperatorTokenTTL <= 0 {
		return fmt.Errorf("operator.token_ttl must be positive")
	}
	return nil
}

// splitList accepts repeated values or a single comma separated env value.
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
