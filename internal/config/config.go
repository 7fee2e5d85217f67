package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "DEADDROP"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultSalt               = "a6891cca-3ea1-4f56-b3a8-1d77095a088e"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "deaddrop.db"
	defaultDatabaseHost       = "localhost"
	defaultDatabasePort       = 5432
	defaultDatabaseName       = "deaddrop"
	defaultDatabaseUser       = "deaddrop"
	defaultDatabaseTimeoutMS  = 5000
	defaultMaxPayloadBytes    = 1 << 20
	defaultStatsTimezone      = "UTC"
	defaultReportingPeriodMS  = 60000
	keyHTTPAddress            = "http.address"
	keyHTTPTrustedProxies     = "http.trusted_proxies"
	keyLogLevel               = "log.level"
	keyLogFormat              = "log.format"
	keyIdentitySalt           = "identity.salt"
	keyDatabaseDriver         = "database.driver"
	keyDatabasePath           = "database.path"
	keyDatabaseHost           = "database.host"
	keyDatabasePort           = "database.port"
	keyDatabaseName           = "database.name"
	keyDatabaseUser           = "database.user"
	keyDatabasePassword       = "database.password"
	keyDatabaseTimeoutMS      = "database.timeout_ms"
	keyDropMaxPayloadBytes    = "drop.max_payload_bytes"
	keyStatsTimezone          = "stats.timezone"
	keyMetricsReportingPeriod = "metrics.reporting_period_ms"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig describes how to reach the document store.
type DatabaseConfig struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	Timeout  time.Duration
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress            string
	TrustedProxies         []string
	LogLevel               string
	LogFormat              string
	Salt                   string
	Database               DatabaseConfig
	MaxPayloadBytes        int64
	StatsLocation          *time.Location
	MetricsReportingPeriod time.Duration
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

	configViper.SetDefault(keyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(keyHTTPTrustedProxies, []string{})
	configViper.SetDefault(keyLogLevel, defaultLogLevel)
	configViper.SetDefault(keyLogFormat, defaultLogFormat)
	configViper.SetDefault(keyIdentitySalt, defaultSalt)
	configViper.SetDefault(keyDatabaseDriver, defaultDatabaseDriver)
	configViper.SetDefault(keyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(keyDatabaseHost, defaultDatabaseHost)
	configViper.SetDefault(keyDatabasePort, defaultDatabasePort)
	configViper.SetDefault(keyDatabaseName, defaultDatabaseName)
	configViper.SetDefault(keyDatabaseUser, defaultDatabaseUser)
	configViper.SetDefault(keyDatabasePassword, "")
	configViper.SetDefault(keyDatabaseTimeoutMS, defaultDatabaseTimeoutMS)
	configViper.SetDefault(keyDropMaxPayloadBytes, defaultMaxPayloadBytes)
	configViper.SetDefault(keyStatsTimezone, defaultStatsTimezone)
	configViper.SetDefault(keyMetricsReportingPeriod, defaultReportingPeriodMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	timezone := strings.TrimSpace(configViper.GetString(keyStatsTimezone))
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return AppConfig{}, fmt.Errorf("%s %q is invalid: %w", keyStatsTimezone, timezone, err)
	}

	cfg := AppConfig{
		HTTPAddress:    configViper.GetString(keyHTTPAddress),
		TrustedProxies: configViper.GetStringSlice(keyHTTPTrustedProxies),
		LogLevel:       configViper.GetString(keyLogLevel),
		LogFormat:      configViper.GetString(keyLogFormat),
		Salt:           configViper.GetString(keyIdentitySalt),
		Database: DatabaseConfig{
			Driver:   strings.ToLower(strings.TrimSpace(configViper.GetString(keyDatabaseDriver))),
			Path:     configViper.GetString(keyDatabasePath),
			Host:     configViper.GetString(keyDatabaseHost),
			Port:     configViper.GetInt(keyDatabasePort),
			Name:     configViper.GetString(keyDatabaseName),
			User:     configViper.GetString(keyDatabaseUser),
			Password: configViper.GetString(keyDatabasePassword),
			Timeout:  time.Duration(configViper.GetInt(keyDatabaseTimeoutMS)) * time.Millisecond,
		},
		MaxPayloadBytes:        configViper.GetInt64(keyDropMaxPayloadBytes),
		StatsLocation:          location,
		MetricsReportingPeriod: time.Duration(configViper.GetInt(keyMetricsReportingPeriod)) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("%s is required", keyHTTPAddress)
	}
	if strings.TrimSpace(c.Salt) == "" {
		return fmt.Errorf("%s is required", keyIdentitySalt)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("%s must be positive", keyDropMaxPayloadBytes)
	}
	return c.Database.validate()
}

func (c DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("%s is required for the %s driver", keyDatabasePath, DriverSQLite)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Host) == "" {
			return fmt.Errorf("%s is required for the %s driver", keyDatabaseHost, DriverPostgres)
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("%s %d is out of range", keyDatabasePort, c.Port)
		}
	default:
		return fmt.Errorf("%s %q is not supported", keyDatabaseDriver, c.Driver)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", keyDatabaseTimeoutMS)
	}
	return nil
}
