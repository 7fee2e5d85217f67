package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(testContext *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		testContext.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.Salt != defaultSalt {
		testContext.Fatalf("unexpected salt %q", cfg.Salt)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != defaultDatabasePath {
		testContext.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Database.Timeout != 5*time.Second {
		testContext.Fatalf("expected 5s timeout, got %s", cfg.Database.Timeout)
	}
	if cfg.StatsLocation != time.UTC {
		testContext.Fatalf("expected UTC stats location, got %v", cfg.StatsLocation)
	}
	if cfg.MaxPayloadBytes != 1<<20 {
		testContext.Fatalf("unexpected payload cap %d", cfg.MaxPayloadBytes)
	}
}

func TestLoadReadsEnvironment(testContext *testing.T) {
	testContext.Setenv("DEADDROP_IDENTITY_SALT", "pepper")
	testContext.Setenv("DEADDROP_DATABASE_DRIVER", "Postgres")
	testContext.Setenv("DEADDROP_DATABASE_HOST", "db.internal")
	testContext.Setenv("DEADDROP_DATABASE_TIMEOUT_MS", "250")

	cfg, err := Load(NewViper())
	if err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
	if cfg.Salt != "pepper" {
		testContext.Fatalf("expected salt from env, got %q", cfg.Salt)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.Host != "db.internal" {
		testContext.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.Timeout != 250*time.Millisecond {
		testContext.Fatalf("unexpected timeout %s", cfg.Database.Timeout)
	}
}

func TestLoadValidationFailures(testContext *testing.T) {
	testCases := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{name: "empty-salt", key: keyIdentitySalt, value: " ", wantErr: keyIdentitySalt},
		{name: "unknown-driver", key: keyDatabaseDriver, value: "mongo", wantErr: keyDatabaseDriver},
		{name: "missing-path", key: keyDatabasePath, value: "", wantErr: keyDatabasePath},
		{name: "zero-timeout", key: keyDatabaseTimeoutMS, value: 0, wantErr: keyDatabaseTimeoutMS},
		{name: "bad-timezone", key: keyStatsTimezone, value: "Mars/Olympus", wantErr: keyStatsTimezone},
		{name: "zero-payload-cap", key: keyDropMaxPayloadBytes, value: 0, wantErr: keyDropMaxPayloadBytes},
	}

	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(testContext *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)

			_, err := Load(configViper)
			if err == nil {
				testContext.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				testContext.Fatalf("expected error mentioning %s, got %v", testCase.wantErr, err)
			}
		})
	}
}
