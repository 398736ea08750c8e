// Package config loads the route-table/runtime configuration (C9) from a
// .env-style file layered under process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ReplicationTarget is one declared DATABASE_{n} entry.
type ReplicationTarget struct {
	ConnString string
	Tables     []string // empty means "all tables"
}

// Config holds every key named in the external-interfaces table.
type Config struct {
	Host       string
	Port       int
	ServerName string

	DBPath string
	DBName string

	PeriodicBackupPath string
	PeriodicBackupName string
	BackupInterval     time.Duration

	ReplicationEnabled bool
	Targets            []ReplicationTarget

	TokenMode       string
	TokenIssuer     string
	TokenAudience   string
	TokenTTLSeconds int64
	PasetoKeyHex    string
	StaticAccessToken string

	CookieSecure bool
	CookieDomain string

	CORSRulesPath string
}

// Load reads an optional .env file (via godotenv, non-fatal if absent)
// into the process environment, then layers a koanf environment-variable
// provider on top and populates Config from the literal key names listed
// in the external-interfaces table.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", envFilePath, err)
		}
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{
		Host:       getString(k, "HOST", "0.0.0.0"),
		Port:       getInt(k, "PORT", 8080),
		ServerName: getString(k, "SERVER_NAME", "quoteflow"),

		DBPath: getString(k, "DB_PATH", "./data/kv"),
		DBName: getString(k, "DB_NAME", "quoteflow"),

		PeriodicBackupPath: getString(k, "PERIODIC_BACKUP_PATH", "./data/snapshots"),
		PeriodicBackupName: getString(k, "PERIODIC_BACKUP_NAME", "snapshot_{{timestamp}}"),

		ReplicationEnabled: strings.EqualFold(getString(k, "DATABASE_SYNC_ON_OFF", "off"), "on"),

		TokenMode:         getString(k, "TOKEN_JWT_HMAC_OR_PURE_PASSETO_NOTJWT", "hmac"),
		TokenIssuer:       getString(k, "TOKEN_ISS", "quoteflow"),
		TokenAudience:     getString(k, "TOKEN_AUD", "quoteflow-api"),
		TokenTTLSeconds:   int64(getInt(k, "TOKEN_TTL_SECONDS", 900)),
		PasetoKeyHex:      getString(k, "PASETO_V4_LOCAL_KEY_HEX", ""),
		StaticAccessToken: getString(k, "ACCESS_TOKEN", ""),

		CookieSecure: getBool(k, "COOKIE_SECURE", true),
		CookieDomain: getString(k, "COOKIE_DOMAIN", ""),

		CORSRulesPath: getString(k, "CORS_RULES_PATH", ""),
	}

	interval, err := parseBackupInterval(getString(k, "PERIODIC_BACKUP_DB", "1h"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.BackupInterval = interval

	cfg.Targets = parseTargets(k)

	return cfg, nil
}

// parseBackupInterval accepts the spec's `Ns`/`Nm`/`Nh` shorthand by
// delegating to time.ParseDuration, which already supports that suffix
// vocabulary directly.
func parseBackupInterval(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid PERIODIC_BACKUP_DB %q: %w", raw, err)
	}
	return d, nil
}

// parseTargets scans DATABASE_{n}_CONNECTION_PG_STRING / DATABASE_{n}_TARGETS
// for n = 1..8, skipping any index with no connection string set.
func parseTargets(k *koanf.Koanf) []ReplicationTarget {
	var targets []ReplicationTarget
	for n := 1; n <= 8; n++ {
		connKey := fmt.Sprintf("DATABASE_%d_CONNECTION_PG_STRING", n)
		conn := getString(k, connKey, "")
		if conn == "" {
			continue
		}
		tablesRaw := getString(k, fmt.Sprintf("DATABASE_%d_TARGETS", n), "")
		var tables []string
		if tablesRaw != "" {
			tables = strings.Fields(tablesRaw)
		}
		targets = append(targets, ReplicationTarget{ConnString: conn, Tables: tables})
	}
	return targets
}

func getString(k *koanf.Koanf, key, defaultValue string) string {
	if v := k.String(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(k *koanf.Koanf, key string, defaultValue int) int {
	if v := k.String(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(k *koanf.Koanf, key string, defaultValue bool) bool {
	if v := k.String(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
