package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "BUGTRACK_"

// Store backends understood by cmd/api.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds runtime configuration sourced from env vars. It is read once at startup.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	Store    string
	MongoURL string
	MongoDB  string
	PGDSN    string

	AuthSecret      string
	AuthIssuer      string
	TokenTTL        time.Duration
	CookieMaxAge    time.Duration
	HashCost        int
	CORSOrigins     []string
	RateLimitBurst  int
	RateLimitPerSec float64
	MaxBodyBytes    int64

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv. Every invalid variable is reported.
func LoadFrom(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		return fallback(getenv(envPrefix+key), def)
	}

	cfg := Config{
		HTTPAddr:    get("HTTP_ADDR", ":8080"),
		GRPCAddr:    get("GRPC_ADDR", ""),
		Store:       strings.ToLower(get("STORE", StoreMongo)),
		MongoURL:    get("MONGO_URL", "mongodb://localhost:27017"),
		MongoDB:     get("MONGO_DB", "bugtracker"),
		PGDSN:       get("PG_DSN", ""),
		AuthSecret:  get("AUTH_SECRET", ""),
		AuthIssuer:  get("AUTH_ISSUER", "bugtracker"),
		CORSOrigins: parseCSV(get("CORS_ORIGINS", "*")),
		LogLevel:    get("LOG_LEVEL", "info"),
		LogFormat:   get("LOG_FORMAT", "json"),
	}

	var errs []error
	cfg.TokenTTL = parseDuration(get("AUTH_TOKEN_TTL", "1h"), "AUTH_TOKEN_TTL", &errs)
	cfg.CookieMaxAge = parseDuration(get("AUTH_COOKIE_MAX_AGE", "1h"), "AUTH_COOKIE_MAX_AGE", &errs)
	cfg.HashCost = parseInt(get("HASH_COST", "10"), "HASH_COST", 4, 31, &errs)
	cfg.RateLimitBurst = parseInt(get("RATE_LIMIT_BURST", "20"), "RATE_LIMIT_BURST", 1, 1<<20, &errs)
	cfg.MaxBodyBytes = int64(parseInt(get("MAX_BODY_BYTES", "1048576"), "MAX_BODY_BYTES", 1, 1<<30, &errs))

	rps, err := strconv.ParseFloat(get("RATE_LIMIT_RPS", "10"), 64)
	if err != nil || rps <= 0 {
		errs = append(errs, fmt.Errorf("%sRATE_LIMIT_RPS must be a positive number", envPrefix))
	}
	cfg.RateLimitPerSec = rps

	switch cfg.Store {
	case StoreMongo:
		if cfg.MongoURL == "" {
			errs = append(errs, fmt.Errorf("%sMONGO_URL is required for the mongo store", envPrefix))
		}
	case StorePostgres:
		if cfg.PGDSN == "" {
			errs = append(errs, fmt.Errorf("%sPG_DSN is required for the postgres store", envPrefix))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("%sSTORE %q is not one of mongo, postgres, memory", envPrefix, cfg.Store))
	}

	if cfg.AuthSecret == "" && cfg.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("%sAUTH_SECRET is required", envPrefix))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func parseDuration(raw, key string, errs *[]error) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s%s must be a positive duration, got %q", envPrefix, key, raw))
		return 0
	}
	return d
}

func parseInt(raw, key string, lo, hi int, errs *[]error) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		*errs = append(*errs, fmt.Errorf("%s%s must be an integer in [%d, %d], got %q", envPrefix, key, lo, hi, raw))
		return 0
	}
	return n
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
