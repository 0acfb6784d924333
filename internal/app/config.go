package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"parley/internal/ratelimit"
)

// Config contains all runtime configuration loaded from environment
// variables. It is immutable after startup.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisURL, when set, switches the rate limiter to the shared backend
	// (with in-process fallback on backend error).
	RedisURL string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// Rate limiting.
	RateDefaultCeiling int
	RateDefaultWindow  time.Duration
	RateMaxEntries     int
	RateRules          []ratelimit.Rule
	RateExcludedPaths  []string

	// IdentityHeader names a trusted header carrying the client identity
	// (e.g. X-Forwarded-For behind a proxy). Empty means remote address.
	IdentityHeader string

	// WebSocket session tuning.
	WSWriteTimeout    time.Duration
	WSReadIdleTimeout time.Duration
	WSOriginPatterns  []string
	WSDevInsecure     bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PARLEY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PARLEY_LOG_LEVEL", "info"),
		LogFormat: EnvString("PARLEY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PARLEY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PARLEY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PARLEY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PARLEY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("PARLEY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PARLEY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PARLEY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PARLEY_DB_MIN_CONNS", 0),

		RedisURL: EnvString("PARLEY_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("PARLEY_READINESS_REQUIRE_DB", false),

		RateDefaultCeiling: EnvInt("PARLEY_RATE_DEFAULT_CEILING", 60),
		RateDefaultWindow:  EnvDuration("PARLEY_RATE_DEFAULT_WINDOW", time.Minute),
		RateMaxEntries:     EnvInt("PARLEY_RATE_MAX_ENTRIES", 10_000),
		RateRules:          parseRateRules(EnvCSV("PARLEY_RATE_RULES", "")),
		RateExcludedPaths:  EnvCSV("PARLEY_RATE_EXCLUDED_PATHS", "/healthz,/readyz,/metrics"),

		IdentityHeader: EnvString("PARLEY_RATE_IDENTITY_HEADER", ""),

		WSWriteTimeout:    EnvDuration("PARLEY_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadIdleTimeout: EnvDuration("PARLEY_WS_READ_IDLE_TIMEOUT", 2*time.Minute),
		WSOriginPatterns:  EnvCSV("PARLEY_WS_ORIGIN_PATTERNS", ""),
		WSDevInsecure:     EnvBool("PARLEY_WS_DEV_INSECURE", false),
	}
}

// RateConfig assembles the admission policy from the loaded fields.
func (c Config) RateConfig() ratelimit.Config {
	return ratelimit.Config{
		Rules:          c.RateRules,
		DefaultCeiling: c.RateDefaultCeiling,
		DefaultWindow:  c.RateDefaultWindow,
		ExcludedPaths:  c.RateExcludedPaths,
		MaxEntries:     c.RateMaxEntries,
	}
}

// parseRateRules parses rule specs of the form "pattern=ceiling/window",
// e.g. "/api/rooms=10/1m". Declaration order is preserved; malformed specs
// are skipped.
func parseRateRules(specs []string) []ratelimit.Rule {
	var rules []ratelimit.Rule
	for _, spec := range specs {
		rule, err := parseRateRule(spec)
		if err != nil {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func parseRateRule(spec string) (ratelimit.Rule, error) {
	pattern, budget, ok := strings.Cut(spec, "=")
	if !ok {
		return ratelimit.Rule{}, fmt.Errorf("missing '=' in rule %q", spec)
	}
	ceilingStr, windowStr, ok := strings.Cut(budget, "/")
	if !ok {
		return ratelimit.Rule{}, fmt.Errorf("missing '/' in rule %q", spec)
	}

	ceiling, err := strconv.Atoi(strings.TrimSpace(ceilingStr))
	if err != nil || ceiling <= 0 {
		return ratelimit.Rule{}, fmt.Errorf("bad ceiling in rule %q", spec)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil || window <= 0 {
		return ratelimit.Rule{}, fmt.Errorf("bad window in rule %q", spec)
	}

	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return ratelimit.Rule{}, fmt.Errorf("empty pattern in rule %q", spec)
	}

	return ratelimit.Rule{Pattern: pattern, Ceiling: ceiling, Window: window}, nil
}
