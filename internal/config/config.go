package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"horarios/internal/clock"
)

const DefaultTimeZone = "America/Argentina/San_Luis"

type Config struct {
	DatabaseURL     string
	RemoteDBName    string
	RemoteTimeout   time.Duration
	RefreshInterval time.Duration
	RenderInterval  time.Duration
	CachePath       string
	BundledFallback bool
	NextDayRollover bool
	Weekday         string
	NATSURL         string
	NATSPrefix      string
	LogNATSSubjects bool
	MetricsAddr     string
	HTTPAddr        string
	CORSOrigins     []string
	Location        *time.Location
}

// RemoteEnabled reports whether a remote document store is configured.
func (c *Config) RemoteEnabled() bool { return c.DatabaseURL != "" }

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Remote store DSN: DATABASE_URL / PG_DSN, else PG* parts. Empty disables the remote tier.
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if cfg.DatabaseURL == "" && os.Getenv("PGHOST") != "" {
		host := os.Getenv("PGHOST")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := getenvDefault("PGDATABASE", "horarios")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.RemoteDBName = os.Getenv("REMOTE_DB_NAME")

	var err error
	if cfg.RemoteTimeout, err = durationMS("REMOTE_TIMEOUT_MS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = durationSec("SCHEDULE_UPDATE_INTERVAL_SEC", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RenderInterval, err = durationSec("RENDER_INTERVAL_SEC", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.CachePath = getenvDefault("CACHE_PATH", "horarios-cache.db")
	cfg.BundledFallback = boolEnv("BUNDLED_FALLBACK", true)
	cfg.NextDayRollover = boolEnv("NEXT_DAY_ROLLOVER", false)

	// Pins every render to one weekday table; empty follows the clock. The
	// bundled timetable only has lunes, so during a remote outage every other
	// day renders "Sin servicio" unless this is set to lunes.
	if v := os.Getenv("SCHEDULE_WEEKDAY"); v != "" {
		key := clock.NormalizeWeekday(v)
		if !clock.IsWeekdayKey(key) {
			return nil, fmt.Errorf("invalid SCHEDULE_WEEKDAY: %q", v)
		}
		cfg.Weekday = key
	}

	// NATS is optional; empty URL disables the publisher
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "horarios")
	cfg.LogNATSSubjects = boolEnv("LOG_NATS_SUBJECTS", false)

	// Metrics listen address (e.g., ":9102"). Empty serves /metrics on the HTTP server only.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8081")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	// Time zone
	tzName := getenvDefault("TZ", DefaultTimeZone)
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ: %v", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// InitLogging sends the standard logger to stdout with microsecond timestamps.
func InitLogging() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}

func durationMS(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func durationSec(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(sec) * time.Second, nil
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
