package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"

	TransportLocal = "local"
	TransportNATS  = "nats"
)

// DefaultRoute is a short loop used when SIM_ROUTE is not set.
const DefaultRoute = "40.4168,-3.7038;40.4200,-3.7050;40.4230,-3.7010;40.4190,-3.6980"

type Config struct {
	StoreBackend  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DynamoTable   string
	AWSRegion     string
	StoreKey      string

	NATSURL          string
	SandboxTransport string
	PublishEvents    bool
	LogNATSSubjects  bool

	PollInterval    time.Duration
	DispatchTimeout time.Duration
	PositionTimeout time.Duration
	PositionMaxAge  time.Duration
	HighAccuracy    bool

	RunnerLabel    string
	RunnerManifest string

	MetricsAddr string
	HTTPAddr    string

	Route    string
	SpeedMps float64
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.StoreBackend = strings.ToLower(getenvDefault("STORE_BACKEND", BackendMemory))
	switch cfg.StoreBackend {
	case BackendPostgres, BackendRedis, BackendDynamoDB, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND: %q", cfg.StoreBackend)
	}
	cfg.StoreKey = getenvDefault("STORE_KEY", "trips")

	if cfg.StoreBackend == BackendPostgres {
		dsn, err := postgresDSN()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}

	cfg.DynamoTable = getenvDefault("DYNAMODB_TABLE", "trip-tracker")
	cfg.AWSRegion = firstNonEmpty(os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION"), "us-east-1")

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.SandboxTransport = strings.ToLower(getenvDefault("SANDBOX_TRANSPORT", TransportLocal))
	if cfg.SandboxTransport != TransportLocal && cfg.SandboxTransport != TransportNATS {
		return nil, fmt.Errorf("invalid SANDBOX_TRANSPORT: %q", cfg.SandboxTransport)
	}
	cfg.PublishEvents = parseBool(os.Getenv("PUBLISH_EVENTS"), false)
	// Debug logging for NATS publish subjects
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"), false)

	var err error
	if cfg.PollInterval, err = millis("POLL_INTERVAL_MS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchTimeout, err = millis("DISPATCH_TIMEOUT_MS", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PositionTimeout, err = millis("POSITION_TIMEOUT_MS", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.PositionMaxAge, err = millis("POSITION_MAX_AGE_MS", 60*time.Second); err != nil {
		return nil, err
	}
	cfg.HighAccuracy = parseBool(os.Getenv("POSITION_HIGH_ACCURACY"), true)

	cfg.RunnerLabel = getenvDefault("RUNNER_LABEL", "com.example.background.location")
	cfg.RunnerManifest = os.Getenv("RUNNER_MANIFEST")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	cfg.Route = getenvDefault("SIM_ROUTE", DefaultRoute)
	if v := os.Getenv("SIM_SPEED_MPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid SIM_SPEED_MPS: %q", v)
		}
		cfg.SpeedMps = f
	} else {
		cfg.SpeedMps = 1.4
	}

	return cfg, nil
}

// postgresDSN prefers DATABASE_URL / PG_DSN, else builds one from PG* vars.
func postgresDSN() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set when STORE_BACKEND=postgres")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func millis(key string, def time.Duration) (time.Duration, error) {
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

func parseBool(v string, def bool) bool {
	if strings.TrimSpace(v) == "" {
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
