package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultDriver           = "sqlite3"
	defaultDBPath           = "data/events.db"
	defaultLogLevel         = "info"
	defaultHTTPAddr         = ":8080"
	defaultGRPCAddr         = ":9090"
	defaultMaxWorkers       = 4
	defaultBackoff          = time.Second
	defaultBusyTimeout      = 5 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultPollInterval     = 5 * time.Second
	defaultMonitorCapacity  = 1000
	defaultMetricsNamespace = "wfrunner"
)

type Config struct {
	Driver           string
	DBPath           string
	DSN              string
	LogLevel         string
	HTTPAddr         string
	GRPCAddr         string
	MaxWorkers       int
	Backoff          time.Duration
	BusyTimeout      time.Duration
	ShutdownTimeout  time.Duration
	PollInterval     time.Duration
	MonitorCapacity  int
	MetricsNamespace string
}

// Default returns the built-in configuration without reading the environment.
func Default() Config {
	return Config{
		Driver:           defaultDriver,
		DBPath:           defaultDBPath,
		LogLevel:         defaultLogLevel,
		HTTPAddr:         defaultHTTPAddr,
		GRPCAddr:         defaultGRPCAddr,
		MaxWorkers:       defaultMaxWorkers,
		Backoff:          defaultBackoff,
		BusyTimeout:      defaultBusyTimeout,
		ShutdownTimeout:  defaultShutdownTimeout,
		PollInterval:     defaultPollInterval,
		MonitorCapacity:  defaultMonitorCapacity,
		MetricsNamespace: defaultMetricsNamespace,
	}
}

func LoadFromEnv() (Config, error) {
	maxWorkers, err := parseEnvInt("WFRUNNER_MAX_WORKERS", defaultMaxWorkers)
	if err != nil {
		return Config{}, err
	}
	backoff, err := parseEnvDuration("WFRUNNER_BACKOFF", defaultBackoff)
	if err != nil {
		return Config{}, err
	}
	busyTimeout, err := parseEnvDuration("WFRUNNER_BUSY_TIMEOUT", defaultBusyTimeout)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := parseEnvDuration("WFRUNNER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := parseEnvDuration("WFRUNNER_POLL_INTERVAL", defaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	monitorCapacity, err := parseEnvInt("WFRUNNER_MONITOR_CAPACITY", defaultMonitorCapacity)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Driver:           getEnv("WFRUNNER_DRIVER", defaultDriver),
		DBPath:           getEnv("WFRUNNER_DB", defaultDBPath),
		DSN:              getEnv("WFRUNNER_DSN", ""),
		LogLevel:         getEnv("WFRUNNER_LOG_LEVEL", defaultLogLevel),
		HTTPAddr:         getEnv("WFRUNNER_HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:         getEnv("WFRUNNER_GRPC_ADDR", defaultGRPCAddr),
		MaxWorkers:       maxWorkers,
		Backoff:          backoff,
		BusyTimeout:      busyTimeout,
		ShutdownTimeout:  shutdownTimeout,
		PollInterval:     pollInterval,
		MonitorCapacity:  monitorCapacity,
		MetricsNamespace: getEnv("WFRUNNER_METRICS_NAMESPACE", defaultMetricsNamespace),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Driver {
	case "sqlite3":
		if c.DBPath == "" {
			return errors.New("db path cannot be empty for the sqlite3 driver")
		}
	case "postgres":
		if c.DSN == "" {
			return errors.New("dsn cannot be empty for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	if c.MaxWorkers <= 0 {
		return errors.New("max workers must be positive")
	}
	if c.Backoff < 0 {
		return errors.New("backoff must be >= 0")
	}
	if c.BusyTimeout < 0 {
		return errors.New("busy timeout must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MonitorCapacity < 0 {
		return errors.New("monitor capacity must be >= 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// parseEnvDuration accepts Go duration strings ("1500ms", "2s").
func parseEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be >= 0", key)
	}
	return d, nil
}

func parseEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return out, nil
}
