package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Server  ServerConfig
	GRPC    GRPCConfig
	Redis   RedisConfig
	Store   StoreConfig
	Mutex   MutexConfig
	Guard   GuardConfig
	Log     LogConfig
	Tracing TracingConfig
}

// GRPCConfig contains gRPC server settings
type GRPCConfig struct {
	Port int // 0 disables the gRPC server
}

// StoreConfig selects and tunes the key-value backend
type StoreConfig struct {
	Backend   string // redis, memory
	Timeout   time.Duration
	Namespace string
}

// MutexConfig tunes the per-key limiter mutex
type MutexConfig struct {
	Lease      time.Duration
	Tries      int
	RetryDelay time.Duration
}

// GuardConfig configures the rate limit applied to the HTTP API itself
type GuardConfig struct {
	Threshold int // 0 disables the guard
	Period    time.Duration
	LockFor   time.Duration
}

// TracingConfig contains tracing settings
type TracingConfig struct {
	Enabled bool
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// Load reads environment variables into Config. It expects godotenv to have been
// executed by the caller when needed (e.g. in development).
func Load() Config {
	sever := ServerConfig{
		Host:         getEnv("APP_HOST", "0.0.0.0"),
		Port:         getEnvAsInt("APP_PORT", 3000),
		ReadTimeout:  getEnvAsDuration("APP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: getEnvAsDuration("APP_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:  getEnvAsDuration("APP_IDLE_TIMEOUT", 10*time.Second),
	}

	redis := RedisConfig{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnvAsInt("REDIS_PORT", 6379),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvAsInt("REDIS_DB", 0),
		PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
	}

	store := StoreConfig{
		Backend:   getEnv("STORE_BACKEND", BackendRedis),
		Timeout:   getEnvAsDuration("STORE_TIMEOUT", 5*time.Second),
		Namespace: getEnv("LOCK_NAMESPACE", "redlimit"),
	}

	mutex := MutexConfig{
		Lease:      getEnvAsDuration("MUTEX_LEASE", 5*time.Second),
		Tries:      getEnvAsInt("MUTEX_TRIES", 32),
		RetryDelay: getEnvAsDuration("MUTEX_RETRY_DELAY", 50*time.Millisecond),
	}

	guard := GuardConfig{
		Threshold: getEnvAsInt("HTTP_LIMIT_THRESHOLD", 0),
		Period:    time.Duration(getEnvAsInt("HTTP_LIMIT_PERIOD", 60)) * time.Second,
		LockFor:   time.Duration(getEnvAsInt("HTTP_LIMIT_LOCKED", 30)) * time.Second,
	}

	log := LogConfig{
		Level:  getEnv("LOG_LEVEL", "debug"),
		Format: getEnv("LOG_FORMAT", "console"),
	}

	cfg := Config{
		Server:  sever,
		GRPC:    GRPCConfig{Port: getEnvAsInt("GRPC_PORT", 50051)},
		Redis:   redis,
		Store:   store,
		Mutex:   mutex,
		Guard:   guard,
		Log:     log,
		Tracing: TracingConfig{Enabled: getEnvAsBool("TRACING_ENABLED", false)},
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}

	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}

	dur, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return dur
}

func LoadDotEnv() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("warning: could not load .env: %v", err)
		}
	}
}

// RedisAddr returns the Redis address in host:port format
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GRPCAddr returns the gRPC address in host:port format
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.GRPC.Port)
}

// ServerAddr returns the server address in host:port format
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}
	if c.Store.Namespace == "" {
		return fmt.Errorf("LOCK_NAMESPACE must not be empty")
	}
	if c.Mutex.Lease <= 0 || c.Mutex.Tries <= 0 {
		return fmt.Errorf("MUTEX_LEASE and MUTEX_TRIES must be positive")
	}
	if c.Guard.Threshold > 0 && (c.Guard.Period <= 0 || c.Guard.LockFor <= 0) {
		return fmt.Errorf("HTTP_LIMIT_PERIOD and HTTP_LIMIT_LOCKED must be positive")
	}
	return nil
}
