package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "wwwallet/pkg/platform/strings"
)

// Storage backends for the private data server.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Server captures private data server configuration.
type Server struct {
	Addr           string
	StorageBackend string
	DatabaseURL    string
	Redis          RedisConfig
	Kafka          KafkaConfig
	JWTSigningKey  string
	JWTIssuer      string
	JWTAudience    string
	MaxBlobBytes   int64
	LogLevel       string
}

// RedisConfig configures the go-redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures change notifications. Notifications are disabled
// when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// Enabled reports whether a broker was configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:           getEnv("WALLET_ADDR", ":8080"),
		StorageBackend: strings.ToLower(getEnv("WALLET_STORAGE", StorageMemory)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Redis:          redisFromEnv(),
		Kafka:          kafkaFromEnv(),
		JWTSigningKey:  os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:      getEnv("JWT_ISSUER", "wwwallet"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "wwwallet-private-data"),
		MaxBlobBytes:   int64(getEnvInt("WALLET_MAX_BLOB_BYTES", 16<<20)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	switch cfg.StorageBackend {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return Server{}, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case StorageRedis:
		if cfg.Redis.URL == "" {
			return Server{}, fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	default:
		return Server{}, fmt.Errorf("unknown WALLET_STORAGE %q", cfg.StorageBackend)
	}
	return cfg, nil
}

// Client captures configuration of a wallet replica run from the command line.
type Client struct {
	WalletID        string
	DeviceID        string
	MainKey         []byte
	LocalDBPath     string
	RemoteURL       string
	Token           string
	LegacyURL       string
	Kafka           KafkaConfig
	KeepEvents      int
	MaxSyncAttempts int
	LogLevel        string
}

// ClientFromEnv reads replica configuration. WALLET_MAIN_KEY is the hex
// encoded key that seals the wallet's private data.
func ClientFromEnv() (Client, error) {
	cfg := Client{
		WalletID:        os.Getenv("WALLET_ID"),
		DeviceID:        getEnv("WALLET_DEVICE_ID", "cli"),
		LocalDBPath:     getEnv("WALLET_LOCAL_DB", "wallet.db"),
		RemoteURL:       os.Getenv("WALLET_REMOTE_URL"),
		Token:           os.Getenv("WALLET_TOKEN"),
		LegacyURL:       os.Getenv("WALLET_LEGACY_URL"),
		Kafka:           kafkaFromEnv(),
		KeepEvents:      getEnvInt("WALLET_KEEP_EVENTS", 10),
		MaxSyncAttempts: getEnvInt("WALLET_MAX_SYNC_ATTEMPTS", 3),
		LogLevel:        getEnv("LOG_LEVEL", "warn"),
	}
	if cfg.WalletID == "" {
		return Client{}, fmt.Errorf("WALLET_ID is required")
	}
	key, err := hex.DecodeString(os.Getenv("WALLET_MAIN_KEY"))
	if err != nil {
		return Client{}, fmt.Errorf("decode WALLET_MAIN_KEY: %w", err)
	}
	if len(key) == 0 {
		return Client{}, fmt.Errorf("WALLET_MAIN_KEY is required")
	}
	cfg.MainKey = key
	if cfg.KeepEvents < 0 {
		return Client{}, fmt.Errorf("WALLET_KEEP_EVENTS must not be negative")
	}
	if cfg.MaxSyncAttempts < 1 {
		return Client{}, fmt.Errorf("WALLET_MAX_SYNC_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func redisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func kafkaFromEnv() KafkaConfig {
	return KafkaConfig{
		Brokers: pstrings.SplitList(os.Getenv("KAFKA_BROKERS"), ","),
		Topic:   getEnv("KAFKA_TOPIC", "wallet.private-data.changed"),
		Group:   getEnv("KAFKA_GROUP", "walletctl"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
