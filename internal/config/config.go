package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB           DBConfig
	MinIO        MinIOConfig
	JWT          JWTConfig
	Server       ServerConfig
	Segmentation SegmentationConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	// Bucket holds user namespaces; SegmentedBucket is the namespace the
	// external segmentation processor writes derived images into.
	Bucket          string
	SegmentedBucket string
	UseSSL          bool
	SignedURLExpiry time.Duration
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port string
}

type SegmentationConfig struct {
	ProcessorURL string
	// SettleDelay is the initial wait before the first readiness probe of a
	// derived image; PollTimeout bounds the whole poll loop per image.
	SettleDelay time.Duration
	PollTimeout time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "dermashare"),
			Password: getEnv("DB_PASSWORD", "dermashare_secret"),
			Name:     getEnv("DB_NAME", "dermashare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:       getEnv("MINIO_ACCESS_KEY", "dermashare"),
			SecretKey:       getEnv("MINIO_SECRET_KEY", "dermashare_secret"),
			Bucket:          getEnv("MINIO_BUCKET", "dermashare-images"),
			SegmentedBucket: getEnv("MINIO_SEGMENTED_BUCKET", "dermashare-images-segmented"),
			UseSSL:          getEnvAsBool("MINIO_USE_SSL", false),
			SignedURLExpiry: getEnvAsDuration("MINIO_SIGNED_URL_EXPIRY", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Segmentation: SegmentationConfig{
			ProcessorURL: getEnv("SEGMENTATION_PROCESSOR_URL", "http://localhost:9090/segment"),
			SettleDelay:  getEnvAsDuration("SEGMENTATION_SETTLE_DELAY", 10*time.Second),
			PollTimeout:  getEnvAsDuration("SEGMENTATION_POLL_TIMEOUT", 2*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
