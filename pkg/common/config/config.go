package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerHost   string `yaml:"server_host"`
	ServerPort   string `yaml:"server_port"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Redis
	RedisHost     string `yaml:"redis_host"`
	RedisPort     string `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Kafka
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	// Training
	ArtifactDir         string `yaml:"artifact_dir"`
	CheckpointDir       string `yaml:"checkpoint_dir"`
	CheckpointFrequency int    `yaml:"checkpoint_frequency"`
	DefaultNumWorkers   int    `yaml:"default_num_workers"`
	DefaultMaxRestarts  int    `yaml:"default_max_restarts"`
	MaxConcurrentJobs   int    `yaml:"max_concurrent_jobs"`

	StatusCacheTTL time.Duration
}

func Load() *Config {
	cfg := &Config{
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:   getEnv("SERVER_PORT", "8090"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "boostherd"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "boostherd123"),
		PostgresDB:       getEnv("POSTGRES_DB", "boostherd"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "boostherd.jobs"),

		ArtifactDir:         getEnv("ARTIFACT_DIR", "/var/lib/boostherd/artifacts"),
		CheckpointDir:       getEnv("CHECKPOINT_DIR", "/tmp"),
		CheckpointFrequency: getIntEnv("CHECKPOINT_FREQUENCY", 5),
		DefaultNumWorkers:   getIntEnv("DEFAULT_NUM_WORKERS", 4),
		DefaultMaxRestarts:  getIntEnv("DEFAULT_MAX_RESTARTS", 0),
		MaxConcurrentJobs:   getIntEnv("MAX_CONCURRENT_JOBS", 2),

		StatusCacheTTL: getDuration("STATUS_CACHE_TTL", 5*time.Minute),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			// Env-derived defaults still stand; a bad file is not fatal here.
			return cfg
		}
	}
	return cfg
}

// mergeFile overlays non-zero values from a YAML file onto the config.
func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	if file.ServerHost != "" {
		c.ServerHost = file.ServerHost
	}
	if file.ServerPort != "" {
		c.ServerPort = file.ServerPort
	}
	if file.PostgresHost != "" {
		c.PostgresHost = file.PostgresHost
	}
	if file.PostgresPort != "" {
		c.PostgresPort = file.PostgresPort
	}
	if file.PostgresUser != "" {
		c.PostgresUser = file.PostgresUser
	}
	if file.PostgresPassword != "" {
		c.PostgresPassword = file.PostgresPassword
	}
	if file.PostgresDB != "" {
		c.PostgresDB = file.PostgresDB
	}
	if file.PostgresSSLMode != "" {
		c.PostgresSSLMode = file.PostgresSSLMode
	}
	if file.RedisHost != "" {
		c.RedisHost = file.RedisHost
	}
	if file.RedisPort != "" {
		c.RedisPort = file.RedisPort
	}
	if file.RedisPassword != "" {
		c.RedisPassword = file.RedisPassword
	}
	if file.RedisDB != 0 {
		c.RedisDB = file.RedisDB
	}
	if len(file.KafkaBrokers) > 0 {
		c.KafkaBrokers = file.KafkaBrokers
	}
	if file.KafkaTopic != "" {
		c.KafkaTopic = file.KafkaTopic
	}
	if file.ArtifactDir != "" {
		c.ArtifactDir = file.ArtifactDir
	}
	if file.CheckpointDir != "" {
		c.CheckpointDir = file.CheckpointDir
	}
	if file.CheckpointFrequency != 0 {
		c.CheckpointFrequency = file.CheckpointFrequency
	}
	if file.DefaultNumWorkers != 0 {
		c.DefaultNumWorkers = file.DefaultNumWorkers
	}
	if file.DefaultMaxRestarts != 0 {
		c.DefaultMaxRestarts = file.DefaultMaxRestarts
	}
	if file.MaxConcurrentJobs != 0 {
		c.MaxConcurrentJobs = file.MaxConcurrentJobs
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
