package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Worker struct {
		Addr string `yaml:"addr"`
	} `yaml:"worker"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	Pipeline struct {
		// Concurrency bounds simultaneous generation calls within a stage.
		// Keep small: the upstream generation APIs rate-limit aggressively.
		Concurrency        int    `yaml:"concurrency"`
		MaxAttempts        int    `yaml:"max_attempts"`
		BackoffSeconds     int    `yaml:"backoff_seconds"`
		CallTimeoutMinutes int    `yaml:"call_timeout_minutes"`
		LeaseTTLMinutes    int    `yaml:"lease_ttl_minutes"`
		SkipPolicy         string `yaml:"skip_policy"` // "skip" or "placeholder"
		PlaceholderSeconds int    `yaml:"placeholder_seconds"`
	} `yaml:"pipeline"`
}

var AppConfig *Config

func InitConfig() {
	// .env first so the YAML can stay free of secrets on dev machines.
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("failed to parse config file: %v", err)
	}
	applyDefaults(AppConfig)
}

func applyDefaults(c *Config) {
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = 3
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.BackoffSeconds <= 0 {
		c.Pipeline.BackoffSeconds = 5
	}
	if c.Pipeline.CallTimeoutMinutes <= 0 {
		c.Pipeline.CallTimeoutMinutes = 20
	}
	if c.Pipeline.LeaseTTLMinutes <= 0 {
		c.Pipeline.LeaseTTLMinutes = 30
	}
	if c.Pipeline.SkipPolicy == "" {
		c.Pipeline.SkipPolicy = "skip"
	}
	if c.Pipeline.PlaceholderSeconds <= 0 {
		c.Pipeline.PlaceholderSeconds = 3
	}
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		c.MySQL.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
}
