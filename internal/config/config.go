package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	NATSURL             string
	JWTSecret           string
	DockerHost          string
	ExecutionTimeout    time.Duration
	CodeRunMemoryMB     int
	CodeRunCPUShares    int
	AIProvider          string
	OpenAIAPIKey        string
	OpenAIModel         string
	AnthropicAPIKey     string
	PlagiarismURL       string
	PlagiarismCacheTTL  time.Duration
	GradingPassTimeout  time.Duration
	GradingLockWait     time.Duration
	BulkGradingWorkers  int
	FeedbackEncouraging bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PORTAL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Scroll Portal API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("plagiarism.cache_ttl", "1h")
	v.SetDefault("grading.pass_timeout", "45s")
	v.SetDefault("grading.lock_wait", "5s")
	v.SetDefault("grading.bulk_workers", 4)
	v.SetDefault("feedback.encouragement", true)

	cacheTTL, err := time.ParseDuration(v.GetString("plagiarism.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid plagiarism cache ttl: %w", err)
	}

	passTimeout, err := time.ParseDuration(v.GetString("grading.pass_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid grading pass timeout: %w", err)
	}

	lockWait, err := time.ParseDuration(v.GetString("grading.lock_wait"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid grading lock wait: %w", err)
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		NATSURL:             v.GetString("nats.url"),
		JWTSecret:           v.GetString("jwt.secret"),
		DockerHost:          v.GetString("docker_host"),
		ExecutionTimeout:    time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:     v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:    v.GetInt("code_run_cpu_shares"),
		AIProvider:          strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:        v.GetString("openai_api_key"),
		OpenAIModel:         v.GetString("ai.model"),
		AnthropicAPIKey:     v.GetString("anthropic_api_key"),
		PlagiarismURL:       v.GetString("plagiarism.url"),
		PlagiarismCacheTTL:  cacheTTL,
		GradingPassTimeout:  passTimeout,
		GradingLockWait:     lockWait,
		BulkGradingWorkers:  v.GetInt("grading.bulk_workers"),
		FeedbackEncouraging: v.GetBool("feedback.encouragement"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	if cfg.BulkGradingWorkers <= 0 {
		cfg.BulkGradingWorkers = 4
	}

	return cfg, nil
}
