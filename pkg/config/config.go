// Package config loads the process-wide configuration surface.
//
// Every key is overridable from the environment using a nested "__"
// delimiter, e.g. SERVER__MAX_QUEUE_SIZE overrides server.max_queue_size.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration recognised by the server and offline
// batch job.
type Config struct {
	WorkerID string

	Server ServerConfig
	Models ModelsConfig

	// Process entry points
	MetricsPort   int
	MetricsPath   string
	MetricsEnable bool
	HTTPPort      int
	DashboardPort int

	// Model backend selection
	ModelDirectory string
	ExecutorType   string // "simulation" or "onnx"
	UseNVML        string // "auto", "true", "false"
}

// ServerConfig mirrors spec.md §6 "server.*" keys.
type ServerConfig struct {
	MaxQueueSize     int
	RequestTimeoutS  int
	ShutdownTimeoutS int
}

// ModelsConfig mirrors spec.md §6 "models.*" keys.
type ModelsConfig struct {
	WarmupEnabled     bool
	DefaultBatchSize  int
	DefaultBatchWaitS float64
}

// RequestTimeout is ServerConfig.RequestTimeoutS as a time.Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutS) * time.Second
}

// ShutdownTimeout is ServerConfig.ShutdownTimeoutS as a time.Duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutS) * time.Second
}

// DefaultBatchWait is ModelsConfig.DefaultBatchWaitS as a time.Duration.
func (c Config) DefaultBatchWait() time.Duration {
	return time.Duration(c.Models.DefaultBatchWaitS * float64(time.Second))
}

// Load reads configuration from environment variables (and, if present,
// a config file discovered by viper) with the defaults spec.md §6
// specifies.
func Load() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	v.SetDefault("worker_id", "worker-0")

	v.SetDefault("server.max_queue_size", 1024)
	v.SetDefault("server.request_timeout_s", 30)
	v.SetDefault("server.shutdown_timeout_s", 60)

	v.SetDefault("models.warmup_enabled", true)
	v.SetDefault("models.default_batch_size", 16)
	v.SetDefault("models.default_batch_wait_s", 0.003)

	v.SetDefault("metrics_port", 9090)
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("metrics_enable", true)
	v.SetDefault("http_port", 8080)
	v.SetDefault("dashboard_port", 8081)

	v.SetDefault("model_directory", "./models/clip")
	v.SetDefault("executor_type", "simulation")
	v.SetDefault("use_nvml", "auto")

	v.SetConfigName("embedserve")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/embedserve")
	_ = v.ReadInConfig() // config file is optional; env + defaults always apply

	return &Config{
		WorkerID: v.GetString("worker_id"),
		Server: ServerConfig{
			MaxQueueSize:     v.GetInt("server.max_queue_size"),
			RequestTimeoutS:  v.GetInt("server.request_timeout_s"),
			ShutdownTimeoutS: v.GetInt("server.shutdown_timeout_s"),
		},
		Models: ModelsConfig{
			WarmupEnabled:     v.GetBool("models.warmup_enabled"),
			DefaultBatchSize:  v.GetInt("models.default_batch_size"),
			DefaultBatchWaitS: v.GetFloat64("models.default_batch_wait_s"),
		},
		MetricsPort:    v.GetInt("metrics_port"),
		MetricsPath:    v.GetString("metrics_path"),
		MetricsEnable:  v.GetBool("metrics_enable"),
		HTTPPort:       v.GetInt("http_port"),
		DashboardPort:  v.GetInt("dashboard_port"),
		ModelDirectory: v.GetString("model_directory"),
		ExecutorType:   v.GetString("executor_type"),
		UseNVML:        v.GetString("use_nvml"),
	}
}
