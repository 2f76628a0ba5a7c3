package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Webhook   WebhookConfig
	Progress  ProgressConfig
	RateLimit RateLimitConfig
	Presets   map[string]PresetConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// StorageConfig points at any S3-compatible object store (AWS, MinIO, R2).
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	UsePathStyle    bool
}

type WorkerConfig struct {
	Concurrency      int
	WorkDir          string
	TranscodeTimeout int // seconds, per output
	ProbeTimeout     int // seconds
}

type WebhookConfig struct {
	MaxRetries int
	BaseDelay  int // seconds
	MaxDelay   int // seconds
	Timeout    int // seconds, per attempt
}

type ProgressConfig struct {
	MinDelta    float64 // percentage points
	MinInterval int     // seconds
}

type RateLimitConfig struct {
	SubmitPerMin int
}

// PresetConfig mirrors an output spec so operators can extend or override
// the built-in preset table from config.yaml.
type PresetConfig struct {
	Format       string `mapstructure:"format"`
	VideoCodec   string `mapstructure:"video_codec"`
	AudioCodec   string `mapstructure:"audio_codec"`
	Resolution   string `mapstructure:"resolution"`
	VideoBitrate string `mapstructure:"video_bitrate"`
	AudioBitrate string `mapstructure:"audio_bitrate"`
	FrameRate    int    `mapstructure:"frame_rate"`
	Profile      string `mapstructure:"profile"`
	Quality      int    `mapstructure:"quality"`
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = viper.BindEnv("storage.region", "STORAGE_REGION")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket", "STORAGE_BUCKET")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("storage.use_path_style", "STORAGE_USE_PATH_STYLE")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.work_dir", "WORKER_WORK_DIR")
	_ = viper.BindEnv("worker.transcode_timeout", "WORKER_TRANSCODE_TIMEOUT")
	_ = viper.BindEnv("worker.probe_timeout", "WORKER_PROBE_TIMEOUT")
	_ = viper.BindEnv("webhook.max_retries", "WEBHOOK_MAX_RETRIES")
	_ = viper.BindEnv("webhook.base_delay", "WEBHOOK_BASE_DELAY")
	_ = viper.BindEnv("webhook.max_delay", "WEBHOOK_MAX_DELAY")
	_ = viper.BindEnv("webhook.timeout", "WEBHOOK_TIMEOUT")
	_ = viper.BindEnv("progress.min_delta", "PROGRESS_MIN_DELTA")
	_ = viper.BindEnv("progress.min_interval", "PROGRESS_MIN_INTERVAL")
	_ = viper.BindEnv("ratelimit.submit_per_min", "RATELIMIT_SUBMIT_PER_MIN")

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("storage.region", "auto")
	viper.SetDefault("storage.use_path_style", false)
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.work_dir", "")
	viper.SetDefault("worker.transcode_timeout", 3600)
	viper.SetDefault("worker.probe_timeout", 30)
	viper.SetDefault("webhook.max_retries", 5)
	viper.SetDefault("webhook.base_delay", 2)
	viper.SetDefault("webhook.max_delay", 30)
	viper.SetDefault("webhook.timeout", 10)
	viper.SetDefault("progress.min_delta", 1.0)
	viper.SetDefault("progress.min_interval", 3)
	viper.SetDefault("ratelimit.submit_per_min", 30)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Endpoint:        viper.GetString("storage.endpoint"),
			Region:          viper.GetString("storage.region"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			Bucket:          viper.GetString("storage.bucket"),
			PublicURL:       viper.GetString("storage.public_url"),
			UsePathStyle:    viper.GetBool("storage.use_path_style"),
		},
		Worker: WorkerConfig{
			Concurrency:      viper.GetInt("worker.concurrency"),
			WorkDir:          viper.GetString("worker.work_dir"),
			TranscodeTimeout: viper.GetInt("worker.transcode_timeout"),
			ProbeTimeout:     viper.GetInt("worker.probe_timeout"),
		},
		Webhook: WebhookConfig{
			MaxRetries: viper.GetInt("webhook.max_retries"),
			BaseDelay:  viper.GetInt("webhook.base_delay"),
			MaxDelay:   viper.GetInt("webhook.max_delay"),
			Timeout:    viper.GetInt("webhook.timeout"),
		},
		Progress: ProgressConfig{
			MinDelta:    viper.GetFloat64("progress.min_delta"),
			MinInterval: viper.GetInt("progress.min_interval"),
		},
		RateLimit: RateLimitConfig{
			SubmitPerMin: viper.GetInt("ratelimit.submit_per_min"),
		},
	}

	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}

	if viper.IsSet("presets") {
		if err := viper.UnmarshalKey("presets", &cfg.Presets); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
