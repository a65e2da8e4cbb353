// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. THUMBD_REDIS_ADDR.
const EnvPrefix = "THUMBD"

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format   string `yaml:"format" envconfig:"format" validate:"omitempty,oneof=json console"`
	Sampling bool   `yaml:"sampling" envconfig:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port" envconfig:"port" validate:"min=1,max=65535"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"request_timeout"`

	// UploadsPerMinute caps upload requests per owner; 0 disables the limit.
	UploadsPerMinute int `yaml:"uploads_per_minute" envconfig:"uploads_per_minute" validate:"min=0"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" envconfig:"driver" validate:"oneof=postgres sqlite"`
	URL      string `yaml:"url" envconfig:"url" validate:"required"`
	MaxConns int32  `yaml:"max_conns" envconfig:"max_conns"`
}

type RedisConfig struct {
	Addr            string        `yaml:"addr" envconfig:"addr" validate:"required"`
	Password        string        `yaml:"password" envconfig:"password"`
	DB              int           `yaml:"db" envconfig:"db"`
	Prefix          string        `yaml:"prefix" envconfig:"prefix"`
	Queue           string        `yaml:"queue" envconfig:"queue"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout" envconfig:"ready_timeout"`
	RetainCompleted int64         `yaml:"retain_completed" envconfig:"retain_completed" validate:"min=0"`
	RetainFailed    int64         `yaml:"retain_failed" envconfig:"retain_failed" validate:"min=0"`
}

type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency" envconfig:"concurrency" validate:"min=1,max=64"`
	Consumer         string        `yaml:"consumer" envconfig:"consumer"`
	ClaimBlock       time.Duration `yaml:"claim_block" envconfig:"claim_block"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout" envconfig:"transcode_timeout"`
	FFmpegPath       string        `yaml:"ffmpeg_path" envconfig:"ffmpeg_path"`
	FFprobePath      string        `yaml:"ffprobe_path" envconfig:"ffprobe_path"`
}

type NotifyConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval" envconfig:"retry_interval"`
	BufferSize    int           `yaml:"buffer_size" envconfig:"buffer_size" validate:"min=1"`
}

type StorageConfig struct {
	UploadDir   string `yaml:"upload_dir" envconfig:"upload_dir" validate:"required"`
	MaxFileSize int64  `yaml:"max_file_size" envconfig:"max_file_size" validate:"min=1"`
	MaxFiles    int    `yaml:"max_files" envconfig:"max_files" validate:"min=1"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" envconfig:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl" envconfig:"token_ttl"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Notify   NotifyConfig   `yaml:"notify"`
	Storage  StorageConfig  `yaml:"storage"`
	Auth     AuthConfig     `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// devJWTSecret is only used when running with --dev and no secret configured.
const devJWTSecret = "dev-only-insecure-jwt-secret"

// LoadConfig reads the YAML file at path (optional when empty), applies
// defaults, then THUMBD_* environment overrides, then validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && dev) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	applyDefaults(&cfg)
	if dev && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = devJWTSecret
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.RequestTimeout = orDuration(cfg.HTTP.RequestTimeout, 30*time.Second)

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "thumbq"
	}
	if cfg.Redis.Queue == "" {
		cfg.Redis.Queue = "thumbnails"
	}
	cfg.Redis.ReadyTimeout = orDuration(cfg.Redis.ReadyTimeout, 10*time.Second)
	if cfg.Redis.RetainCompleted == 0 {
		cfg.Redis.RetainCompleted = 100
	}
	if cfg.Redis.RetainFailed == 0 {
		cfg.Redis.RetainFailed = 50
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.Consumer == "" {
		host, _ := os.Hostname()
		cfg.Worker.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	cfg.Worker.ClaimBlock = orDuration(cfg.Worker.ClaimBlock, 5*time.Second)
	cfg.Worker.TranscodeTimeout = orDuration(cfg.Worker.TranscodeTimeout, 2*time.Minute)
	if cfg.Worker.FFmpegPath == "" {
		cfg.Worker.FFmpegPath = "ffmpeg"
	}
	if cfg.Worker.FFprobePath == "" {
		cfg.Worker.FFprobePath = "ffprobe"
	}

	cfg.Notify.RetryInterval = orDuration(cfg.Notify.RetryInterval, 2*time.Second)
	if cfg.Notify.BufferSize <= 0 {
		cfg.Notify.BufferSize = 16
	}

	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "uploads"
	}
	if cfg.Storage.MaxFileSize <= 0 {
		cfg.Storage.MaxFileSize = 100 << 20
	}
	if cfg.Storage.MaxFiles <= 0 {
		cfg.Storage.MaxFiles = 10
	}

	cfg.Auth.TokenTTL = orDuration(cfg.Auth.TokenTTL, 24*time.Hour)
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
