// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Process roles selectable with -role.
const (
	RoleAll    = "all"
	RoleAPI    = "api"
	RoleWorker = "worker"
)

type RuntimeConfig struct {
	Dev  bool
	Role string
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
	TrustProxy     bool          `yaml:"trust_proxy"` // honor X-Forwarded-For for client identity
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string        `yaml:"url"` // empty disables the job archive
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
}

type RedisConfig struct {
	URL                 string        `yaml:"url"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db"`
	MaxConnections      int           `yaml:"max_connections"`
	SocketTimeout       time.Duration `yaml:"socket_timeout"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	RetryCount          int           `yaml:"retry_count"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

type CacheConfig struct {
	StatusTTL time.Duration `yaml:"status_ttl"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

type AdmissionConfig struct {
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	AllowedMIMETypes  []string      `yaml:"allowed_mime_types"`
	MaxFileSize       int64         `yaml:"max_file_size"`
	MaxDuration       time.Duration `yaml:"max_duration"`
	RequireAudio      bool          `yaml:"require_audio"`
	ChunkSize         int           `yaml:"chunk_size"`
	RateLimit         int           `yaml:"rate_limit"`
	RateWindow        time.Duration `yaml:"rate_window"`
	RateLimitBackend  string        `yaml:"rate_limit_backend"` // memory|redis
}

type ExecutorConfig struct {
	Workers               int           `yaml:"workers"`
	Queue                 string        `yaml:"queue"` // memory|redis
	MaxRetries            int           `yaml:"max_retries"`
	RetryBaseDelay        time.Duration `yaml:"retry_base_delay"`
	SoftTimeout           time.Duration `yaml:"soft_timeout"`
	HardTimeout           time.Duration `yaml:"hard_timeout"`
	MemoryCeilingBytes    uint64        `yaml:"memory_ceiling_bytes"` // 0 = host total
	MemoryWarnPercent     float64       `yaml:"memory_warn_percent"`
	MemoryCriticalPercent float64       `yaml:"memory_critical_percent"`
	MemorySampleInterval  time.Duration `yaml:"memory_sample_interval"`
	MergeThreshold        float64       `yaml:"merge_threshold"` // seconds, 0 disables
}

type TranscriberConfig struct {
	Provider      string        `yaml:"provider"` // whisper|openai|noop
	WhisperPath   string        `yaml:"whisper_path"`
	ModelPath     string        `yaml:"model_path"`
	FFmpegPath    string        `yaml:"ffmpeg_path"`
	FFprobePath   string        `yaml:"ffprobe_path"`
	Language      string        `yaml:"language"`
	OpenAIKey     string        `yaml:"openai_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	OpenAIModel   string        `yaml:"openai_model"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

type StorageConfig struct {
	Type      string   `yaml:"type"` // local|s3
	UploadDir string   `yaml:"upload_dir"`
	TempDir   string   `yaml:"temp_dir"`
	S3        S3Config `yaml:"s3"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Required  bool   `yaml:"required"`
}

type CleanupConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxFileAge time.Duration `yaml:"max_file_age"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Cache       CacheConfig       `yaml:"cache"`
	Admission   AdmissionConfig   `yaml:"admission"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Storage     StorageConfig     `yaml:"storage"`
	Auth        AuthConfig        `yaml:"auth"`
	Cleanup     CleanupConfig     `yaml:"cleanup"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses command-line flags and loads the referenced file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	var role string
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.StringVar(&role, "role", RoleAll, "process role: all|api|worker")
	flag.Parse()

	cfg, err := Load(configPath, dev)
	if err != nil {
		return nil, err
	}
	switch role {
	case RoleAll, RoleAPI, RoleWorker:
		cfg.Runtime.Role = role
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return cfg, nil
}

// Load reads a YAML file, expands ${VAR} references and applies defaults.
func Load(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	cfg.Runtime.Role = RoleAll
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.UploadTimeout <= 0 {
		cfg.Server.UploadTimeout = 5 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 4
	}
	if cfg.Database.ConnectTimeout <= 0 {
		cfg.Database.ConnectTimeout = 5 * time.Second
	}
	if cfg.Database.StatsInterval <= 0 {
		cfg.Database.StatsInterval = 15 * time.Second
	}

	if cfg.Redis.MaxConnections <= 0 {
		cfg.Redis.MaxConnections = 10
	}
	if cfg.Redis.SocketTimeout <= 0 {
		cfg.Redis.SocketTimeout = 5 * time.Second
	}
	if cfg.Redis.ConnectTimeout <= 0 {
		cfg.Redis.ConnectTimeout = 2 * time.Second
	}
	if cfg.Redis.RetryCount <= 0 {
		cfg.Redis.RetryCount = 3
	}
	if cfg.Redis.RetryBaseDelay <= 0 {
		cfg.Redis.RetryBaseDelay = time.Second
	}
	if cfg.Redis.HealthCheckInterval <= 0 {
		cfg.Redis.HealthCheckInterval = 30 * time.Second
	}

	cfg.Cache.StatusTTL = normalizeTTL(cfg.Cache.StatusTTL, time.Hour)
	cfg.Cache.ResultTTL = normalizeTTL(cfg.Cache.ResultTTL, 24*time.Hour)

	a := &cfg.Admission
	if len(a.AllowedExtensions) == 0 {
		a.AllowedExtensions = []string{".mp4", ".avi", ".mov", ".webm"}
	}
	for i, ext := range a.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		a.AllowedExtensions[i] = ext
	}
	if len(a.AllowedMIMETypes) == 0 {
		a.AllowedMIMETypes = []string{"video/mp4", "video/x-msvideo", "video/quicktime", "video/webm"}
	}
	if a.MaxFileSize <= 0 {
		a.MaxFileSize = 100 << 20
	}
	if a.MaxDuration <= 0 {
		a.MaxDuration = 600 * time.Second
	}
	if a.ChunkSize <= 0 {
		a.ChunkSize = 8192
	}
	if a.RateLimit <= 0 {
		a.RateLimit = 10
	}
	if a.RateWindow <= 0 {
		a.RateWindow = time.Hour
	}
	if a.RateLimitBackend == "" {
		a.RateLimitBackend = "memory"
	}

	e := &cfg.Executor
	if e.Workers <= 0 {
		e.Workers = 2
	}
	if e.Queue == "" {
		e.Queue = "redis"
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 3
	}
	if e.RetryBaseDelay <= 0 {
		e.RetryBaseDelay = 60 * time.Second
	}
	if e.SoftTimeout <= 0 {
		e.SoftTimeout = 3300 * time.Second
	}
	if e.HardTimeout <= 0 {
		e.HardTimeout = 3600 * time.Second
	}
	if e.MemoryWarnPercent <= 0 {
		e.MemoryWarnPercent = 75
	}
	if e.MemoryCriticalPercent <= 0 {
		e.MemoryCriticalPercent = 90
	}
	if e.MemorySampleInterval <= 0 {
		e.MemorySampleInterval = 5 * time.Second
	}
	if e.MergeThreshold < 0 {
		e.MergeThreshold = 0
	}

	t := &cfg.Transcriber
	if t.Provider == "" {
		t.Provider = "whisper"
	}
	if t.WhisperPath == "" {
		t.WhisperPath = "whisper-cli"
	}
	if t.FFmpegPath == "" {
		t.FFmpegPath = "ffmpeg"
	}
	if t.FFprobePath == "" {
		t.FFprobePath = "ffprobe"
	}
	if t.OpenAIBaseURL == "" {
		t.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if t.OpenAIModel == "" {
		t.OpenAIModel = "whisper-1"
	}
	if t.HTTPTimeout <= 0 {
		t.HTTPTimeout = 10 * time.Minute
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "uploads"
	}
	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = os.TempDir()
	}

	if cfg.Cleanup.Interval <= 0 {
		cfg.Cleanup.Interval = time.Hour
	}
	if cfg.Cleanup.MaxFileAge <= 0 {
		cfg.Cleanup.MaxFileAge = time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Auth.Required && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth.required is set")
	}
	if cfg.Executor.SoftTimeout >= cfg.Executor.HardTimeout {
		return errors.New("executor.soft_timeout must be shorter than executor.hard_timeout")
	}
	if cfg.Executor.MemoryWarnPercent >= cfg.Executor.MemoryCriticalPercent {
		return errors.New("executor.memory_warn_percent must be below memory_critical_percent")
	}
	switch cfg.Executor.Queue {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown executor.queue %q", cfg.Executor.Queue)
	}
	switch cfg.Admission.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown admission.rate_limit_backend %q", cfg.Admission.RateLimitBackend)
	}
	switch cfg.Transcriber.Provider {
	case "whisper":
		if cfg.Transcriber.ModelPath == "" {
			return errors.New("transcriber.model_path is required for the whisper provider")
		}
	case "openai":
		if cfg.Transcriber.OpenAIKey == "" {
			return errors.New("transcriber.openai_key is required for the openai provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown transcriber.provider %q", cfg.Transcriber.Provider)
	}
	switch cfg.Storage.Type {
	case "local":
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", cfg.Storage.Type)
	}
	return nil
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
