package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"innervoice/internal/app/api"
	"innervoice/internal/app/api/provider"
	"innervoice/internal/app/assembler"
	"innervoice/internal/app/audio"
	"innervoice/internal/app/common"
	"innervoice/internal/app/dedup"
	"innervoice/internal/app/progress"
	"innervoice/internal/app/queue"
	"innervoice/internal/app/storage"
)

// Backend kinds.
const (
	BackendWhisperServer = "whisper_server"
	BackendOpenAI        = "openai"
)

// Duplicate guard backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// BackendConfig selects the inference backend.
type BackendConfig struct {
	Kind              string `yaml:"kind"`
	provider.Settings `yaml:",inline"`
}

// DedupConfig configures the duplicate guard.
type DedupConfig struct {
	Window  time.Duration     `yaml:"window"`
	Backend string            `yaml:"backend"`
	Redis   dedup.RedisConfig `yaml:"redis"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// UploadDir receives multipart uploads before they are queued.
	UploadDir string `yaml:"upload_dir"`
	// MaxUploadMB bounds a single upload.
	MaxUploadMB int64 `yaml:"max_upload_mb"`
	// AllowLocalPaths accepts JSON submissions naming a file on the server.
	AllowLocalPaths bool `yaml:"allow_local_paths"`
	// AllowedOrigins restricts browser access to these origins; empty allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Release switches gin to release mode.
	Release bool `yaml:"release"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Config is the full process configuration.
type Config struct {
	Backend   BackendConfig    `yaml:"backend"`
	Retry     api.RetryConfig  `yaml:"retry"`
	Segmenter audio.Config     `yaml:"segmenter"`
	Dedup     DedupConfig      `yaml:"dedup"`
	Assembler assembler.Config `yaml:"assembler"`
	Progress  progress.Config  `yaml:"progress"`
	Queue     queue.Config     `yaml:"queue"`
	Server    ServerConfig     `yaml:"server"`
	Storage   storage.Config   `yaml:"storage"`
	Log       common.LogConfig `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind: BackendWhisperServer,
			Settings: provider.Settings{
				BaseURL: "http://localhost:5000",
				Timeout: 10 * time.Minute,
				Model:   "whisper-1",
			},
		},
		Retry:     api.DefaultRetryConfig(),
		Segmenter: audio.DefaultConfig(),
		Dedup: DedupConfig{
			Window:  dedup.DefaultWindow,
			Backend: DedupMemory,
			Redis:   dedup.RedisConfig{Addr: "localhost:6379"},
		},
		Assembler: assembler.DefaultConfig(),
		Progress:  progress.DefaultConfig(),
		Queue:     queue.DefaultConfig(),
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8081,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			UploadDir:    os.TempDir(),
			MaxUploadMB:  200,
		},
		Storage: storage.DefaultConfig(),
	}
}

// Load reads the optional YAML file at path over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		path = os.ExpandEnv(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error

	c.Backend.Kind = getEnvOrDefault("WHISPER_BACKEND", c.Backend.Kind)
	c.Backend.BaseURL = getEnvOrDefault("WHISPER_SERVER_URL", c.Backend.BaseURL)
	if c.Backend.Timeout, err = getEnvSeconds("WHISPER_TIMEOUT", c.Backend.Timeout); err != nil {
		return err
	}
	if c.Retry.TransientAttempts, err = getEnvInt("WHISPER_RETRIES", c.Retry.TransientAttempts); err != nil {
		return err
	}
	c.Backend.APIKey = getEnvOrDefault("OPENAI_API_KEY", c.Backend.APIKey)

	if c.Dedup.Window, err = getEnvSeconds("DUPLICATE_COOLDOWN_SEC", c.Dedup.Window); err != nil {
		return err
	}
	if addr := getEnvOrDefault("REDIS_ADDR", ""); addr != "" {
		c.Dedup.Redis.Addr = addr
		c.Dedup.Backend = DedupRedis
	}
	c.Dedup.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Dedup.Redis.Password)

	c.Storage.Enabled = getEnvBool("MINIO_ENABLED", c.Storage.Enabled)
	c.Storage.Endpoint = getEnvOrDefault("MINIO_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKey = getEnvOrDefault("MINIO_ACCESS_KEY", c.Storage.AccessKey)
	c.Storage.SecretKey = getEnvOrDefault("MINIO_SECRET_KEY", c.Storage.SecretKey)
	c.Storage.Bucket = getEnvOrDefault("MINIO_BUCKET", c.Storage.Bucket)
	c.Storage.UseSSL = getEnvBool("MINIO_USE_SSL", c.Storage.UseSSL)

	c.Server.Host = getEnvOrDefault("HTTP_HOST", c.Server.Host)
	if c.Server.Port, err = getEnvInt("HTTP_PORT", c.Server.Port); err != nil {
		return err
	}
	c.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	return nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendWhisperServer:
		if err := ValidateURL(c.Backend.BaseURL, "whisper server"); err != nil {
			return err
		}
	case BackendOpenAI:
		if err := ValidateAPIKey(c.Backend.APIKey); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown backend kind %q (want %s or %s)", c.Backend.Kind, BackendWhisperServer, BackendOpenAI)
	}
	if err := ValidateTimeout(c.Backend.Timeout, "backend"); err != nil {
		return err
	}

	if err := ValidateRetries(c.Retry.TransientAttempts, "transient"); err != nil {
		return err
	}
	if err := ValidateRetries(c.Retry.BusyAttempts, "busy"); err != nil {
		return err
	}
	if err := ValidateBackoff(c.Retry.InitialBackoff, c.Retry.MaxBackoff, "transient"); err != nil {
		return err
	}
	if err := ValidateBackoff(c.Retry.BusyInitialBackoff, c.Retry.BusyMaxBackoff, "busy"); err != nil {
		return err
	}
	if c.Retry.AttemptTimeout != 0 {
		if err := ValidateTimeout(c.Retry.AttemptTimeout, "attempt"); err != nil {
			return err
		}
	}

	if err := ValidatePositive(c.Segmenter.ChunkSeconds, "segmenter chunk_seconds"); err != nil {
		return err
	}
	if err := ValidatePositive(c.Dedup.Window.Seconds(), "dedup window"); err != nil {
		return err
	}
	switch strings.ToLower(c.Dedup.Backend) {
	case DedupMemory, "":
	case DedupRedis:
		if c.Dedup.Redis.Addr == "" {
			return fmt.Errorf("dedup redis address is required")
		}
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Assembler.MaxPayload < assembler.MinPayload {
		return fmt.Errorf("assembler max_payload must be at least %d", assembler.MinPayload)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := ValidateURL(origin, "allowed origin"); err != nil {
			return err
		}
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("storage endpoint and bucket are required when storage is enabled")
	}
	return nil
}
