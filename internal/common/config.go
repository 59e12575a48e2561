package common

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Encoder EncoderConfig `yaml:"encoder"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"` // empty disables the gRPC listener
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SlowRequest     time.Duration `yaml:"slow_request"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Provider       string        `yaml:"provider"` // openai | vertex
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Temperature    float64       `yaml:"temperature"` // 0 leaves the provider default
	Timeout        time.Duration `yaml:"timeout"`     // per attempt
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	RetryClassify  bool          `yaml:"retry_classify"`

	InputPricePerMillion  float64 `yaml:"input_price_per_million"`
	OutputPricePerMillion float64 `yaml:"output_price_per_million"`

	VertexProject         string `yaml:"vertex_project"`
	VertexLocation        string `yaml:"vertex_location"`
	VertexCredentialsFile string `yaml:"vertex_credentials_file"`
}

// EncoderConfig selects and tunes the document-to-model encoding.
type EncoderConfig struct {
	Strategy    string  `yaml:"strategy"` // native | raster
	Zoom        float64 `yaml:"zoom"`
	Contrast    float64 `yaml:"contrast"` // percentage, -100..100
	JPEGQuality int     `yaml:"jpeg_quality"`
	Pdftoppm    string  `yaml:"pdftoppm"`
	MaxParallel int     `yaml:"max_parallel"`
}

// CacheConfig bounds the in-process result cache.
type CacheConfig struct {
	Size int           `yaml:"size"` // 0 = unbounded
	TTL  time.Duration `yaml:"ttl"`  // 0 = never expires
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`
}

// DefaultConfig returns the built-in defaults, before any file or environment override.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8000",
			GRPCAddr:        "",
			RequestTimeout:  5 * time.Minute,
			SlowRequest:     30 * time.Second,
			MaxBodyBytes:    25 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:              "openai",
			Model:                 "gpt-5-nano-2025-08-07",
			Timeout:               120 * time.Second,
			MaxConcurrency:        4,
			MaxAttempts:           2,
			InputPricePerMillion:  0.05,
			OutputPricePerMillion: 0.40,
			VertexLocation:        "us-central1",
		},
		Encoder: EncoderConfig{
			Strategy:    "native",
			Zoom:        2.0,
			Contrast:    50,
			JPEGQuality: 85,
			Pdftoppm:    "pdftoppm",
			MaxParallel: runtime.NumCPU(),
		},
		Cache: CacheConfig{
			Size: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadDotEnv loads a .env file into the process environment when one exists.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadConfig builds the configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence (environment wins).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("NFSE_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "parse config file "+path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.RequestTimeout = getEnvAsDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.SlowRequest = getEnvAsDuration("SERVER_SLOW_REQUEST", c.Server.SlowRequest)
	c.Server.MaxBodyBytes = getEnvAsInt64("SERVER_MAX_BODY_BYTES", c.Server.MaxBodyBytes)
	c.Server.ShutdownTimeout = getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.LLM.Provider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLM.Provider))
	c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.Temperature = getEnvAsFloat64("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvAsDuration("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.MaxConcurrency = getEnvAsInt("LLM_MAX_CONCURRENCY", c.LLM.MaxConcurrency)
	c.LLM.MaxAttempts = getEnvAsInt("LLM_MAX_ATTEMPTS", c.LLM.MaxAttempts)
	c.LLM.RetryBackoff = getEnvAsDuration("LLM_RETRY_BACKOFF", c.LLM.RetryBackoff)
	c.LLM.RetryClassify = getEnvAsBool("LLM_RETRY_CLASSIFY", c.LLM.RetryClassify)
	c.LLM.InputPricePerMillion = getEnvAsFloat64("LLM_INPUT_PRICE_PER_MILLION", c.LLM.InputPricePerMillion)
	c.LLM.OutputPricePerMillion = getEnvAsFloat64("LLM_OUTPUT_PRICE_PER_MILLION", c.LLM.OutputPricePerMillion)
	c.LLM.VertexProject = getEnv("VERTEX_PROJECT", c.LLM.VertexProject)
	c.LLM.VertexLocation = getEnv("VERTEX_LOCATION", c.LLM.VertexLocation)
	c.LLM.VertexCredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.LLM.VertexCredentialsFile)
	if c.LLM.Provider == "vertex" {
		c.LLM.Model = getEnv("VERTEX_MODEL", c.LLM.Model)
	}

	c.Encoder.Strategy = strings.ToLower(getEnv("ENCODER_STRATEGY", c.Encoder.Strategy))
	c.Encoder.Zoom = getEnvAsFloat64("ENCODER_ZOOM", c.Encoder.Zoom)
	c.Encoder.Contrast = getEnvAsFloat64("ENCODER_CONTRAST", c.Encoder.Contrast)
	c.Encoder.JPEGQuality = getEnvAsInt("ENCODER_JPEG_QUALITY", c.Encoder.JPEGQuality)
	c.Encoder.Pdftoppm = getEnv("PDFTOPPM", c.Encoder.Pdftoppm)
	c.Encoder.MaxParallel = getEnvAsInt("ENCODER_MAX_PARALLEL", c.Encoder.MaxParallel)

	c.Cache.Size = getEnvAsInt("CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvAsDuration("CACHE_TTL", c.Cache.TTL)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
		}
	case "vertex":
		if c.LLM.VertexProject == "" {
			return NewAppError("CONFIG_ERROR", "VERTEX_PROJECT is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown LLM_PROVIDER %q", c.LLM.Provider), ErrInvalidInput)
	}
	if c.LLM.Model == "" {
		return NewAppError("CONFIG_ERROR", "model name is required", ErrInvalidInput)
	}
	if c.LLM.MaxConcurrency < 1 {
		return NewAppError("CONFIG_ERROR", "LLM_MAX_CONCURRENCY must be >= 1", ErrInvalidInput)
	}
	if c.LLM.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "LLM_MAX_ATTEMPTS must be >= 1", ErrInvalidInput)
	}
	switch c.Encoder.Strategy {
	case "native":
	case "raster":
		if c.Encoder.Zoom <= 0 {
			return NewAppError("CONFIG_ERROR", "ENCODER_ZOOM must be > 0", ErrInvalidInput)
		}
		if c.Encoder.JPEGQuality < 1 || c.Encoder.JPEGQuality > 100 {
			return NewAppError("CONFIG_ERROR", "ENCODER_JPEG_QUALITY must be within 1..100", ErrInvalidInput)
		}
		if c.Encoder.Contrast < -100 || c.Encoder.Contrast > 100 {
			return NewAppError("CONFIG_ERROR", "ENCODER_CONTRAST must be within -100..100", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown ENCODER_STRATEGY %q", c.Encoder.Strategy), ErrInvalidInput)
	}
	if c.Cache.Size < 0 {
		return NewAppError("CONFIG_ERROR", "CACHE_SIZE must be >= 0", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "one of HTTP_ADDR or GRPC_ADDR is required", ErrInvalidInput)
	}
	return nil
}
