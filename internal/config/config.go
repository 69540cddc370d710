// Package config loads config.yaml (or config.toml) and applies
// HUNTLENS_* environment overrides for secrets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Log        LogConfig        `yaml:"log" toml:"log"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Minio      MinioConfig      `yaml:"minio" toml:"minio"`
	Redis      RedisConfig      `yaml:"redis" toml:"redis"`
	LLM        LLMConfig        `yaml:"llm" toml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding" toml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" toml:"retrieval"`
	Validation ValidationConfig `yaml:"validation" toml:"validation"`
	Pipeline   PipelineConfig   `yaml:"pipeline" toml:"pipeline"`
	Corpus     CorpusConfig     `yaml:"corpus" toml:"corpus"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" toml:"ratelimit"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" toml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json or text
}

// DatabaseConfig selects the run store. An empty driver disables run
// recording.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // mysql, postgres, sqlite
	DSN      string `yaml:"dsn" toml:"dsn"`       // overrides the fields below
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`
	SSLMode  string `yaml:"sslmode" toml:"sslmode"`
	Path     string `yaml:"path" toml:"path"` // sqlite file
}

// MinioConfig is the corpus bucket. An empty endpoint disables it.
type MinioConfig struct {
	Endpoint       string `yaml:"endpoint" toml:"endpoint"`
	AccessKey      string `yaml:"accessKey" toml:"access_key"`
	SecretKey      string `yaml:"secretKey" toml:"secret_key"`
	BucketName     string `yaml:"bucketName" toml:"bucket_name"`
	Region         string `yaml:"region" toml:"region"`
	UseSSL         bool   `yaml:"useSSL" toml:"use_ssl"`
	CorpusPrefix   string `yaml:"corpusPrefix" toml:"corpus_prefix"`
	ManifestPrefix string `yaml:"manifestPrefix" toml:"manifest_prefix"`
}

// RedisConfig is the retrieval cache. An empty URL disables it.
type RedisConfig struct {
	URL string        `yaml:"url" toml:"url"`
	TTL time.Duration `yaml:"ttl" toml:"ttl"`
}

type LLMConfig struct {
	Provider string        `yaml:"provider" toml:"provider"` // openai or template
	APIKey   string        `yaml:"api_key" toml:"api_key"`
	BaseURL  string        `yaml:"base_url" toml:"base_url"`
	Model    string        `yaml:"model" toml:"model"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"` // HTTP client timeout
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider" toml:"provider"` // hashing or openai
	Model      string `yaml:"model" toml:"model"`
	Dimensions int    `yaml:"dimensions" toml:"dimensions"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size"`
}

type TierMultipliers struct {
	Canonical float64 `yaml:"canonical" toml:"canonical"`
	Vendor    float64 `yaml:"vendor" toml:"vendor"`
	Report    float64 `yaml:"report" toml:"report"`
	Case      float64 `yaml:"case" toml:"case"`
}

type RetrievalConfig struct {
	Candidates      int             `yaml:"candidates" toml:"candidates"`
	RRFConstant     float64         `yaml:"rrf_constant" toml:"rrf_constant"`
	LexicalWeight   float64         `yaml:"lexical_weight" toml:"lexical_weight"`
	SemanticWeight  float64         `yaml:"semantic_weight" toml:"semantic_weight"`
	TierMultipliers TierMultipliers `yaml:"tier_multipliers" toml:"tier_multipliers"`
	Mode            string          `yaml:"mode" toml:"mode"` // combined or fanout
	SnippetLength   int             `yaml:"snippet_length" toml:"snippet_length"`
	MaxInputLength  int             `yaml:"max_input_length" toml:"max_input_length"`
}

type ValidationConfig struct {
	GroundedWeight         float64 `yaml:"grounded_weight" toml:"grounded_weight"`
	EvidenceWeight         float64 `yaml:"evidence_weight" toml:"evidence_weight"`
	ContainmentWeight      float64 `yaml:"containment_weight" toml:"containment_weight"`
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold" toml:"low_confidence_threshold"`
}

type PipelineConfig struct {
	DefaultK           int           `yaml:"default_k" toml:"default_k"`
	MaxK               int           `yaml:"max_k" toml:"max_k"`
	ClassifyTimeout    time.Duration `yaml:"classify_timeout" toml:"classify_timeout"`
	RetrieveTimeout    time.Duration `yaml:"retrieve_timeout" toml:"retrieve_timeout"`
	GenerateTimeout    time.Duration `yaml:"generate_timeout" toml:"generate_timeout"`
	ValidateTimeout    time.Duration `yaml:"validate_timeout" toml:"validate_timeout"`
	GenerationRetries  int           `yaml:"generation_retries" toml:"generation_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff" toml:"retry_backoff"`
	CorpusRetryBackoff time.Duration `yaml:"corpus_retry_backoff" toml:"corpus_retry_backoff"`
	RecordTimeout      time.Duration `yaml:"record_timeout" toml:"record_timeout"`
}

type CorpusConfig struct {
	Dir             string        `yaml:"dir" toml:"dir"`
	Source          string        `yaml:"source" toml:"source"` // dir or minio
	LoadOnStart     bool          `yaml:"load_on_start" toml:"load_on_start"`
	RebuildInterval time.Duration `yaml:"rebuild_interval" toml:"rebuild_interval"`
}

// AuthConfig maps principal names to API keys. No keys disables auth.
type AuthConfig struct {
	APIKeys map[string]string `yaml:"api_keys" toml:"api_keys"`
}

type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled" toml:"enabled"`
	Capacity        int     `yaml:"capacity" toml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second" toml:"refill_per_second"`
}

type TelemetryConfig struct {
	Exporter    string  `yaml:"exporter" toml:"exporter"` // none or log
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// Default returns the configuration used for omitted keys.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "huntlens.db", Port: 3306},
		Minio:    MinioConfig{Region: "us-east-1", CorpusPrefix: "corpus", ManifestPrefix: "snapshots"},
		Redis:    RedisConfig{TTL: time.Hour},
		LLM:      LLMConfig{Provider: "template", Model: "gpt-4o-mini", Timeout: 90 * time.Second},
		Embedding: EmbeddingConfig{
			Provider:   "hashing",
			Dimensions: 384,
			BatchSize:  64,
		},
		Retrieval: RetrievalConfig{
			Candidates:     50,
			RRFConstant:    60,
			LexicalWeight:  1.0,
			SemanticWeight: 1.0,
			TierMultipliers: TierMultipliers{
				Canonical: 1.0,
				Vendor:    0.85,
				Report:    0.75,
				Case:      0.65,
			},
			Mode:           "combined",
			SnippetLength:  280,
			MaxInputLength: 4096,
		},
		Validation: ValidationConfig{
			GroundedWeight:         0.5,
			EvidenceWeight:         0.35,
			ContainmentWeight:      0.15,
			LowConfidenceThreshold: 0.3,
		},
		Pipeline: PipelineConfig{
			DefaultK:           8,
			MaxK:               50,
			ClassifyTimeout:    2 * time.Second,
			RetrieveTimeout:    5 * time.Second,
			GenerateTimeout:    60 * time.Second,
			ValidateTimeout:    5 * time.Second,
			GenerationRetries:  1,
			RetryBackoff:       500 * time.Millisecond,
			CorpusRetryBackoff: 250 * time.Millisecond,
			RecordTimeout:      5 * time.Second,
		},
		Corpus:    CorpusConfig{Dir: "corpus", Source: "dir", LoadOnStart: true},
		RateLimit: RateLimitConfig{Enabled: true, Capacity: 30, RefillPerSecond: 1},
		Telemetry: TelemetryConfig{Exporter: "none"},
	}
}

// Load reads the file at path, TOML when it ends in .toml and YAML
// otherwise. An empty path yields the defaults. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if un := md.Undecoded(); len(un) > 0 {
			return fmt.Errorf("unknown key %s", un[0])
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Environment variable overrides for sensitive values
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("HUNTLENS_OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv("HUNTLENS_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := getenv("HUNTLENS_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("HUNTLENS_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := getenv("HUNTLENS_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := getenv("HUNTLENS_MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log.level: %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("unsupported log.format: %q", c.Log.Format)
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	switch c.Database.Driver {
	case "", "none":
		c.Database.Driver = ""
	case "sqlite":
		if c.Database.Path == "" && c.Database.DSN == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "mysql", "postgres":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			return fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database.driver: %q", c.Database.Driver)
	}

	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	switch c.LLM.Provider {
	case "template":
	case "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider openai (or set HUNTLENS_OPENAI_API_KEY)")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required")
		}
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}

	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	switch c.Embedding.Provider {
	case "hashing":
	case "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("embedding provider openai needs llm.api_key")
		}
	default:
		return fmt.Errorf("unsupported embedding.provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 || c.Embedding.BatchSize < 0 {
		return fmt.Errorf("embedding dimensions and batch_size must be non-negative")
	}

	c.Retrieval.Mode = strings.ToLower(c.Retrieval.Mode)
	if c.Retrieval.Mode != "combined" && c.Retrieval.Mode != "fanout" {
		return fmt.Errorf("unsupported retrieval.mode: %q", c.Retrieval.Mode)
	}
	if c.Retrieval.MaxInputLength < 0 {
		return fmt.Errorf("retrieval.max_input_length must be non-negative")
	}

	v := c.Validation
	if v.GroundedWeight < 0 || v.EvidenceWeight < 0 || v.ContainmentWeight < 0 {
		return fmt.Errorf("validation weights must be non-negative")
	}
	if v.LowConfidenceThreshold < 0 || v.LowConfidenceThreshold > 1 {
		return fmt.Errorf("validation.low_confidence_threshold must be within [0,1]")
	}

	c.Corpus.Source = strings.ToLower(c.Corpus.Source)
	switch c.Corpus.Source {
	case "dir":
		if c.Corpus.Dir == "" {
			return fmt.Errorf("corpus.dir is required for source dir")
		}
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			return fmt.Errorf("minio.endpoint and minio.bucketName are required for corpus source minio")
		}
	default:
		return fmt.Errorf("unsupported corpus.source: %q", c.Corpus.Source)
	}
	if c.Corpus.RebuildInterval < 0 {
		return fmt.Errorf("corpus.rebuild_interval must be non-negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerSecond <= 0) {
		return fmt.Errorf("ratelimit.capacity and ratelimit.refill_per_second must be positive")
	}

	c.Telemetry.Exporter = strings.ToLower(c.Telemetry.Exporter)
	if c.Telemetry.Exporter != "none" && c.Telemetry.Exporter != "log" {
		return fmt.Errorf("unsupported telemetry.exporter: %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}
