// Package config provides configuration loading for roadmapd.
//
// Configuration is read from an optional YAML file and then overridden by
// environment variables. Every section is flat (section.field) so that each
// field can be addressed as SECTION_FIELD from the environment.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete roadmapd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	NATS          NATSConfig          `koanf:"nats"`
	LLM           LLMConfig           `koanf:"llm"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	Observability ObservabilityConfig `koanf:"observability"`
	Secrets       SecretsConfig       `koanf:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite storage configuration.
type DatabaseConfig struct {
	// Path is the SQLite file. ":memory:" keeps everything in process.
	Path string `koanf:"path"`
}

// NATSConfig controls run event publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LLMConfig selects and configures the language model provider.
type LLMConfig struct {
	Provider          string   `koanf:"provider"` // none, anthropic, openai
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Timeout           Duration `koanf:"timeout"`
	MaxAttempts       int      `koanf:"max_attempts"`
	RequestsPerMinute float64  `koanf:"requests_per_minute"`
}

// ExtractionConfig holds entity extraction settings.
type ExtractionConfig struct {
	PatternsFile           string  `koanf:"patterns_file"`
	EntityPromptFile       string  `koanf:"entity_prompt_file"`
	RelationshipPromptFile string  `koanf:"relationship_prompt_file"`
	RelationshipSchemaFile string  `koanf:"relationship_schema_file"`
	MaxDocumentChars       int     `koanf:"max_document_chars"`
	DedupThreshold         float64 `koanf:"dedup_threshold"`
	Similarity             string  `koanf:"similarity"` // sequence, levenshtein
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
}

// SecretsConfig toggles secret scrubbing of document text and failure messages.
type SecretsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// NewDefaultConfig returns the configuration used when nothing is overridden.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "~/.local/share/roadmapd/roadmapd.db",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "roadmapd",
		},
		LLM: LLMConfig{
			Provider:          "none",
			Timeout:           Duration(60 * time.Second),
			MaxAttempts:       2,
			RequestsPerMinute: 50,
		},
		Extraction: ExtractionConfig{
			MaxDocumentChars: 2048,
			DedupThreshold:   0.85,
			Similarity:       "sequence",
		},
		Observability: ObservabilityConfig{
			LogLevel:     "info",
			LogFormat:    "json",
			ServiceName:  "roadmapd",
			OTLPEndpoint: "localhost:4317",
			OTLPProtocol: "grpc",
			OTLPInsecure: true,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}

	switch c.LLM.Provider {
	case "none", "":
	case "anthropic", "openai":
		if !c.LLM.APIKey.IsSet() {
			return fmt.Errorf("llm api_key required for provider %q", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm max_attempts must be >= 1, got %d", c.LLM.MaxAttempts)
	}
	if c.LLM.Timeout.Duration() <= 0 {
		return errors.New("llm timeout must be positive")
	}

	if c.Extraction.MaxDocumentChars <= 0 {
		return fmt.Errorf("extraction max_document_chars must be positive, got %d", c.Extraction.MaxDocumentChars)
	}
	if c.Extraction.DedupThreshold <= 0 || c.Extraction.DedupThreshold > 1 {
		return fmt.Errorf("extraction dedup_threshold must be in (0,1], got %v", c.Extraction.DedupThreshold)
	}
	switch c.Extraction.Similarity {
	case "sequence", "levenshtein":
	default:
		return fmt.Errorf("unknown similarity %q (want sequence or levenshtein)", c.Extraction.Similarity)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}
