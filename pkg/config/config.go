package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

const configPathEnv = "DEEP_RESEARCH_CONFIG"

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	LogLevel    string `yaml:"logLevel"`

	ThinkingModel llm.Settings    `yaml:"thinkingModel"`
	TaskModel     llm.Settings    `yaml:"taskModel"`
	Search        search.Settings `yaml:"search"`
	Report        ReportConfig    `yaml:"report"`
	Knowledge     KnowledgeConfig `yaml:"knowledge"`
}

// ReportConfig holds the run defaults a request may override.
type ReportConfig struct {
	Language            string `yaml:"language"`
	Requirement         string `yaml:"requirement"`
	EnableCitationImage bool   `yaml:"enableCitationImage"`
	EnableReferences    bool   `yaml:"enableReferences"`
	ModelWebSearch      bool   `yaml:"modelWebSearch"`
}

// KnowledgeConfig controls indexing of finished research into pgvector.
type KnowledgeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Collection     string `yaml:"collection"`
	EmbeddingModel string `yaml:"embeddingModel"`
	APIKey         string `yaml:"apiKey"`
	Dimensions     int    `yaml:"dimensions"`
	ChunkSize      int    `yaml:"chunkSize"`
	ChunkOverlap   int    `yaml:"chunkOverlap"`
}

func defaultConfig() *Config {
	return &Config{
		Port:     "3000",
		LogLevel: "info",
		ThinkingModel: llm.Settings{
			Provider: "gemini",
			Model:    "gemini-2.5-pro",
		},
		TaskModel: llm.Settings{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		Search: search.Settings{
			Provider:   search.ModelProvider,
			MaxResults: 5,
		},
		Report: ReportConfig{
			EnableCitationImage: true,
			EnableReferences:    true,
		},
		Knowledge: KnowledgeConfig{
			Collection:     "research_knowledge",
			EmbeddingModel: "gemini-embedding-001",
			Dimensions:     1536,
			ChunkSize:      1000,
			ChunkOverlap:   200,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// DEEP_RESEARCH_CONFIG if set, and environment variables, in that order.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Debug("Loaded config file", "path", path)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// GOOGLE_API_KEY is the shared default for every Google-backed component.
	googleKey := os.Getenv("GOOGLE_API_KEY")

	c.ThinkingModel = modelFromEnv("THINKING", c.ThinkingModel, googleKey)
	c.TaskModel = modelFromEnv("TASK", c.TaskModel, googleKey)

	c.Search.Provider = getEnv("SEARCH_PROVIDER", c.Search.Provider)
	c.Search.APIKey = getEnv("SEARCH_API_KEY", c.Search.APIKey)
	c.Search.BaseURL = getEnv("SEARCH_BASE_URL", c.Search.BaseURL)
	c.Search.MaxResults = getEnvAsInt("SEARCH_MAX_RESULTS", c.Search.MaxResults)
	c.Search.Scope = getEnv("SEARCH_SCOPE", c.Search.Scope)
	c.Search.MistralAPIKey = getEnv("MISTRAL_API_KEY", c.Search.MistralAPIKey)

	c.Report.Language = getEnv("REPORT_LANGUAGE", c.Report.Language)
	c.Report.Requirement = getEnv("REPORT_REQUIREMENT", c.Report.Requirement)
	c.Report.EnableCitationImage = getEnvAsBool("ENABLE_CITATION_IMAGE", c.Report.EnableCitationImage)
	c.Report.EnableReferences = getEnvAsBool("ENABLE_REFERENCES", c.Report.EnableReferences)
	c.Report.ModelWebSearch = getEnvAsBool("MODEL_WEB_SEARCH", c.Report.ModelWebSearch)

	c.Knowledge.Enabled = getEnvAsBool("KNOWLEDGE_ENABLED", c.Knowledge.Enabled)
	c.Knowledge.Collection = getEnv("COLLECTION_NAME", c.Knowledge.Collection)
	c.Knowledge.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.Knowledge.EmbeddingModel)
	c.Knowledge.APIKey = getEnv("EMBEDDING_API_KEY", c.Knowledge.APIKey)
	if c.Knowledge.APIKey == "" {
		c.Knowledge.APIKey = googleKey
	}
	c.Knowledge.Dimensions = getEnvAsInt("EMBEDDING_DIMENSIONS", c.Knowledge.Dimensions)
	c.Knowledge.ChunkSize = getEnvAsInt("CHUNK_SIZE", c.Knowledge.ChunkSize)
	c.Knowledge.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", c.Knowledge.ChunkOverlap)
}

func modelFromEnv(prefix string, s llm.Settings, googleKey string) llm.Settings {
	s.Provider = getEnv(prefix+"_PROVIDER", s.Provider)
	s.Model = getEnv(prefix+"_MODEL", s.Model)
	s.APIKey = getEnv(prefix+"_API_KEY", s.APIKey)
	s.BaseURL = getEnv(prefix+"_BASE_URL", s.BaseURL)
	s.Temperature = getEnvAsFloat(prefix+"_TEMPERATURE", s.Temperature)
	if s.APIKey == "" && (s.Provider == "gemini" || s.Provider == "google") {
		s.APIKey = googleKey
	}
	return s
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.ThinkingModel.Provider == "" || c.ThinkingModel.Model == "" {
		return fmt.Errorf("thinking model provider and model are required")
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search max results must not be negative, got %d", c.Search.MaxResults)
	}
	if c.Knowledge.Enabled {
		if c.Knowledge.Dimensions <= 0 {
			return fmt.Errorf("embedding dimensions must be positive, got %d", c.Knowledge.Dimensions)
		}
		if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
			return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.Knowledge.ChunkOverlap, c.Knowledge.ChunkSize)
		}
	}
	return nil
}

// Research projects the run configuration consumed by the engine.
func (c *Config) Research() research.Config {
	return research.Config{
		Language:       c.Report.Language,
		MaxResults:     c.Search.MaxResults,
		Scope:          c.Search.Scope,
		ModelWebSearch: c.Report.ModelWebSearch,
		Requirement:    c.Report.Requirement,
	}
}

// ReportOptions returns the configured report toggles.
func (c *Config) ReportOptions() research.ReportOptions {
	return research.ReportOptions{
		EnableCitationImage: c.Report.EnableCitationImage,
		EnableReferences:    c.Report.EnableReferences,
	}
}

// ModelKnowledge reports whether tasks run without a search backend.
func (c *Config) ModelKnowledge() bool {
	p := strings.TrimSpace(c.Search.Provider)
	return p == "" || p == search.ModelProvider
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
