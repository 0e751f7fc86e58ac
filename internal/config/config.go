package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iammorganparry/clive/apps/ltm/internal/embedding"
	"github.com/iammorganparry/clive/apps/ltm/internal/retriever"
	"github.com/iammorganparry/clive/apps/ltm/internal/scopes"
)

type Config struct {
	Port        int      `yaml:"port"`
	DBPath      string   `yaml:"dbPath"`
	LogLevel    string   `yaml:"logLevel"`
	APIKey      string   `yaml:"apiKey"`
	CORSOrigins []string `yaml:"corsOrigins"`
	// Metrics
	MetricsEnabled bool `yaml:"metricsEnabled"`
	// MCP adapter
	MCPAgentID string `yaml:"mcpAgentId"`

	Embedding embedding.Config             `yaml:"embedding"`
	Retrieval retriever.Config             `yaml:"retrieval"`
	Rerank    retriever.CrossEncoderConfig `yaml:"rerank"`
	Scopes    scopes.Config                `yaml:"scopes"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:           8741,
		DBPath:         "/data/ltm.db",
		LogLevel:       "info",
		CORSOrigins:    []string{"*"},
		MetricsEnabled: true,
		MCPAgentID:     "mcp",
		Embedding:      embedding.Config{Vendor: embedding.VendorOllama},
		Retrieval:      retriever.DefaultConfig(),
		Rerank:         retriever.CrossEncoderConfig{Provider: retriever.RerankJina, Timeout: 5 * time.Second},
	}
}

// Load layers defaults, the optional YAML file at path (or $LTM_CONFIG) and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("LTM_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.Embedding = cfg.Embedding.WithDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("LTM_DB_PATH", c.DBPath)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.APIKey = envStr("LTM_API_KEY", c.APIKey)
	c.CORSOrigins = envList("LTM_CORS_ORIGINS", c.CORSOrigins)
	c.MetricsEnabled = envBool("METRICS_ENABLED", c.MetricsEnabled)
	c.MCPAgentID = envStr("MCP_AGENT_ID", c.MCPAgentID)

	c.Embedding.Vendor = embedding.Vendor(envStr("EMBEDDING_PROVIDER", string(c.Embedding.Vendor)))
	c.Embedding.APIKey = envStr("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.BaseURL = envStr("EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Model = envStr("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimensions = envInt("EMBEDDING_DIM", c.Embedding.Dimensions)
	c.Embedding.CacheSize = envInt("EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Retrieval.Mode = retriever.Mode(envStr("RETRIEVAL_MODE", string(c.Retrieval.Mode)))
	c.Retrieval.VectorWeight = envFloat("VECTOR_WEIGHT", c.Retrieval.VectorWeight)
	c.Retrieval.BM25Weight = envFloat("BM25_WEIGHT", c.Retrieval.BM25Weight)
	c.Retrieval.MinScore = envFloat("MIN_SCORE", c.Retrieval.MinScore)
	c.Retrieval.HardMinScore = envFloat("HARD_MIN_SCORE", c.Retrieval.HardMinScore)
	c.Retrieval.Rerank = retriever.RerankMode(envStr("RERANK", string(c.Retrieval.Rerank)))
	c.Retrieval.RerankModel = envStr("RERANK_MODEL", c.Retrieval.RerankModel)
	c.Retrieval.FilterNoise = envBool("FILTER_NOISE", c.Retrieval.FilterNoise)

	c.Rerank.Provider = retriever.RerankProvider(envStr("RERANK_PROVIDER", string(c.Rerank.Provider)))
	c.Rerank.Endpoint = envStr("RERANK_ENDPOINT", c.Rerank.Endpoint)
	c.Rerank.APIKey = envStr("RERANK_API_KEY", c.Rerank.APIKey)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("LTM_DB_PATH must not be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if !c.Embedding.Vendor.IsValid() {
		return fmt.Errorf("EMBEDDING_PROVIDER %q is not one of openai, jina, voyage, ollama", c.Embedding.Vendor)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Vendor != embedding.VendorOllama && c.Embedding.APIKey == "" {
		return fmt.Errorf("EMBEDDING_API_KEY is required for provider %s", c.Embedding.Vendor)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if c.Rerank.Provider != "" && !c.Rerank.Provider.IsValid() {
		return fmt.Errorf("RERANK_PROVIDER %q is not one of jina, siliconflow, voyage, pinecone", c.Rerank.Provider)
	}
	if _, err := scopes.NewManager(c.Scopes); err != nil {
		return fmt.Errorf("scopes: %w", err)
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return l, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
