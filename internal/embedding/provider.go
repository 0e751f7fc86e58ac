package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iammorganparry/clive/apps/ltm/internal/metrics"
)

// Provider encodes text into fixed-dimension vectors. Query and passage
// encodings may differ for vendors with asymmetric retrieval models.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	EmbedBatchQuery(ctx context.Context, texts []string) ([][]float32, error)
	EmbedBatchPassage(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Test(ctx context.Context) TestResult
	CacheStats() CacheStats
}

// InputType selects the vendor task hint sent with a request.
type InputType string

const (
	InputGeneric InputType = ""
	InputQuery   InputType = "query"
	InputPassage InputType = "passage"
)

// Vendor identifies an embedding backend.
type Vendor string

const (
	VendorOpenAI Vendor = "openai"
	VendorJina   Vendor = "jina"
	VendorVoyage Vendor = "voyage"
	VendorOllama Vendor = "ollama"
)

func (v Vendor) IsValid() bool {
	switch v {
	case VendorOpenAI, VendorJina, VendorVoyage, VendorOllama:
		return true
	}
	return false
}

const (
	DefaultTimeout   = 10 * time.Second
	defaultBatchSize = 100
)

// Config selects and tunes the embedding vendor.
type Config struct {
	Vendor     Vendor `yaml:"provider"`
	APIKey     string `yaml:"apiKey"`
	BaseURL    string `yaml:"baseURL"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`

	// SendDimensions asks the vendor for Dimensions-long vectors
	// (Matryoshka models). Otherwise Dimensions is only checked.
	SendDimensions bool          `yaml:"sendDimensions"`
	TaskQuery      string        `yaml:"taskQuery"`
	TaskPassage    string        `yaml:"taskPassage"`
	CacheSize      int           `yaml:"cacheSize"` // negative disables the cache
	CacheTTL       time.Duration `yaml:"cacheTTL"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"maxRetries"`
	BatchSize      int           `yaml:"batchSize"`
}

type vendorDefaults struct {
	baseURL     string
	model       string
	dimensions  int
	taskQuery   string
	taskPassage string
}

var defaults = map[Vendor]vendorDefaults{
	VendorOpenAI: {baseURL: "https://api.openai.com/v1", model: "text-embedding-3-small", dimensions: 1536},
	VendorJina: {
		baseURL: "https://api.jina.ai/v1", model: "jina-embeddings-v3", dimensions: 1024,
		taskQuery: "retrieval.query", taskPassage: "retrieval.passage",
	},
	VendorVoyage: {
		baseURL: "https://api.voyageai.com/v1", model: "voyage-3", dimensions: 1024,
		taskQuery: "query", taskPassage: "document",
	},
	VendorOllama: {baseURL: "http://localhost:11434", model: "nomic-embed-text", dimensions: 768},
}

// WithDefaults fills unset fields from the vendor's defaults.
func (c Config) WithDefaults() Config {
	if c.Vendor == "" {
		c.Vendor = VendorOpenAI
	}
	d := defaults[c.Vendor]
	if c.BaseURL == "" {
		c.BaseURL = d.baseURL
	}
	if c.Model == "" {
		c.Model = d.model
	}
	if c.Dimensions == 0 {
		c.Dimensions = d.dimensions
	}
	if c.TaskQuery == "" {
		c.TaskQuery = d.taskQuery
	}
	if c.TaskPassage == "" {
		c.TaskPassage = d.taskPassage
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// client is one vendor's wire protocol. Implementations return exactly one
// vector per input text, in input order.
type client interface {
	embed(ctx context.Context, texts []string, input InputType) ([][]float32, error)
	vendor() Vendor
}

// New builds the Provider for cfg.Vendor.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Embedder, error) {
	cfg = cfg.WithDefaults()
	if !cfg.Vendor.IsValid() {
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Vendor)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Dimensions)
	}

	var c client
	switch cfg.Vendor {
	case VendorOllama:
		c = newOllamaClient(cfg)
	default:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s embedding provider requires an api key", cfg.Vendor)
		}
		c = newOpenAIClient(cfg)
	}
	return newEmbedder(c, cfg, logger, m), nil
}
