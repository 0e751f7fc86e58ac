package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/vector"
)

// ErrRerankUnavailable is returned when no cross-encoder is configured.
var ErrRerankUnavailable = errors.New("cross-encoder rerank is not configured")

// RerankProvider names a cross-encoder vendor protocol.
type RerankProvider string

const (
	RerankJina        RerankProvider = "jina"
	RerankSiliconFlow RerankProvider = "siliconflow"
	RerankVoyage      RerankProvider = "voyage"
	RerankPinecone    RerankProvider = "pinecone"
)

var defaultRerankEndpoints = map[RerankProvider]string{
	RerankJina:        "https://api.jina.ai/v1/rerank",
	RerankSiliconFlow: "https://api.siliconflow.com/v1/rerank",
	RerankVoyage:      "https://api.voyageai.com/v1/rerank",
	RerankPinecone:    "https://api.pinecone.io/rerank",
}

func (p RerankProvider) IsValid() bool {
	_, ok := defaultRerankEndpoints[p]
	return ok
}

// RerankScore is a vendor relevance score for the document at Index.
type RerankScore struct {
	Index int
	Score float64
}

// Reranker scores documents against a query.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, documents []string) ([]RerankScore, error)
}

// CrossEncoderConfig configures the HTTP cross-encoder.
type CrossEncoderConfig struct {
	Provider RerankProvider `yaml:"provider"`
	Endpoint string         `yaml:"endpoint"`
	APIKey   string         `yaml:"apiKey"`
	Timeout  time.Duration  `yaml:"timeout"`
}

// CrossEncoder calls a hosted rerank endpoint.
type CrossEncoder struct {
	provider   RerankProvider
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewCrossEncoder returns nil when no API key is configured.
func NewCrossEncoder(cfg CrossEncoderConfig) (*CrossEncoder, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if cfg.Provider == "" {
		cfg.Provider = RerankJina
	}
	if !cfg.Provider.IsValid() {
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultRerankEndpoints[cfg.Provider]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &CrossEncoder{
		provider:   cfg.Provider,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type rerankDocument struct {
	Text string `json:"text"`
}

type rerankHit struct {
	Index          *int     `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
	Score          *float64 `json:"score"`
}

type rerankResponse struct {
	Results []rerankHit `json:"results"`
	Data    []rerankHit `json:"data"`
}

func (c *CrossEncoder) body(model, query string, documents []string) map[string]any {
	switch c.provider {
	case RerankVoyage:
		return map[string]any{"model": model, "query": query, "documents": documents, "top_k": len(documents)}
	case RerankPinecone:
		docs := make([]rerankDocument, len(documents))
		for i, d := range documents {
			docs[i] = rerankDocument{Text: d}
		}
		return map[string]any{
			"model":            model,
			"query":            query,
			"documents":        docs,
			"top_n":            len(documents),
			"return_documents": false,
		}
	default:
		return map[string]any{"model": model, "query": query, "documents": documents, "top_n": len(documents)}
	}
}

// Rerank posts the documents and returns one score per returned index.
func (c *CrossEncoder) Rerank(ctx context.Context, model, query string, documents []string) ([]RerankScore, error) {
	if c == nil {
		return nil, ErrRerankUnavailable
	}
	data, err := json.Marshal(c.body(model, query, documents))
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.provider == RerankPinecone {
		req.Header.Set("Api-Key", c.apiKey)
		req.Header.Set("X-Pinecone-API-Version", "2024-10")
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s rerank: %w", c.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s rerank: read body: %w", c.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s rerank: status %d: %s", c.provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s rerank: decode response: %w", c.provider, err)
	}
	hits := parsed.Results
	if len(hits) == 0 {
		hits = parsed.Data
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("%s rerank: response has no results", c.provider)
	}

	scores := make([]RerankScore, 0, len(hits))
	for _, h := range hits {
		if h.Index == nil || *h.Index < 0 || *h.Index >= len(documents) {
			return nil, fmt.Errorf("%s rerank: result index out of range", c.provider)
		}
		s := h.RelevanceScore
		if s == nil {
			s = h.Score
		}
		if s == nil {
			return nil, fmt.Errorf("%s rerank: result %d has no score", c.provider, *h.Index)
		}
		scores = append(scores, RerankScore{Index: *h.Index, Score: *s})
	}
	return scores, nil
}

// lightweightRerank blends each score with its cosine similarity to the query.
func lightweightRerank(queryVec []float32, results []models.SearchResult) {
	for i := range results {
		r := &results[i]
		cos := 0.0
		if len(r.Entry.Vector) == len(queryVec) {
			cos = max(vector.Cosine(queryVec, r.Entry.Vector), 0)
		}
		r.Score = (1-lightweightWeight)*r.Score + lightweightWeight*cos
	}
}

// applyRerankScores replaces scores with vendor scores. Results the vendor
// did not return keep their score.
func applyRerankScores(results []models.SearchResult, scores []RerankScore) {
	for rank, s := range scores {
		r := &results[s.Index]
		r.Score = s.Score
		r.Sources.Reranked = &models.SourceHit{Score: s.Score, Rank: rank + 1}
	}
}
