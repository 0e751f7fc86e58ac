package retriever

import (
	"fmt"
	"math"
)

// Mode selects which candidate sources feed the pipeline.
type Mode string

const (
	ModeHybrid Mode = "hybrid"
	ModeVector Mode = "vector"
)

// RerankMode selects the rerank strategy.
type RerankMode string

const (
	RerankCrossEncoder RerankMode = "cross-encoder"
	RerankLightweight  RerankMode = "lightweight"
	RerankNone         RerankMode = "none"
)

func (m RerankMode) IsValid() bool {
	return m == RerankCrossEncoder || m == RerankLightweight || m == RerankNone
}

const (
	maxLimit = 20

	// maxRecencyBoost caps the additive recency contribution.
	maxRecencyBoost = 0.15

	// lightweightWeight is the share of the cosine score in lightweight reranking.
	lightweightWeight = 0.3

	// mmrDemotion scales a demoted pick just below the one before it.
	mmrDemotion = 0.999
)

// Config tunes the retrieval pipeline. Weights must sum to 1.
type Config struct {
	Mode                  Mode       `yaml:"mode" json:"mode"`
	VectorWeight          float64    `yaml:"vectorWeight" json:"vectorWeight"`
	BM25Weight            float64    `yaml:"bm25Weight" json:"bm25Weight"`
	DualHitBonus          float64    `yaml:"dualHitBonus" json:"dualHitBonus"`
	MinScore              float64    `yaml:"minScore" json:"minScore"`
	HardMinScore          float64    `yaml:"hardMinScore" json:"hardMinScore"`
	Rerank                RerankMode `yaml:"rerank" json:"rerank"`
	RerankModel           string     `yaml:"rerankModel" json:"rerankModel"`
	CandidatePoolSize     int        `yaml:"candidatePoolSize" json:"candidatePoolSize"`
	RecencyHalfLifeDays   float64    `yaml:"recencyHalfLifeDays" json:"recencyHalfLifeDays"`
	RecencyWeight         float64    `yaml:"recencyWeight" json:"recencyWeight"`
	FilterNoise           bool       `yaml:"filterNoise" json:"filterNoise"`
	TimeDecayHalfLifeDays float64    `yaml:"timeDecayHalfLifeDays" json:"timeDecayHalfLifeDays"`
	LengthNormAnchor      int        `yaml:"lengthNormAnchor" json:"lengthNormAnchor"`
	DiversityPenalty      float64    `yaml:"diversityPenalty" json:"diversityPenalty"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeHybrid,
		VectorWeight:          0.7,
		BM25Weight:            0.3,
		DualHitBonus:          0.05,
		MinScore:              0.3,
		HardMinScore:          0.35,
		Rerank:                RerankCrossEncoder,
		RerankModel:           "jina-reranker-v2-base-multilingual",
		CandidatePoolSize:     20,
		RecencyHalfLifeDays:   14,
		RecencyWeight:         0.1,
		FilterNoise:           true,
		TimeDecayHalfLifeDays: 60,
		LengthNormAnchor:      500,
		DiversityPenalty:      0.3,
	}
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Mode != ModeHybrid && c.Mode != ModeVector {
		return fmt.Errorf("unknown retrieval mode %q", c.Mode)
	}
	if !inUnit(c.VectorWeight) || !inUnit(c.BM25Weight) {
		return fmt.Errorf("vector and bm25 weights must be within [0, 1]")
	}
	if sum := c.VectorWeight + c.BM25Weight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("vector and bm25 weights must sum to 1.0, got %.2f", sum)
	}
	if !inUnit(c.DualHitBonus) {
		return fmt.Errorf("dual-hit bonus must be within [0, 1]")
	}
	if !inUnit(c.MinScore) || !inUnit(c.HardMinScore) {
		return fmt.Errorf("score thresholds must be within [0, 1]")
	}
	if !c.Rerank.IsValid() {
		return fmt.Errorf("unknown rerank strategy %q", c.Rerank)
	}
	if c.CandidatePoolSize < 1 {
		return fmt.Errorf("candidate pool size must be positive, got %d", c.CandidatePoolSize)
	}
	if c.RecencyHalfLifeDays < 0 || c.TimeDecayHalfLifeDays < 0 {
		return fmt.Errorf("half-lives must not be negative")
	}
	if !inUnit(c.RecencyWeight) {
		return fmt.Errorf("recency weight must be within [0, 1]")
	}
	if c.LengthNormAnchor < 0 {
		return fmt.Errorf("length normalization anchor must not be negative")
	}
	if !inUnit(c.DiversityPenalty) {
		return fmt.Errorf("diversity penalty must be within [0, 1]")
	}
	return nil
}
