package retriever

import (
	"math"
	"unicode/utf8"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
)

const msPerDay = 24 * 60 * 60 * 1000

// halfLifeFactor is 1 at age zero and halves every halfLife days.
func halfLifeFactor(ageDays, halfLife float64) float64 {
	return math.Exp(-math.Ln2 * ageDays / halfLife)
}

// recencyBoost is the additive bonus for fresh entries, capped at maxRecencyBoost.
func recencyBoost(ageDays float64, cfg Config) float64 {
	if cfg.RecencyHalfLifeDays <= 0 || cfg.RecencyWeight <= 0 {
		return 0
	}
	return math.Min(cfg.RecencyWeight*halfLifeFactor(ageDays, cfg.RecencyHalfLifeDays), maxRecencyBoost)
}

// importanceFactor maps importance in [0,1] to a multiplier in [0.7,1].
func importanceFactor(importance float64) float64 {
	if math.IsNaN(importance) {
		importance = models.DefaultImportance
	}
	importance = math.Max(0, math.Min(1, importance))
	return 0.7 + 0.3*importance
}

// lengthFactor penalizes texts longer than anchor runes logarithmically.
func lengthFactor(text string, anchor int) float64 {
	if anchor <= 0 {
		return 1
	}
	n := utf8.RuneCountInString(text)
	if n <= anchor {
		return 1
	}
	return 1 / (1 + 0.5*math.Log2(float64(n)/float64(anchor)))
}

// decayFactor never drops below 0.5, so old entries fade without vanishing.
func decayFactor(ageDays float64, halfLife float64) float64 {
	if halfLife <= 0 {
		return 1
	}
	return 0.5 + 0.5*halfLifeFactor(ageDays, halfLife)
}

// applyTemporal adjusts each score for recency, importance, length and age.
// Future timestamps count as age zero.
func applyTemporal(results []models.SearchResult, cfg Config, nowMs int64) {
	for i := range results {
		r := &results[i]
		ageDays := math.Max(0, float64(nowMs-r.Entry.Timestamp)/msPerDay)

		score := r.Score + recencyBoost(ageDays, cfg)
		score *= importanceFactor(r.Entry.Importance)
		score *= lengthFactor(r.Entry.Text, cfg.LengthNormAnchor)
		score *= decayFactor(ageDays, cfg.TimeDecayHalfLifeDays)
		r.Score = score
	}
}
