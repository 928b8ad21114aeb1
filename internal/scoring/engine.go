package scoring

import (
	"errors"
	"math"

	"UltraFlow/internal/domain/models"
	xlogger "UltraFlow/pkg/logger"
)

// ErrInvalidWeights is returned when the configured weights are degenerate
// (all zero or negative). This is fatal at startup, never per-signal.
var ErrInvalidWeights = errors.New("scoring: all weights are zero or negative")

// Engine computes a 0-100 confidence score as a weighted sum over the
// configured metric keys. Built once at startup; scoring itself is pure.
type Engine struct {
	weights  map[string]float64 // normalized to sum 1.0
	minScore float64
}

// NewEngine validates and normalizes the weight configuration. Negative
// weights are treated as zero. Weights that do not sum to 1.0 are normalized
// and the deviation logged, not rejected: only a fully degenerate
// configuration fails.
func NewEngine(weights map[string]float64, minScore float64, log *xlogger.Logger) (*Engine, error) {
	var sum float64
	cleaned := make(map[string]float64, len(weights))
	for k, w := range weights {
		if w < 0 {
			if log != nil {
				log.Warn("negative weight treated as zero", xlogger.String("metric", k), xlogger.Any("weight", w))
			}
			w = 0
		}
		cleaned[k] = w
		sum += w
	}
	if sum <= 0 {
		return nil, ErrInvalidWeights
	}
	if math.Abs(sum-1.0) > 1e-9 {
		if log != nil {
			log.Warn("weights do not sum to 1.0, normalizing", xlogger.Any("sum", sum))
		}
		for k, w := range cleaned {
			cleaned[k] = w / sum
		}
	}
	return &Engine{weights: cleaned, minScore: minScore}, nil
}

// MinScore returns the configured admission gate.
func (e *Engine) MinScore() float64 { return e.minScore }

// Score computes the weighted score for a feature map. Missing features
// contribute 0; out-of-range values are clamped since upstream sources are
// untrusted. The per-metric contributions are retained for auditability.
func (e *Engine) Score(features map[string]float64) models.ScoreResult {
	contrib := make(map[string]float64, len(e.weights))
	var total float64
	for k, w := range e.weights {
		v := clamp(features[k], 0, 100)
		c := v * w
		contrib[k] = c
		total += c
	}
	total = clamp(total, 0, 100)
	return models.ScoreResult{
		Score:         total,
		Contributions: contrib,
		Passed:        total >= e.minScore,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
