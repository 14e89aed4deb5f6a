package vector

import (
	"fmt"
	"math"
	"strings"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// Metric selects how a query is compared with indexed vectors.
type Metric string

const (
	// Cosine is the cosine of the angle between vectors; higher is closer. Zero vectors score 0.
	Cosine Metric = "cosine"
	// DotProduct is the raw inner product; higher is closer.
	DotProduct Metric = "dot"
	// Euclidean is the L2 distance; lower is closer.
	Euclidean Metric = "euclidean"
)

// DefaultMetric is used when a query names no metric.
const DefaultMetric = Cosine

// ParseMetric accepts "cosine", "dot", "euclidean" (case-insensitive) or "" for the default.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DefaultMetric, nil
	case Cosine, DotProduct, Euclidean:
		return m, nil
	case "l2":
		return Euclidean, nil
	case "inner_product", "ip":
		return DotProduct, nil
	default:
		return "", fmt.Errorf("unknown metric %q (supported: cosine, dot, euclidean)", s)
	}
}

// Ascending reports whether smaller scores rank first.
func (m Metric) Ascending() bool {
	return m == Euclidean
}

// score compares q (with precomputed norm qn) against v (norm vn).
func (m Metric) score(q []float32, qn float64, v []float32, vn float64) float64 {
	switch m {
	case DotProduct:
		return utils.Dot(q, v)
	case Euclidean:
		var sum float64
		for i := range q {
			d := float64(q[i]) - float64(v[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	default:
		if qn == 0 || vn == 0 {
			return 0
		}
		return utils.Dot(q, v) / (qn * vn)
	}
}

// Similarity returns the score of a against b under m. It returns a *DimensionMismatchError
// when the lengths differ.
func Similarity(m Metric, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Got: len(b), Want: len(a)}
	}
	return m.score(a, utils.L2Norm(a), b, utils.L2Norm(b)), nil
}
