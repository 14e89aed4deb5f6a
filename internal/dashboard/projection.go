package dashboard

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/hyperjump/kbsearch/internal/models"
)

// DefaultProjectionLimit caps Projection when no limit is given.
const DefaultProjectionLimit = 500

// ErrInvalidDims is returned when a projection is not 2 or 3 dimensional.
var ErrInvalidDims = errors.New("projection dims must be 2 or 3")

// Projection is a low-dimensional view of indexed embeddings of one kind.
type Projection struct {
	Kind   models.Kind `json:"kind"`
	Dims   int         `json:"dims"`
	IDs    []string    `json:"ids"`
	Labels []string    `json:"labels"`
	Points [][]float64 `json:"points"`
	// Explained is the variance share of each returned component.
	Explained []float64 `json:"explained_variance"`
}

// Projection maps the first limit indexed documents of kind onto their dims leading
// principal components. Points are centred on the mean embedding. Components the data
// cannot provide, such as a third axis for two documents, are zero.
func (s *Service) Projection(ctx context.Context, kind models.Kind, dims, limit int) (*Projection, error) {
	if dims != 2 && dims != 3 {
		return nil, ErrInvalidDims
	}
	if limit <= 0 {
		limit = DefaultProjectionLimit
	}
	entries := s.engine.Vectors(kind)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	p := &Projection{
		Kind:      kind,
		Dims:      dims,
		IDs:       make([]string, len(entries)),
		Labels:    make([]string, len(entries)),
		Points:    make([][]float64, len(entries)),
		Explained: make([]float64, dims),
	}
	for i, en := range entries {
		p.IDs[i] = en.ID
		p.Labels[i] = s.label(ctx, en.ID)
		p.Points[i] = make([]float64, dims)
	}
	if len(entries) < 2 {
		return p, nil
	}

	width := len(entries[0].Vector)
	data := mat.NewDense(len(entries), width, nil)
	for i, en := range entries {
		if len(en.Vector) != width {
			return nil, fmt.Errorf("projection: %s has %d dimensions, want %d", en.ID, len(en.Vector), width)
		}
		for j, v := range en.Vector {
			data.Set(i, j, float64(v))
		}
	}
	for j := 0; j < width; j++ {
		mean := stat.Mean(mat.Col(nil, j, data), nil)
		for i := 0; i < len(entries); i++ {
			data.Set(i, j, data.At(i, j)-mean)
		}
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return nil, errors.New("projection: principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, ncomp := vecs.Dims()
	k := min(dims, ncomp)

	var proj mat.Dense
	proj.Mul(data, vecs.Slice(0, width, 0, k))
	for i := range entries {
		for j := 0; j < k; j++ {
			p.Points[i][j] = proj.At(i, j)
		}
	}

	vars := pc.VarsTo(nil)
	var total float64
	for _, v := range vars {
		total += v
	}
	if total > 0 {
		for j := 0; j < k && j < len(vars); j++ {
			p.Explained[j] = vars[j] / total
		}
	}
	return p, nil
}
