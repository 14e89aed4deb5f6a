// Package vector holds document embeddings in memory and answers exact nearest-neighbour
// queries by linear scan.
//
// A query costs O(n*d) for n entries of dimension d. At knowledge-base scale (tens of
// thousands of documents) this is a few milliseconds and needs no tuning or rebuilds.
package vector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kbsearch/pkg/utils"
)

// ErrDimensionMismatch is matched by every *DimensionMismatchError via errors.Is.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DimensionMismatchError reports a vector whose length differs from the index dimension.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, want %d", e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Result is one query hit.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Entry is a stored vector with its document id.
type Entry struct {
	ID     string
	Vector []float32
}

type entry struct {
	seq  uint64
	vec  []float32
	norm float64
}

// Index maps document ids to embeddings. It is safe for concurrent use; queries run in
// parallel and mutations are exclusive.
type Index struct {
	mu         sync.RWMutex
	dimensions int
	entries    map[string]*entry
	nextSeq    uint64
}

// NewIndex returns an empty index. With dimensions <= 0 the dimension is fixed by the first
// Insert.
func NewIndex(dimensions int) *Index {
	if dimensions < 0 {
		dimensions = 0
	}
	return &Index{
		dimensions: dimensions,
		entries:    make(map[string]*entry),
	}
}

// Insert stores a copy of vec under id, replacing any previous entry for id. A replaced
// entry counts as newly inserted for tie-breaking.
func (x *Index) Insert(id string, vec []float32) error {
	if id == "" {
		return errors.New("vector insert: empty id")
	}
	if len(vec) == 0 {
		return errors.New("vector insert: empty vector")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dimensions == 0 {
		x.dimensions = len(vec)
	} else if len(vec) != x.dimensions {
		return &DimensionMismatchError{Got: len(vec), Want: x.dimensions}
	}
	x.nextSeq++
	x.entries[id] = &entry{
		seq:  x.nextSeq,
		vec:  utils.CloneVector(vec),
		norm: utils.L2Norm(vec),
	}
	return nil
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries, id)
}

// Query returns up to k entries closest to q under metric, best first. Equal scores keep
// insertion order. An empty metric means DefaultMetric.
func (x *Index) Query(q []float32, k int, metric Metric) ([]Result, error) {
	return x.QueryFiltered(q, k, metric, nil)
}

// QueryFiltered is Query restricted to ids for which keep returns true. A nil keep
// accepts every id. keep is called with the index read-locked and must not call back
// into the index.
func (x *Index) QueryFiltered(q []float32, k int, metric Metric, keep func(id string) bool) ([]Result, error) {
	if metric == "" {
		metric = DefaultMetric
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.dimensions != 0 && len(q) != x.dimensions {
		return nil, &DimensionMismatchError{Got: len(q), Want: x.dimensions}
	}
	if k <= 0 || len(x.entries) == 0 {
		return []Result{}, nil
	}

	type scored struct {
		id    string
		seq   uint64
		score float64
	}
	qn := utils.L2Norm(q)
	all := make([]scored, 0, len(x.entries))
	for id, e := range x.entries {
		if keep != nil && !keep(id) {
			continue
		}
		all = append(all, scored{id: id, seq: e.seq, score: metric.score(q, qn, e.vec, e.norm)})
	}

	asc := metric.Ascending()
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			if asc {
				return all[i].score < all[j].score
			}
			return all[i].score > all[j].score
		}
		return all[i].seq < all[j].seq
	})

	if k > len(all) {
		k = len(all)
	}
	out := make([]Result, k)
	for i := range out {
		out[i] = Result{ID: all[i].id, Score: all[i].score}
	}
	return out, nil
}

// Get returns the vector stored for id. The slice must not be modified.
func (x *Index) Get(id string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[id]
	if !ok {
		return nil, false
	}
	return e.vec, true
}

// Entries returns a snapshot of all entries in insertion order.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	type seqEntry struct {
		Entry
		seq uint64
	}
	tmp := make([]seqEntry, 0, len(x.entries))
	for id, e := range x.entries {
		tmp = append(tmp, seqEntry{Entry: Entry{ID: id, Vector: e.vec}, seq: e.seq})
	}
	x.mu.RUnlock()

	sort.Slice(tmp, func(i, j int) bool { return tmp[i].seq < tmp[j].seq })
	out := make([]Entry, len(tmp))
	for i, e := range tmp {
		out[i] = e.Entry
	}
	return out
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Dimensions returns the vector length, or 0 before the first Insert of an unsized index.
func (x *Index) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dimensions
}

// Reset removes all entries. Unless keepDimensions is set, the next Insert fixes the
// dimension again.
func (x *Index) Reset(keepDimensions bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[string]*entry)
	if !keepDimensions {
		x.dimensions = 0
	}
}
