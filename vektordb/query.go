package vektordb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xDarkicex/vektordb/internal/hnsw"
	"github.com/xDarkicex/vektordb/internal/vmath"
)

// scanThreshold is the live-count bound at or below which queries fall back to an
// exact linear scan instead of graph traversal.
const scanThreshold = 128

// QueryBuilder provides a fluent interface for building vector queries
type QueryBuilder struct {
	ctx      context.Context
	idx      *Index
	vector   []float32
	k        int
	filter   Filter
	efSearch int // overrides the index default when positive
}

// Query returns a new query builder
func (idx *Index) Query(ctx context.Context) *QueryBuilder {
	return &QueryBuilder{ctx: ctx, idx: idx, k: 10}
}

// WithVector sets the query vector
func (qb *QueryBuilder) WithVector(vector []float32) *QueryBuilder {
	qb.vector = append([]float32(nil), vector...)
	return qb
}

// Limit sets k, the maximum number of results
func (qb *QueryBuilder) Limit(k int) *QueryBuilder {
	qb.k = k
	return qb
}

// WithFilter restricts results to items whose metadata satisfies f
func (qb *QueryBuilder) WithFilter(f Filter) *QueryBuilder {
	qb.filter = f
	return qb
}

// WithEfSearch overrides the index's default efSearch parameter
func (qb *QueryBuilder) WithEfSearch(efSearch int) *QueryBuilder {
	qb.efSearch = efSearch
	return qb
}

// Execute runs the query and returns results ordered by descending score.
// Ties in distance resolve toward the lower node id, so identical inputs on
// identical state return identical orderings.
func (qb *QueryBuilder) Execute() (*SearchResults, error) {
	results, err := qb.idx.search(qb.ctx, qb.vector, qb.k, qb.filter, qb.efSearch)
	if err != nil && qb.idx.metrics != nil {
		qb.idx.metrics.SearchErrors.Inc()
	}
	return results, err
}

// Search is the plain form of Query(...).WithVector(v).Limit(k).Execute()
func (idx *Index) Search(ctx context.Context, vector []float32, k int) (*SearchResults, error) {
	results, err := idx.search(ctx, vector, k, nil, 0)
	if err != nil && idx.metrics != nil {
		idx.metrics.SearchErrors.Inc()
	}
	return results, err
}

func (idx *Index) search(ctx context.Context, vector []float32, k int, f Filter, efOverride int) (*SearchResults, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if len(vector) != idx.config.Dim {
		return nil, fmt.Errorf("%w: got %d, index dimension %d", ErrDimensionMismatch, len(vector), idx.config.Dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	var pred predicate
	if f != nil {
		var err error
		if pred, err = predicateOf(f); err != nil {
			return nil, err
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	defer func() {
		idx.metrics.SearchQueries.Inc()
		idx.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	}()

	query := append([]float32(nil), vector...)
	if idx.config.Normalize {
		if !vmath.Normalize(query) {
			return nil, fmt.Errorf("%w: zero vector cannot be normalized", ErrInvalidInput)
		}
	}

	// Indexed-field filters evaluate during candidate collection; rejected
	// nodes are traversed but never occupy result slots.
	var accept hnsw.Accept
	if pred != nil && idx.pushdownEligible(f) {
		accept = func(nodeID uint32) bool {
			meta, err := idx.metadataFor(nodeID)
			return err == nil && pred(meta)
		}
	}

	effectiveEf := idx.config.EfSearch
	if efOverride > 0 {
		effectiveEf = efOverride
	}

	// Over-provision by alpha*k when a filter is present, doubling until
	// enough candidates pass, the graph is exhausted, or the cap is hit.
	alpha := 1
	if pred != nil {
		alpha = 3
	}

	for {
		want := k * alpha
		ef := effectiveEf
		if ef < want {
			ef = want
		}

		candidates, err := idx.searchGraph(ctx, query, want, ef, accept)
		if err != nil {
			return nil, idx.mapSearchErr(ctx, err)
		}

		passed, err := idx.filterCandidates(ctx, candidates, pred)
		if err != nil {
			return nil, err
		}

		exhausted := len(candidates) < want
		if len(passed) >= k || exhausted || alpha >= idx.config.RetryCap {
			if len(passed) > k {
				passed = passed[:k]
			}
			results, err := idx.buildResults(passed)
			if err != nil {
				return nil, err
			}
			return &SearchResults{
				Results: results,
				Took:    time.Since(start),
				Total:   len(results),
			}, nil
		}
		alpha *= 2
		if alpha > idx.config.RetryCap {
			alpha = idx.config.RetryCap
		}
	}
}

// searchGraph picks graph traversal or the exact small-N fallback
func (idx *Index) searchGraph(ctx context.Context, query []float32, k, ef int, accept hnsw.Accept) ([]vmath.Candidate, error) {
	if idx.graph.Size() <= scanThreshold {
		return idx.graph.Scan(ctx, query, k, accept)
	}
	return idx.graph.Search(ctx, query, k, ef, accept)
}

// filterCandidates applies the metadata predicate post-fetch; the pushdown
// path re-checks from the cache, which keeps P7 soundness independent of
// which path collected a candidate.
func (idx *Index) filterCandidates(ctx context.Context, candidates []vmath.Candidate, pred predicate) ([]vmath.Candidate, error) {
	if pred == nil {
		return candidates, nil
	}

	passed := candidates[:0:0]
	for _, candidate := range candidates {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		default:
		}

		meta, err := idx.metadataFor(candidate.ID)
		if err != nil {
			return nil, err
		}
		if pred(meta) {
			passed = append(passed, candidate)
		}
	}
	return passed, nil
}

func (idx *Index) buildResults(candidates []vmath.Candidate) ([]*SearchResult, error) {
	results := make([]*SearchResult, 0, len(candidates))
	for _, candidate := range candidates {
		itemID, ok := idx.nodeItems[candidate.ID]
		if !ok {
			return nil, fmt.Errorf("%w: node %d has no item", ErrCorruption, candidate.ID)
		}
		header := idx.items[itemID]

		metadata, err := idx.metadataFor(candidate.ID)
		if err != nil {
			return nil, err
		}
		vector, err := idx.backend.GetVector(candidate.ID)
		if err != nil {
			return nil, err
		}

		results = append(results, &SearchResult{
			Item: &Item{
				ID:        itemID,
				Vector:    append([]float32(nil), vector...),
				Metadata:  metadata,
				CreatedAt: timeFromStamp(header.createdAt),
				UpdatedAt: timeFromStamp(header.updatedAt),
				Version:   header.version,
			},
			Score: idx.scoreMap.Score(candidate.Distance),
		})
	}
	return results, nil
}

func (idx *Index) mapSearchErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}
