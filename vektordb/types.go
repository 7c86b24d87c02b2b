package vektordb

import (
	"time"

	"github.com/google/uuid"

	"github.com/xDarkicex/vektordb/internal/vmath"
)

// DistanceMetric defines the distance function of an index
type DistanceMetric int

const (
	Cosine DistanceMetric = iota
	Euclidean
	DotProduct
)

// String returns the manifest name of the metric
func (m DistanceMetric) String() string {
	return m.vmath().String()
}

func (m DistanceMetric) vmath() vmath.Metric {
	switch m {
	case Euclidean:
		return vmath.Euclidean
	case DotProduct:
		return vmath.Dot
	default:
		return vmath.Cosine
	}
}

func metricFromVmath(m vmath.Metric) DistanceMetric {
	switch m {
	case vmath.Euclidean:
		return Euclidean
	case vmath.Dot:
		return DotProduct
	default:
		return Cosine
	}
}

// Item is one stored vector with its metadata document
type Item struct {
	ID        uuid.UUID      `json:"id"`
	Vector    []float32      `json:"vector"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Version   uint64         `json:"version"`
}

// SearchResult pairs an item with its similarity score in [0,1], higher is
// better
type SearchResult struct {
	Item  *Item   `json:"item"`
	Score float32 `json:"score"`
}

// SearchResults is the complete response of a query
type SearchResults struct {
	Results []*SearchResult `json:"results"`
	Took    time.Duration   `json:"took"`
	Total   int             `json:"total"`
}

// MetadataConfig declares which metadata paths are indexed (eligible for
// filter pushdown), whether documents are stored, and the serialized size
// bound per item.
type MetadataConfig struct {
	Indexed      []string `json:"indexed,omitempty"`
	Stored       bool     `json:"stored"`
	MaxSizeBytes int      `json:"max_size_bytes"`
	Dynamic      bool     `json:"dynamic"`
}

// Stats describes the current committed state of an index
type Stats struct {
	ItemCount      int            `json:"item_count"`
	TombstoneCount int            `json:"tombstone_count"`
	Dimension      int            `json:"dimension"`
	Metric         DistanceMetric `json:"metric"`
	MaxLevel       int            `json:"max_level"`
}

// ParseID parses a textual item id
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}
