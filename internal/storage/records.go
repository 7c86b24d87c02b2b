package storage

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FormatVersion is the current on-disk format. Readers refuse versions they
// do not understand.
const FormatVersion = 2

// Manifest is the index-level record describing dimensionality, parameters
// and the entry point. It is rewritten only at commit boundaries.
type Manifest struct {
	Version        int     `json:"version"`
	Dim            int     `json:"dim"`
	Metric         string  `json:"metric"`
	Normalized     bool    `json:"normalized"`
	M              int     `json:"M"`
	MMax0          int     `json:"M_max0"`
	EfConstruction int     `json:"ef_construction"`
	EfSearch       int     `json:"ef_search"`
	MaxLevel       int     `json:"max_level"`
	ML             float64 `json:"mL"`
	EntryPoint     int64   `json:"entry_point"` // -1 when the graph is empty
	ItemCount      int     `json:"item_count"`
	TombstoneCount int     `json:"tombstone_count"`
	ScoreMap       string  `json:"score_map"`
	NextNodeID     uint32  `json:"next_node_id"`
	VectorGen      int     `json:"vector_generation"`

	Metadata MetadataConfigRecord `json:"metadata_config"`
}

// MetadataConfigRecord persists the metadata configuration given at index
// creation.
type MetadataConfigRecord struct {
	Indexed      []string `json:"indexed,omitempty"`
	Stored       bool     `json:"stored"`
	MaxSizeBytes int      `json:"max_size_bytes"`
	Dynamic      bool     `json:"dynamic"`
}

// Encode serializes the manifest
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses and version-checks a manifest record
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: malformed manifest: %v", ErrCorruption, err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: manifest version %d", ErrSchemaVersionMismatch, m.Version)
	}
	return &m, nil
}

// ItemRecord is the durable form of one vector item. The vector itself
// lives in the vector file at the row given by NodeID.
type ItemRecord struct {
	ID        uuid.UUID      `json:"id"`
	NodeID    uint32         `json:"node_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	Version   uint64         `json:"version"`
	Deleted   bool           `json:"deleted,omitempty"`
}

// Encode serializes the item record
func (r *ItemRecord) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item record: %w", err)
	}
	return data, nil
}

// DecodeItemRecord parses an item record
func DecodeItemRecord(data []byte) (*ItemRecord, error) {
	var r ItemRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: malformed item record: %v", ErrCorruption, err)
	}
	return &r, nil
}

// EncodeFreeList serializes the reclaimed node id list
func EncodeFreeList(ids []uint32) ([]byte, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode free list: %w", err)
	}
	return data, nil
}

// DecodeFreeList parses the reclaimed node id list
func DecodeFreeList(data []byte) ([]uint32, error) {
	var ids []uint32
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%w: malformed free list: %v", ErrCorruption, err)
	}
	return ids, nil
}
