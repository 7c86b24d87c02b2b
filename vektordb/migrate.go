package vektordb

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xDarkicex/vektordb/internal/storage"
	"github.com/xDarkicex/vektordb/internal/storage/legacy"
	"github.com/xDarkicex/vektordb/internal/vmath"
)

// MigrateLegacy copies a legacy JSON-document index into a fresh optimized
// index at destPath, preserving ids, vectors and metadata. The whole
// migration commits as one transaction; a failure rolls it back and leaves
// destPath as the empty index that Create set up.
func MigrateLegacy(ctx context.Context, legacyPath, destPath string, opts ...Option) error {
	src, err := legacy.Open(legacyPath, legacy.Options{})
	if err != nil {
		return fmt.Errorf("failed to open legacy index: %w", err)
	}
	defer src.Close()

	manifestData, err := src.GetManifest()
	if err != nil {
		return fmt.Errorf("legacy index has no manifest: %w", err)
	}
	manifest, err := storage.DecodeManifest(manifestData)
	if err != nil {
		return err
	}
	metric, err := vmath.ParseMetric(manifest.Metric)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	derived := []Option{
		WithDimension(manifest.Dim),
		WithMetric(metricFromVmath(metric)),
		WithNormalize(manifest.Normalized),
		WithHNSW(manifest.M, manifest.EfConstruction, manifest.EfSearch),
		WithMMax0(manifest.MMax0),
		WithMaxLevels(manifest.MaxLevel),
		WithMetadataConfig(MetadataConfig{
			Indexed:      manifest.Metadata.Indexed,
			Stored:       manifest.Metadata.Stored,
			MaxSizeBytes: manifest.Metadata.MaxSizeBytes,
			Dynamic:      manifest.Metadata.Dynamic,
		}),
	}
	dest, err := Create(destPath, append(derived, opts...)...)
	if err != nil {
		return fmt.Errorf("failed to create destination index: %w", err)
	}
	defer dest.Close()

	if err := dest.BeginUpdate(); err != nil {
		return err
	}
	err = src.ScanMetadata(func(id uuid.UUID, data []byte) error {
		record, err := storage.DecodeItemRecord(data)
		if err != nil {
			return err
		}
		if record.Deleted {
			return nil
		}
		vector, err := src.GetVector(record.NodeID)
		if err != nil {
			return err
		}
		_, err = dest.Insert(ctx, id, vector, record.Metadata)
		return err
	})
	if err != nil {
		dest.CancelUpdate()
		return fmt.Errorf("migration failed: %w", err)
	}
	return dest.EndUpdate(ctx)
}
