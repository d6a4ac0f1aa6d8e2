package zarrguard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"

	"github.com/xarrlab/zarrguard/zarr"
)

// Strategy is the closed set of no-data policies for store creation.
type Strategy string

const (
	// StrategyManifest leaves no-data chunks physically absent and records
	// them in a per-variable manifest.
	StrategyManifest Strategy = "manifest"
	// StrategyEmptyChunks materializes no-data chunks as fill-value payloads
	// and writes no manifest; absence is never sanctioned.
	StrategyEmptyChunks Strategy = "empty_chunks"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyManifest, StrategyEmptyChunks:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: %q (want %q or %q)", ErrUnsupportedStrategy, s, StrategyManifest, StrategyEmptyChunks)
	}
}

// CreateOptions configures store creation.
type CreateOptions struct {
	// StorePath labels the report; the store itself is reached through the
	// bucket.
	StorePath string
	// NoDataChunks maps variable names to chunk coordinates that carry no
	// data.
	NoDataChunks map[string][][]int
	// Strategy defaults to StrategyManifest.
	Strategy Strategy
	// Overwrite clears a non-empty target instead of failing.
	Overwrite bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Create writes the dataset to the bucket under the chosen no-data strategy
// and verifies the result. Every no-data coordinate is validated against its
// variable's chunk grid before anything is written, and manifests are only
// written after all data writes succeed, so a failed create never leaves a
// manifest claiming more than the store holds.
func Create(ctx context.Context, bucket *blob.Bucket, ds *zarr.Dataset, opts CreateOptions) (*CreateReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyManifest
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	report := &CreateReport{
		StorePath:        opts.StorePath,
		RunID:            uuid.NewString(),
		NoDataStrategy:   strategy,
		ManifestsWritten: []string{},
		SkippedChunks:    map[string][]ChunkRef{},
	}

	noData := make(map[string]map[string]bool)
	refs := make(map[string][]ChunkRef)
	for _, variable := range slices.Sorted(maps.Keys(opts.NoDataChunks)) {
		arr := ds.ArrayByName(variable)
		if arr == nil {
			return nil, fmt.Errorf("%w: unknown variable %q in no-data declaration", zarr.ErrInvalidCoordinate, variable)
		}
		spec := arr.Spec()
		coordSet := make(map[string]bool)
		for _, coord := range normalizeCoords(opts.NoDataChunks[variable]) {
			in, err := zarr.CoordInBounds(spec, coord)
			if err != nil {
				return nil, err
			}
			if !in {
				return nil, fmt.Errorf("%w: %v out of grid for variable %q", zarr.ErrInvalidCoordinate, coord, variable)
			}
			key, err := zarr.ChunkKey(spec, coord)
			if err != nil {
				return nil, err
			}
			coordSet[coordString(coord)] = true
			refs[variable] = append(refs[variable], ChunkRef{Coord: coord, Key: key})
		}
		noData[variable] = coordSet
	}

	if err := prepareTarget(ctx, bucket, opts.Overwrite); err != nil {
		return nil, err
	}

	isNoData := func(variable string, coord []int) bool {
		return noData[variable][coordString(coord)]
	}
	writeOpts := zarr.WriteOptions{}
	switch strategy {
	case StrategyManifest:
		writeOpts.Skip = isNoData
	case StrategyEmptyChunks:
		writeOpts.Fill = isNoData
	}
	if err := zarr.WriteDataset(ctx, bucket, ds, writeOpts); err != nil {
		return nil, err
	}

	if strategy == StrategyManifest {
		for _, variable := range slices.Sorted(maps.Keys(refs)) {
			entries := make([]ManifestEntry, len(refs[variable]))
			for i, ref := range refs[variable] {
				entries[i] = ManifestEntry{Coord: ref.Coord, Key: ref.Key}
			}
			m := &Manifest{Variable: variable, AllowedMissing: entries}
			if err := SaveManifest(ctx, bucket, m); err != nil {
				return nil, err
			}
			report.ManifestsWritten = append(report.ManifestsWritten, ManifestPath(variable))
			report.SkippedChunks[variable] = refs[variable]
		}
	}

	verify := Check(ctx, bucket, CheckOptions{StorePath: opts.StorePath, Logger: logger})
	report.OK = verify.Passed()
	if !report.OK {
		return report, fmt.Errorf("created store failed integrity validation: %v", verify.Errors)
	}

	logger.Info("store created",
		"run_id", report.RunID,
		"store", report.StorePath,
		"strategy", string(strategy),
		"manifests", len(report.ManifestsWritten),
		"duration", time.Since(start))
	return report, nil
}

// prepareTarget fails on a non-empty target unless overwrite was requested,
// in which case all existing keys are removed first.
func prepareTarget(ctx context.Context, bucket *blob.Bucket, overwrite bool) error {
	var keys []string
	it := bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: listing target: %v", zarr.ErrStoreUnreadable, err)
		}
		if !overwrite {
			return ErrStoreExists
		}
		keys = append(keys, obj.Key)
	}
	for _, key := range keys {
		if err := bucket.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}
