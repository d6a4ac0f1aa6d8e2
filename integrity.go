package zarrguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"github.com/xarrlab/zarrguard/zarr"
)

// CheckOptions configures an integrity check.
type CheckOptions struct {
	// StorePath labels the report; the store itself is reached through the
	// bucket.
	StorePath string
	// StrictStale fails the verdict on stale manifest entries, not just on
	// unexpectedly missing chunks.
	StrictStale bool
	// Timing captures a coarse timing breakdown in the report.
	Timing bool
	// Workers bounds concurrent presence probes. Values below 2 probe
	// sequentially. Concurrency never changes report content: findings are
	// classified in grid order after all probes finish.
	Workers int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Check validates completeness of a Zarr v3 store: every chunk of every
// array must exist, or its absence must be sanctioned by the variable's
// manifest. The check is read-only and never inspects chunk payloads. A
// failure confined to one variable (corrupt manifest, unreadable metadata)
// degrades that variable and is recorded in Errors while the remaining
// variables still complete.
func Check(ctx context.Context, bucket *blob.Bucket, opts CheckOptions) *Report {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := &Report{
		StorePath:   opts.StorePath,
		RunID:       uuid.NewString(),
		StrictStale: opts.StrictStale,
		OK:          true,
		Errors:      []string{},
		Variables:   map[string]*VariableReport{},
	}
	start := time.Now()
	if opts.Timing {
		report.Timing = &Timing{Variables: map[string]*VariableTiming{}}
	}

	scanStart := time.Now()
	specs, err := zarr.ScanArraySpecs(ctx, bucket)
	if report.Timing != nil {
		report.Timing.ScanSpecsS = time.Since(scanStart).Seconds()
	}
	if err != nil {
		report.OK = false
		report.Errors = append(report.Errors, err.Error())
		finishTiming(report, start)
		return report
	}

	var existsCalls atomic.Int64
	for _, spec := range specs {
		vr, vt, err := checkVariable(ctx, bucket, spec, opts, &existsCalls)
		report.Variables[spec.Name] = vr
		if report.Timing != nil {
			report.Timing.Variables[spec.Name] = vt
			report.Timing.ManifestS += vt.ManifestLoadS
			report.Timing.ChunkScanS += vt.ChunkScanS
		}
		if err != nil {
			vr.OK = false
			report.Errors = append(report.Errors, fmt.Sprintf("variable %s: %v", spec.Name, err))
			continue
		}
		logger.Debug("checked variable",
			"run_id", report.RunID,
			"variable", spec.Name,
			"expected_chunks", vr.ExpectedChunks,
			"missing", len(vr.Missing),
			"stale", len(vr.Stale),
			"ok", vr.OK)
	}

	report.OK = len(report.Errors) == 0
	for _, vr := range report.Variables {
		report.OK = report.OK && vr.OK
	}
	if report.Timing != nil {
		report.Timing.ExistsCalls = existsCalls.Load()
	}
	finishTiming(report, start)

	logger.Info("integrity check finished",
		"run_id", report.RunID,
		"store", report.StorePath,
		"variables", len(report.Variables),
		"ok", report.OK,
		"duration", time.Since(start))
	return report
}

func finishTiming(report *Report, start time.Time) {
	if report.Timing != nil {
		report.Timing.TotalS = time.Since(start).Seconds()
	}
}

func checkVariable(ctx context.Context, bucket *blob.Bucket, spec zarr.ArraySpec, opts CheckOptions, existsCalls *atomic.Int64) (*VariableReport, *VariableTiming, error) {
	vr := &VariableReport{
		Name:           spec.Name,
		OK:             true,
		Missing:        []ChunkRef{},
		MissingAllowed: []ChunkRef{},
		Stale:          []StaleRef{},
	}
	vt := &VariableTiming{}

	manifestStart := time.Now()
	manifest, err := LoadManifest(ctx, bucket, spec.Name)
	vt.ManifestLoadS = time.Since(manifestStart).Seconds()
	if err != nil {
		return vr, vt, err
	}
	vr.HasManifest = manifest != nil

	grid, err := zarr.GridShape(spec.Shape, spec.ChunkShape)
	if err != nil {
		return vr, vt, err
	}

	// Manifest entries outside the current grid are stale in the out-of-grid
	// sense; in-grid entries sanction absence even when their stored key has
	// gone stale.
	sanctioned := map[string]ManifestEntry{}
	if manifest != nil {
		for _, entry := range manifest.AllowedMissing {
			in, err := zarr.CoordInBounds(spec, entry.Coord)
			if err != nil {
				return vr, vt, err
			}
			if !in {
				vr.Stale = append(vr.Stale, StaleRef{Coord: entry.Coord, Key: entry.Key, Reason: StaleOutOfGrid})
				continue
			}
			sanctioned[coordString(entry.Coord)] = entry
		}
	}

	scanStart := time.Now()
	absent, err := probeMissing(ctx, bucket, spec, grid, opts.Workers, existsCalls)
	if err != nil {
		vt.ChunkScanS = time.Since(scanStart).Seconds()
		return vr, vt, err
	}

	for coord := range zarr.Coordinates(grid) {
		vr.ExpectedChunks++
		key, err := zarr.ChunkKey(spec, coord)
		if err != nil {
			return vr, vt, err
		}
		ck := coordString(coord)
		exists := !absent[ck]
		entry, inManifest := sanctioned[ck]

		switch {
		case !exists && !inManifest:
			vr.Missing = append(vr.Missing, ChunkRef{Coord: coord, Key: key})
		case !exists && entry.Key == key:
			vr.MissingAllowed = append(vr.MissingAllowed, ChunkRef{Coord: coord, Key: key})
		case !exists:
			vr.Stale = append(vr.Stale, StaleRef{Coord: coord, Key: entry.Key, Reason: StaleKeyMismatch})
		case inManifest:
			vr.Stale = append(vr.Stale, StaleRef{Coord: coord, Key: entry.Key, Reason: StaleChunkExists})
		}
	}
	vt.ChunkScanS = time.Since(scanStart).Seconds()
	vt.ExpectedChunks = vr.ExpectedChunks
	vt.MissingChunks = len(vr.Missing) + len(vr.MissingAllowed)

	vr.OK = len(vr.Missing) == 0 && (!opts.StrictStale || len(vr.Stale) == 0)
	return vr, vt, nil
}

// probeMissing stats every expected chunk and returns the set of absent
// coordinates (keyed by coordString). Probes run under a bounded errgroup;
// only absences are retained so memory tracks the damage, not the grid.
func probeMissing(ctx context.Context, bucket *blob.Bucket, spec zarr.ArraySpec, grid []int, workers int, existsCalls *atomic.Int64) (map[string]bool, error) {
	if workers < 1 {
		workers = 1
	}
	absent := make(map[string]bool)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var keyErr error
	for coord := range zarr.Coordinates(grid) {
		key, err := zarr.ChunkObjectKey(spec, coord)
		if err != nil {
			keyErr = err
			break
		}
		ck := coordString(coord)
		g.Go(func() error {
			existsCalls.Add(1)
			exists, err := bucket.Exists(gctx, key)
			if err != nil {
				return fmt.Errorf("%w: stat %s: %v", zarr.ErrStoreUnreadable, key, err)
			}
			if !exists {
				mu.Lock()
				absent[ck] = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if keyErr != nil {
		return nil, keyErr
	}
	return absent, nil
}
