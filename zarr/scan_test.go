package zarr_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/xarrlab/zarrguard/zarr"
)

func writeJSON(t *testing.T, path string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func groupMeta(consolidated map[string]any) map[string]any {
	payload := map[string]any{
		"zarr_format": 3,
		"node_type":   "group",
		"attributes":  map[string]any{},
	}
	if consolidated != nil {
		payload["consolidated_metadata"] = map[string]any{
			"kind":            "inline",
			"must_understand": false,
			"metadata":        consolidated,
		}
	}
	return payload
}

func arrayMeta(shape, chunks []int) map[string]any {
	return map[string]any{
		"zarr_format": 3,
		"node_type":   "array",
		"shape":       shape,
		"data_type":   "float32",
		"chunk_grid": map[string]any{
			"name":          "regular",
			"configuration": map[string]any{"chunk_shape": chunks},
		},
		"chunk_key_encoding": map[string]any{
			"name":          "default",
			"configuration": map[string]any{"separator": "/"},
		},
		"fill_value": 0.0,
	}
}

func openReadBucket(t *testing.T, dir string) *blob.Bucket {
	t.Helper()
	bucket, err := fileblob.OpenBucket(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestScanArraySpecsDiscoversNestedArrays(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "zarr.json"), groupMeta(nil))
	writeJSON(t, filepath.Join(dir, "a", "zarr.json"), arrayMeta([]int{4, 4}, []int{2, 2}))
	writeJSON(t, filepath.Join(dir, "group", "zarr.json"), groupMeta(nil))
	writeJSON(t, filepath.Join(dir, "group", "b", "zarr.json"), arrayMeta([]int{8}, []int{4}))

	// A zarr.json planted inside a chunk directory would fail the format
	// gate if the scan descended below arrays.
	writeJSON(t, filepath.Join(dir, "a", "c", "0", "zarr.json"), map[string]any{"zarr_format": 2, "node_type": "array"})

	// Manifests must not be mistaken for store nodes either.
	writeJSON(t, filepath.Join(dir, ".xzarrguard", "manifests", "a.json"), map[string]any{"zarr_format": 2})

	specs, err := zarr.ScanArraySpecs(context.Background(), openReadBucket(t, dir))
	require.NoError(t, err)

	require.Len(t, specs, 2)
	require.Equal(t, "a", specs[0].Name)
	require.Equal(t, "group/b", specs[1].Name)
	require.Equal(t, []int{4, 4}, specs[0].Shape)
	require.Equal(t, []int{4}, specs[1].ChunkShape)
}

func TestScanArraySpecsRejectsNonV3Root(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "zarr.json"), map[string]any{"zarr_format": 2, "node_type": "group"})

	_, err := zarr.ScanArraySpecs(context.Background(), openReadBucket(t, dir))
	require.Error(t, err)
	require.True(t, errors.Is(err, zarr.ErrUnsupportedFormat))
}

func TestScanArraySpecsConsolidatedWithoutChildFiles(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "zarr.json"), groupMeta(map[string]any{
		"a":        arrayMeta([]int{4, 4}, []int{2, 2}),
		"nested/b": arrayMeta([]int{8}, []int{4}),
	}))

	specs, err := zarr.ScanArraySpecs(context.Background(), openReadBucket(t, dir))
	require.NoError(t, err)

	require.Len(t, specs, 2)
	require.Equal(t, "a", specs[0].Name)
	require.Equal(t, "a", specs[0].Path)
	require.Equal(t, "nested/b", specs[1].Name)
	require.Equal(t, "nested/b", specs[1].Path)
}

func TestScanArraySpecsPrefersConsolidatedMetadata(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "zarr.json"), groupMeta(map[string]any{
		"a": arrayMeta([]int{4, 4}, []int{2, 2}),
	}))
	// Broken per-array metadata must not matter when consolidated metadata
	// is present.
	writeJSON(t, filepath.Join(dir, "a", "zarr.json"), map[string]any{"zarr_format": 2, "node_type": "array"})

	specs, err := zarr.ScanArraySpecs(context.Background(), openReadBucket(t, dir))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "a", specs[0].Name)
}

func TestScanArraySpecsRootArray(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, filepath.Join(dir, "zarr.json"), arrayMeta([]int{4}, []int{2}))

	specs, err := zarr.ScanArraySpecs(context.Background(), openReadBucket(t, dir))
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "", specs[0].Name)
	require.Equal(t, []int{4}, specs[0].Shape)
}
