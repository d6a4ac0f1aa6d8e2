// Package zarrguard audits and creates local Zarr v3 stores with an explicit
// policy for chunks that are intentionally absent. A store is complete when
// every chunk of every array either exists on disk or is sanctioned by a
// per-variable manifest of allowed-missing chunks.
package zarrguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/xarrlab/zarrguard/zarr"
)

// ManifestSchemaVersion is the manifest file schema this package writes and
// accepts.
const ManifestSchemaVersion = 1

// ManifestRoot is the store-relative directory holding per-variable
// manifests.
const ManifestRoot = zarr.GuardDir + "/manifests"

var (
	// ErrManifestCorrupt reports a manifest file that exists but cannot be
	// used: invalid JSON, missing fields, an unsupported schema or zarr
	// format, or duplicate coordinates.
	ErrManifestCorrupt = errors.New("manifest corrupt")

	// ErrUnsupportedStrategy reports an unknown no-data strategy.
	ErrUnsupportedStrategy = errors.New("unsupported no-data strategy")

	// ErrStoreExists reports a non-empty target store when overwrite was not
	// requested.
	ErrStoreExists = errors.New("store already exists")
)

// ManifestEntry pairs a chunk coordinate with the key it encoded to when the
// manifest was written. The key is persisted so a later check can detect
// that the array's grid or key encoding changed underneath the manifest.
type ManifestEntry struct {
	Coord []int  `json:"coord"`
	Key   string `json:"key"`
}

// Manifest declares the chunks of one variable that are sanctioned to be
// absent from the store.
type Manifest struct {
	SchemaVersion  int             `json:"schema_version"`
	ZarrFormat     int             `json:"zarr_format"`
	Variable       string          `json:"variable"`
	AllowedMissing []ManifestEntry `json:"allowed_missing"`
}

// ManifestPath returns the store-relative key of a variable's manifest. The
// variable name is percent-encoded so nested array paths stay a single
// filesystem-safe segment; ManifestVariable is the exact inverse.
func ManifestPath(variable string) string {
	return ManifestRoot + "/" + url.PathEscape(variable) + ".json"
}

// ManifestVariable decodes the variable name from a manifest file name (the
// last path segment, without the .json suffix).
func ManifestVariable(fileName string) (string, error) {
	name, ok := strings.CutSuffix(fileName, ".json")
	if !ok {
		return "", fmt.Errorf("%w: manifest file name %q", ErrManifestCorrupt, fileName)
	}
	decoded, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("%w: manifest file name %q: %v", ErrManifestCorrupt, fileName, err)
	}
	return decoded, nil
}

// LoadManifest reads the manifest for one variable. A missing manifest is
// the normal case for variables with no sanctioned absences and returns
// (nil, nil).
func LoadManifest(ctx context.Context, bucket *blob.Bucket, variable string) (*Manifest, error) {
	key := ManifestPath(variable)
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", zarr.ErrStoreUnreadable, key, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, key, err)
	}
	if m.SchemaVersion != ManifestSchemaVersion {
		return nil, fmt.Errorf("%w: %s: schema_version %d, expected %d", ErrManifestCorrupt, key, m.SchemaVersion, ManifestSchemaVersion)
	}
	if m.ZarrFormat != zarr.ZarrFormat {
		return nil, fmt.Errorf("%w: %s: zarr_format %d, expected %d", ErrManifestCorrupt, key, m.ZarrFormat, zarr.ZarrFormat)
	}
	if m.Variable != variable {
		return nil, fmt.Errorf("%w: %s: declares variable %q", ErrManifestCorrupt, key, m.Variable)
	}
	if err := validateEntries(m.AllowedMissing); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, key, err)
	}
	return &m, nil
}

// SaveManifest writes a variable's manifest in full, replacing any previous
// one. Entries are stored sorted by coordinate so repeated runs produce
// byte-identical, diff-friendly files. The blob writer stages to a temporary
// file and renames, so readers never observe a partial manifest.
func SaveManifest(ctx context.Context, bucket *blob.Bucket, m *Manifest) error {
	if m.Variable == "" {
		return fmt.Errorf("%w: empty variable name", ErrManifestCorrupt)
	}
	if err := validateEntries(m.AllowedMissing); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, m.Variable, err)
	}

	out := Manifest{
		SchemaVersion:  ManifestSchemaVersion,
		ZarrFormat:     zarr.ZarrFormat,
		Variable:       m.Variable,
		AllowedMissing: slices.Clone(m.AllowedMissing),
	}
	if out.AllowedMissing == nil {
		out.AllowedMissing = []ManifestEntry{}
	}
	slices.SortFunc(out.AllowedMissing, func(a, b ManifestEntry) int {
		return slices.Compare(a.Coord, b.Coord)
	})

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	key := ManifestPath(m.Variable)
	if err := bucket.WriteAll(ctx, key, append(data, '\n'), nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func validateEntries(entries []ManifestEntry) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		for _, c := range e.Coord {
			if c < 0 {
				return fmt.Errorf("negative component in coord %v", e.Coord)
			}
		}
		k := coordString(e.Coord)
		if seen[k] {
			return fmt.Errorf("duplicate coord %v", e.Coord)
		}
		seen[k] = true
	}
	return nil
}

func coordString(coord []int) string {
	b, _ := json.Marshal(coord)
	return string(b)
}

// LoadNoDataChunks decodes the no-data declaration: a JSON object mapping
// variable names to arrays of chunk coordinates. Coordinates are returned
// sorted and de-duplicated per variable.
func LoadNoDataChunks(r io.Reader) (map[string][][]int, error) {
	var mapping map[string][][]int
	if err := json.NewDecoder(r).Decode(&mapping); err != nil {
		return nil, fmt.Errorf("no-data mapping must be a JSON object of variable to coordinate lists: %w", err)
	}
	for variable, coords := range mapping {
		for _, coord := range coords {
			for _, c := range coord {
				if c < 0 {
					return nil, fmt.Errorf("%w: negative component in %v for variable %q", zarr.ErrInvalidCoordinate, coord, variable)
				}
			}
		}
		mapping[variable] = normalizeCoords(coords)
	}
	return mapping, nil
}

// DumpNoDataChunks writes a no-data declaration, normalized and with stable
// ordering.
func DumpNoDataChunks(w io.Writer, mapping map[string][][]int) error {
	normalized := make(map[string][][]int, len(mapping))
	for variable, coords := range mapping {
		normalized[variable] = normalizeCoords(coords)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(normalized)
}

func normalizeCoords(coords [][]int) [][]int {
	out := make([][]int, len(coords))
	for i, c := range coords {
		out[i] = slices.Clone(c)
	}
	slices.SortFunc(out, slices.Compare)
	return slices.CompactFunc(out, slices.Equal)
}
