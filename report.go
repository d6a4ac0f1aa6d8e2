package zarrguard

// StaleReason classifies why a manifest entry is out of sync with the store.
type StaleReason string

const (
	// StaleKeyMismatch: the manifest's stored key no longer matches the key
	// recomputed from current array metadata.
	StaleKeyMismatch StaleReason = "key_mismatch"
	// StaleChunkExists: the chunk is declared no-data but is physically
	// present.
	StaleChunkExists StaleReason = "chunk_exists"
	// StaleOutOfGrid: the manifest coordinate falls outside the array's
	// current chunk grid, e.g. after a shape shrink.
	StaleOutOfGrid StaleReason = "out_of_grid"
)

// ChunkRef identifies one logical chunk by coordinate and storage key.
type ChunkRef struct {
	Coord []int  `json:"coord"`
	Key   string `json:"key"`
}

// StaleRef is a manifest entry that disagrees with the store's current
// state.
type StaleRef struct {
	Coord  []int       `json:"coord"`
	Key    string      `json:"key"`
	Reason StaleReason `json:"reason"`
}

// VariableReport holds per-variable completeness findings. Missing chunks
// are unexpected absences; MissingAllowed are absences sanctioned by the
// manifest. All issue collections are unordered sets as far as comparison
// goes, though they are emitted in grid order for stable output.
type VariableReport struct {
	Name           string     `json:"name"`
	OK             bool       `json:"ok"`
	HasManifest    bool       `json:"has_manifest"`
	ExpectedChunks int        `json:"expected_chunks"`
	Missing        []ChunkRef `json:"missing"`
	MissingAllowed []ChunkRef `json:"missing_allowed"`
	Stale          []StaleRef `json:"stale"`
}

// VariableTiming is the per-variable slice of a timed check.
type VariableTiming struct {
	ManifestLoadS  float64 `json:"manifest_load_s"`
	ChunkScanS     float64 `json:"chunk_scan_s"`
	ExpectedChunks int     `json:"expected_chunks"`
	MissingChunks  int     `json:"missing_chunks"`
}

// Timing is the optional coarse timing breakdown of a check.
type Timing struct {
	TotalS      float64                    `json:"total_s"`
	ScanSpecsS  float64                    `json:"scan_specs_s"`
	ManifestS   float64                    `json:"manifest_s"`
	ChunkScanS  float64                    `json:"chunk_scan_s"`
	ExistsCalls int64                      `json:"exists_calls"`
	Variables   map[string]*VariableTiming `json:"variables"`
}

// Report is the result of one integrity check over a store.
type Report struct {
	StorePath   string                     `json:"store_path"`
	RunID       string                     `json:"run_id"`
	StrictStale bool                       `json:"strict_stale"`
	OK          bool                       `json:"ok"`
	Errors      []string                   `json:"errors"`
	Variables   map[string]*VariableReport `json:"variables"`
	Timing      *Timing                    `json:"timing,omitempty"`
}

// Passed reports whether the store checked out complete. It is the report's
// truthiness: a report is usable directly as a pass/fail verdict.
func (r *Report) Passed() bool {
	return r != nil && r.OK
}

// CreateReport is the result of creating a store with a no-data policy.
type CreateReport struct {
	StorePath        string                `json:"store_path"`
	RunID            string                `json:"run_id"`
	NoDataStrategy   Strategy              `json:"no_data_strategy"`
	OK               bool                  `json:"ok"`
	ManifestsWritten []string              `json:"manifests_written"`
	SkippedChunks    map[string][]ChunkRef `json:"skipped_chunks"`
}
