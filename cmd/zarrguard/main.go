// Command zarrguard audits and creates local Zarr v3 stores with an explicit
// no-data chunk policy.
//
// Usage:
//
//	zarrguard check [--json] [--timing] [--strict-stale] [--workers N] <store>
//	zarrguard create --spec <dataset.json> [--no-data <mapping.json>]
//	    [--strategy manifest|empty_chunks] [--overwrite] <target>
//	zarrguard version
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"gocloud.dev/blob/fileblob"

	"github.com/xarrlab/zarrguard"
	"github.com/xarrlab/zarrguard/zarr"
)

const version = "0.2.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "check":
		return runCheck(args[2:], stdout, stderr)
	case "create":
		return runCreate(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "zarrguard %s\n", version)
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  zarrguard check [--json] [--timing] [--strict-stale] [--workers N] [--verbose] <store>")
	fmt.Fprintln(w, "  zarrguard create --spec <dataset.json> [--no-data <mapping.json>] [--strategy manifest|empty_chunks] [--overwrite] [--verbose] <target>")
	fmt.Fprintln(w, "  zarrguard version")
}

func newLogger(stderr io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "print the report as JSON")
	timing := fs.Bool("timing", false, "capture coarse timing details")
	strictStale := fs.Bool("strict-stale", false, "fail on stale manifest entries")
	workers := fs.Int("workers", 1, "concurrent chunk presence probes")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "check: expected exactly one store path")
		return 2
	}
	storePath := fs.Arg(0)
	logger := newLogger(stderr, *verbose)
	ctx := context.Background()

	if info, err := os.Stat(storePath); err != nil || !info.IsDir() {
		report := &zarrguard.Report{
			StorePath:   storePath,
			StrictStale: *strictStale,
			Errors:      []string{fmt.Sprintf("store is not a directory: %s", storePath)},
			Variables:   map[string]*zarrguard.VariableReport{},
		}
		renderReport(stdout, report, *jsonOut)
		return 1
	}

	bucket, err := fileblob.OpenBucket(storePath, &fileblob.Options{Metadata: fileblob.MetadataDontWrite})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	defer bucket.Close()

	report := zarrguard.Check(ctx, bucket, zarrguard.CheckOptions{
		StorePath:   storePath,
		StrictStale: *strictStale,
		Timing:      *timing,
		Workers:     *workers,
		Logger:      logger,
	})
	renderReport(stdout, report, *jsonOut)
	if report.Passed() {
		return 0
	}
	return 1
}

func renderReport(w io.Writer, r *zarrguard.Report, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r)
		return
	}

	if r.Passed() {
		fmt.Fprintln(w, "PASS")
	} else {
		fmt.Fprintln(w, "FAIL")
	}
	names := make([]string, 0, len(r.Variables))
	for name := range r.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vr := r.Variables[name]
		var details []string
		if n := len(vr.Missing); n > 0 {
			details = append(details, fmt.Sprintf("missing=%d", n))
		}
		if n := len(vr.MissingAllowed); n > 0 {
			details = append(details, fmt.Sprintf("missing_allowed=%d", n))
		}
		if n := len(vr.Stale); n > 0 {
			details = append(details, fmt.Sprintf("stale=%d", n))
		}
		if len(details) > 0 {
			fmt.Fprintf(w, "%s:", name)
			for i, d := range details {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, " %s", d)
			}
			fmt.Fprintln(w)
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	if t := r.Timing; t != nil {
		fmt.Fprintf(w, "timing: total=%.3fs scan_specs=%.3fs manifest=%.3fs chunk_scan=%.3fs exists_calls=%d\n",
			t.TotalS, t.ScanSpecsS, t.ManifestS, t.ChunkScanS, t.ExistsCalls)
	}
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	specPath := fs.String("spec", "", "dataset declaration JSON (required)")
	noDataPath := fs.String("no-data", "", "JSON mapping of variable to no-data chunk coordinates")
	strategy := fs.String("strategy", string(zarrguard.StrategyManifest), "no-data strategy: manifest or empty_chunks")
	overwrite := fs.Bool("overwrite", false, "overwrite target if it exists")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 || *specPath == "" {
		fmt.Fprintln(stderr, "create: expected a target path and --spec")
		return 2
	}
	targetPath := fs.Arg(0)
	logger := newLogger(stderr, *verbose)
	ctx := context.Background()

	ds, err := loadDatasetSpec(*specPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	var noData map[string][][]int
	if *noDataPath != "" {
		f, err := os.Open(*noDataPath)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 2
		}
		noData, err = zarrguard.LoadNoDataChunks(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 2
		}
	}

	parsed, err := zarrguard.ParseStrategy(*strategy)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	bucket, err := fileblob.OpenBucket(targetPath, &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	defer bucket.Close()

	report, err := zarrguard.Create(ctx, bucket, ds, zarrguard.CreateOptions{
		StorePath:    targetPath,
		NoDataChunks: noData,
		Strategy:     parsed,
		Overwrite:    *overwrite,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "created: %s\n", report.StorePath)
	if len(report.ManifestsWritten) > 0 {
		fmt.Fprintf(stdout, "manifests: %d\n", len(report.ManifestsWritten))
	}
	return 0
}

// datasetSpec is the CLI's dataset declaration: arrays to synthesize and
// write. Element values are a ramp (0, 1, 2, ...) in C order, enough to
// exercise the chunk layout without an external data source.
type datasetSpec struct {
	Arrays []arrayDecl `json:"arrays"`
}

type arrayDecl struct {
	Name      string `json:"name"`
	Shape     []int  `json:"shape"`
	Chunks    []int  `json:"chunks"`
	DataType  string `json:"data_type"`
	FillValue any    `json:"fill_value,omitempty"`
	Codec     string `json:"codec,omitempty"`
}

func loadDatasetSpec(path string) (*zarr.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec datasetSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing dataset spec %s: %w", path, err)
	}
	if len(spec.Arrays) == 0 {
		return nil, fmt.Errorf("dataset spec %s declares no arrays", path)
	}

	ds := &zarr.Dataset{}
	for _, decl := range spec.Arrays {
		buf, err := rampData(decl.DataType, decl.Shape)
		if err != nil {
			return nil, fmt.Errorf("array %q: %w", decl.Name, err)
		}
		ds.Arrays = append(ds.Arrays, zarr.Array{
			Name:       decl.Name,
			Shape:      decl.Shape,
			ChunkShape: decl.Chunks,
			DataType:   decl.DataType,
			FillValue:  decl.FillValue,
			Codec:      decl.Codec,
			Data:       buf,
		})
	}
	return ds, nil
}

func rampData(dataType string, shape []int) ([]byte, error) {
	size, err := zarr.DataTypeSize(dataType)
	if err != nil {
		return nil, err
	}
	total := 1
	for _, dim := range shape {
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
		total *= dim
	}
	buf := make([]byte, total*size)
	for i := 0; i < total; i++ {
		off := i * size
		switch dataType {
		case "float32":
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(i)))
		case "float64":
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(float64(i)))
		case "bool":
			buf[off] = byte(i % 2)
		default:
			switch size {
			case 1:
				buf[off] = byte(i)
			case 2:
				binary.LittleEndian.PutUint16(buf[off:], uint16(i))
			case 4:
				binary.LittleEndian.PutUint32(buf[off:], uint32(i))
			case 8:
				binary.LittleEndian.PutUint64(buf[off:], uint64(i))
			}
		}
	}
	return buf, nil
}
