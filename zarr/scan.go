package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// GuardDir is the store-relative directory holding guard state such as
// per-variable manifests. The scanner never descends into it.
const GuardDir = ".xzarrguard"

type nodeProbe struct {
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`
}

// ScanArraySpecs discovers every array in a Zarr v3 store without touching
// chunk payloads. When the root group carries consolidated metadata, the
// specs come from it and no child zarr.json files are read; otherwise the
// tree is walked by delimiter listing, descending into groups only. Results
// are sorted by array name.
func ScanArraySpecs(ctx context.Context, bucket *blob.Bucket) ([]ArraySpec, error) {
	var specs []ArraySpec
	if err := scanPrefix(ctx, bucket, "", &specs); err != nil {
		return nil, err
	}
	slices.SortFunc(specs, func(a, b ArraySpec) int {
		return strings.Compare(a.Name, b.Name)
	})
	return specs, nil
}

func scanPrefix(ctx context.Context, bucket *blob.Bucket, prefix string, specs *[]ArraySpec) error {
	metaKey := prefix + "zarr.json"
	data, err := bucket.ReadAll(ctx, metaKey)
	switch {
	case err == nil:
		var probe nodeProbe
		if err := json.Unmarshal(data, &probe); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, metaKey, err)
		}
		if probe.ZarrFormat != ZarrFormat {
			return fmt.Errorf("%w: %s: zarr_format %d, expected %d", ErrUnsupportedFormat, metaKey, probe.ZarrFormat, ZarrFormat)
		}
		if probe.NodeType == "array" {
			meta, err := LoadArrayMetadata(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("%s: %w", metaKey, err)
			}
			name := strings.TrimSuffix(prefix, "/")
			*specs = append(*specs, meta.Spec(name, name))
			return nil
		}
		if prefix == "" {
			var group GroupMetadata
			if err := json.Unmarshal(data, &group); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, metaKey, err)
			}
			if cm := group.ConsolidatedMetadata; cm != nil {
				return scanConsolidated(cm, specs)
			}
		}
	case gcerrors.Code(err) == gcerrors.NotFound:
		// A directory without metadata is walked like a group.
	default:
		return fmt.Errorf("%w: reading %s: %v", ErrStoreUnreadable, metaKey, err)
	}

	it := bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: listing %q: %v", ErrStoreUnreadable, prefix, err)
		}
		if !obj.IsDir {
			continue
		}
		if path.Base(strings.TrimSuffix(obj.Key, "/")) == GuardDir {
			continue
		}
		if err := scanPrefix(ctx, bucket, obj.Key, specs); err != nil {
			return err
		}
	}
	return nil
}

func scanConsolidated(cm *ConsolidatedMetadata, specs *[]ArraySpec) error {
	for _, name := range slices.Sorted(maps.Keys(cm.Metadata)) {
		raw := cm.Metadata[name]
		var probe nodeProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fmt.Errorf("%w: consolidated metadata for %q: %v", ErrUnsupportedFormat, name, err)
		}
		if probe.NodeType != "array" {
			continue
		}
		meta, err := LoadArrayMetadata(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("consolidated metadata for %q: %w", name, err)
		}
		*specs = append(*specs, meta.Spec(name, name))
	}
	return nil
}
