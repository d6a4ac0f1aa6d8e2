package zarr

import (
	"encoding/json"
	"fmt"
	"io"
)

// ZarrFormat is the only on-disk format version this package handles.
const ZarrFormat = 3

// ChunkGrid is the chunk_grid section of array metadata. Only the "regular"
// grid is supported.
type ChunkGrid struct {
	Name          string          `json:"name"`
	Configuration ChunkGridConfig `json:"configuration"`
}

// ChunkGridConfig holds the regular grid's chunk shape.
type ChunkGridConfig struct {
	ChunkShape []int `json:"chunk_shape"`
}

// ChunkKeyEncoding is the chunk_key_encoding section of array metadata.
type ChunkKeyEncoding struct {
	Name          string                 `json:"name"`
	Configuration ChunkKeyEncodingConfig `json:"configuration"`
}

// ChunkKeyEncodingConfig holds the separator for a chunk-key encoding.
type ChunkKeyEncodingConfig struct {
	Separator string `json:"separator,omitempty"`
}

// CodecConfig is one entry of an array's codec chain.
type CodecConfig struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// ArrayMetadata represents a Zarr v3 array zarr.json document.
type ArrayMetadata struct {
	ZarrFormat       int               `json:"zarr_format"`
	NodeType         string            `json:"node_type"`
	Shape            []int             `json:"shape"`
	DataType         string            `json:"data_type"`
	ChunkGrid        ChunkGrid         `json:"chunk_grid"`
	ChunkKeyEncoding *ChunkKeyEncoding `json:"chunk_key_encoding,omitempty"`
	FillValue        any               `json:"fill_value"`
	Codecs           []CodecConfig     `json:"codecs,omitempty"`
	Attributes       map[string]any    `json:"attributes,omitempty"`
}

// GroupMetadata represents a Zarr v3 group zarr.json document.
type GroupMetadata struct {
	ZarrFormat           int                   `json:"zarr_format"`
	NodeType             string                `json:"node_type"`
	Attributes           map[string]any        `json:"attributes"`
	ConsolidatedMetadata *ConsolidatedMetadata `json:"consolidated_metadata,omitempty"`
}

// ConsolidatedMetadata carries inlined child metadata on a group, keyed by
// the child's slash-separated path relative to the group.
type ConsolidatedMetadata struct {
	Kind           string                     `json:"kind"`
	MustUnderstand bool                       `json:"must_understand"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
}

// ArraySpec is the minimal per-array metadata needed for chunk validation.
// Path is the array's slash-separated prefix relative to the store root,
// empty when the store root itself is the array.
type ArraySpec struct {
	Name       string
	Path       string
	Shape      []int
	ChunkShape []int
	Encoding   KeyEncoding
	Separator  string
}

func (s ArraySpec) separatorOrDefault() string {
	if s.Separator != "" {
		return s.Separator
	}
	if s.Encoding == EncodingV2 {
		return "."
	}
	return "/"
}

// LoadArrayMetadata reads and parses one array zarr.json document.
func LoadArrayMetadata(reader io.Reader) (*ArrayMetadata, error) {
	var meta ArrayMetadata
	if err := json.NewDecoder(reader).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: decoding array metadata: %v", ErrUnsupportedFormat, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Validate checks the invariants this package relies on: format version,
// node type, a regular chunk grid of the array's rank, and a known
// chunk-key encoding.
func (m *ArrayMetadata) Validate() error {
	if m.ZarrFormat != ZarrFormat {
		return fmt.Errorf("%w: zarr_format %d, expected %d", ErrUnsupportedFormat, m.ZarrFormat, ZarrFormat)
	}
	if m.NodeType != "array" {
		return fmt.Errorf("%w: node_type %q, expected \"array\"", ErrUnsupportedFormat, m.NodeType)
	}
	if m.ChunkGrid.Name != "regular" {
		return fmt.Errorf("%w: chunk_grid %q, only regular grids are supported", ErrUnsupportedFormat, m.ChunkGrid.Name)
	}
	if _, err := GridShape(m.Shape, m.ChunkGrid.Configuration.ChunkShape); err != nil {
		return err
	}
	if enc := m.ChunkKeyEncoding; enc != nil {
		switch KeyEncoding(enc.Name) {
		case EncodingDefault, EncodingV2:
		default:
			return fmt.Errorf("%w: chunk_key_encoding %q", ErrUnsupportedFormat, enc.Name)
		}
	}
	return nil
}

// Spec derives the chunk-validation view of the metadata for an array at the
// given store-relative path.
func (m *ArrayMetadata) Spec(name, path string) ArraySpec {
	spec := ArraySpec{
		Name:       name,
		Path:       path,
		Shape:      m.Shape,
		ChunkShape: m.ChunkGrid.Configuration.ChunkShape,
		Encoding:   EncodingDefault,
	}
	if enc := m.ChunkKeyEncoding; enc != nil {
		spec.Encoding = KeyEncoding(enc.Name)
		spec.Separator = enc.Configuration.Separator
	}
	return spec
}

// DataTypeSize returns the byte size of one element of a Zarr v3 data type.
func DataTypeSize(name string) (int, error) {
	switch name {
	case "bool", "int8", "uint8":
		return 1, nil
	case "int16", "uint16":
		return 2, nil
	case "int32", "uint32", "float32":
		return 4, nil
	case "int64", "uint64", "float64":
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: data_type %q", ErrUnsupportedFormat, name)
	}
}
