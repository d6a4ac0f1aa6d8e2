package zarr

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
)

// CodecZstd names the one compression codec the writer supports.
const CodecZstd = "zstd"

// Array is an in-memory N-dimensional array to be written as a Zarr v3
// array. Data is the C-order element buffer; a nil Data writes every chunk
// as fill value.
type Array struct {
	Name       string
	Shape      []int
	ChunkShape []int
	DataType   string
	FillValue  any
	Separator  string
	Encoding   KeyEncoding
	Codec      string
	Data       []byte
}

// Dataset is an ordered collection of arrays sharing one store.
type Dataset struct {
	Arrays []Array
}

// Spec returns the chunk-validation view of the array.
func (a *Array) Spec() ArraySpec {
	enc := a.Encoding
	if enc == "" {
		enc = EncodingDefault
	}
	return ArraySpec{
		Name:       a.Name,
		Path:       a.Name,
		Shape:      a.Shape,
		ChunkShape: a.ChunkShape,
		Encoding:   enc,
		Separator:  a.Separator,
	}
}

// ArrayByName returns the named array, or nil.
func (d *Dataset) ArrayByName(name string) *Array {
	for i := range d.Arrays {
		if d.Arrays[i].Name == name {
			return &d.Arrays[i]
		}
	}
	return nil
}

// WriteOptions controls which chunks WriteDataset materializes.
type WriteOptions struct {
	// Skip excludes a chunk from the physical write entirely.
	Skip func(variable string, coord []int) bool
	// Fill forces a chunk to be written from fill value instead of Data.
	Fill func(variable string, coord []int) bool
}

// WriteDataset writes a root group, per-array metadata, and every chunk of
// every array to the bucket. Edge chunks are full-size buffers padded with
// the array's fill value.
func WriteDataset(ctx context.Context, bucket *blob.Bucket, ds *Dataset, opts WriteOptions) error {
	if err := writeGroup(ctx, bucket, ""); err != nil {
		return err
	}
	written := map[string]bool{"": true}
	for i := range ds.Arrays {
		arr := &ds.Arrays[i]
		for _, parent := range parentGroups(arr.Name) {
			if written[parent] {
				continue
			}
			if err := writeGroup(ctx, bucket, parent); err != nil {
				return err
			}
			written[parent] = true
		}
		if err := writeArray(ctx, bucket, arr, opts); err != nil {
			return fmt.Errorf("writing array %q: %w", arr.Name, err)
		}
	}
	return nil
}

func parentGroups(name string) []string {
	var groups []string
	parts := strings.Split(name, "/")
	for i := 1; i < len(parts); i++ {
		groups = append(groups, strings.Join(parts[:i], "/"))
	}
	return groups
}

func writeGroup(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	meta := GroupMetadata{ZarrFormat: ZarrFormat, NodeType: "group", Attributes: map[string]any{}}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	key := "zarr.json"
	if prefix != "" {
		key = prefix + "/zarr.json"
	}
	if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (a *Array) metadata() *ArrayMetadata {
	spec := a.Spec()
	meta := &ArrayMetadata{
		ZarrFormat: ZarrFormat,
		NodeType:   "array",
		Shape:      a.Shape,
		DataType:   a.DataType,
		ChunkGrid: ChunkGrid{
			Name:          "regular",
			Configuration: ChunkGridConfig{ChunkShape: a.ChunkShape},
		},
		ChunkKeyEncoding: &ChunkKeyEncoding{
			Name:          string(spec.Encoding),
			Configuration: ChunkKeyEncodingConfig{Separator: spec.separatorOrDefault()},
		},
		FillValue:  a.FillValue,
		Attributes: map[string]any{},
		Codecs: []CodecConfig{
			{Name: "bytes", Configuration: map[string]any{"endian": "little"}},
		},
	}
	if a.Codec == CodecZstd {
		meta.Codecs = append(meta.Codecs, CodecConfig{Name: CodecZstd, Configuration: map[string]any{"level": 3}})
	}
	return meta
}

func writeArray(ctx context.Context, bucket *blob.Bucket, a *Array, opts WriteOptions) error {
	spec := a.Spec()
	grid, err := GridShape(a.Shape, a.ChunkShape)
	if err != nil {
		return err
	}
	itemSize, err := DataTypeSize(a.DataType)
	if err != nil {
		return err
	}
	if a.Codec != "" && a.Codec != CodecZstd {
		return fmt.Errorf("%w: codec %q", ErrUnsupportedFormat, a.Codec)
	}
	totalElems := 1
	for _, dim := range a.Shape {
		totalElems *= dim
	}
	if a.Data != nil && len(a.Data) != totalElems*itemSize {
		return fmt.Errorf("%w: data length %d, want %d for shape %v", ErrInvalidShape, len(a.Data), totalElems*itemSize, a.Shape)
	}

	data, err := json.MarshalIndent(a.metadata(), "", "  ")
	if err != nil {
		return err
	}
	metaKey := "zarr.json"
	if a.Name != "" {
		metaKey = a.Name + "/zarr.json"
	}
	if err := bucket.WriteAll(ctx, metaKey, data, nil); err != nil {
		return fmt.Errorf("failed to write %s: %w", metaKey, err)
	}

	fill, err := encodeElement(a.DataType, a.FillValue)
	if err != nil {
		return err
	}

	var enc *zstd.Encoder
	if a.Codec == CodecZstd {
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		defer enc.Close()
	}

	chunkElems := 1
	for _, dim := range a.ChunkShape {
		chunkElems *= dim
	}
	globalStrides := strides(a.Shape)
	chunkStrides := strides(a.ChunkShape)

	for coord := range Coordinates(grid) {
		if opts.Skip != nil && opts.Skip(a.Name, coord) {
			continue
		}

		buf := newFilledBuffer(chunkElems, fill)
		fillOnly := opts.Fill != nil && opts.Fill(a.Name, coord)
		if a.Data != nil && !fillOnly {
			// Edge chunks stay full-size; only the in-bounds region is copied.
			copyShape := make([]int, len(a.Shape))
			srcOffset := make([]int, len(a.Shape))
			dstOffset := make([]int, len(a.Shape))
			for i := range a.Shape {
				start := coord[i] * a.ChunkShape[i]
				end := start + a.ChunkShape[i]
				if end > a.Shape[i] {
					end = a.Shape[i]
				}
				copyShape[i] = end - start
				srcOffset[i] = start
			}
			copyND(buf, chunkStrides, dstOffset, a.Data, globalStrides, srcOffset, copyShape, itemSize)
		}

		payload := buf
		if enc != nil {
			payload = enc.EncodeAll(buf, nil)
		}
		key, err := ChunkObjectKey(spec, coord)
		if err != nil {
			return err
		}
		if err := bucket.WriteAll(ctx, key, payload, nil); err != nil {
			return fmt.Errorf("failed to write chunk %s: %w", key, err)
		}
	}
	return nil
}

func newFilledBuffer(elems int, fill []byte) []byte {
	buf := make([]byte, elems*len(fill))
	zero := true
	for _, b := range fill {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return buf
	}
	for i := 0; i < elems; i++ {
		copy(buf[i*len(fill):], fill)
	}
	return buf
}

// encodeElement encodes one element of the given data type little-endian.
// A nil value encodes as zero bytes.
func encodeElement(dataType string, value any) ([]byte, error) {
	size, err := DataTypeSize(dataType)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if value == nil {
		return buf, nil
	}

	switch dataType {
	case "bool":
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: fill_value %v for bool", ErrUnsupportedFormat, value)
		}
		if b {
			buf[0] = 1
		}
	case "float32":
		f, err := asFloat(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
	case "float64":
		f, err := asFloat(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	default:
		n, err := asInt(value)
		if err != nil {
			return nil, err
		}
		switch size {
		case 1:
			buf[0] = byte(n)
		case 2:
			binary.LittleEndian.PutUint16(buf, uint16(n))
		case 4:
			binary.LittleEndian.PutUint32(buf, uint32(n))
		case 8:
			binary.LittleEndian.PutUint64(buf, uint64(n))
		}
	}
	return buf, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: fill_value %v (%T)", ErrUnsupportedFormat, v, v)
	}
}

func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: non-integral fill_value %v", ErrUnsupportedFormat, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: fill_value %v (%T)", ErrUnsupportedFormat, v, v)
	}
}

// strides computes the C-order strides for a given shape.
func strides(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// copyND recursively copies an n-dimensional region from src to dst.
func copyND(
	dst []byte, dstStrides, dstOffset []int,
	src []byte, srcStrides, srcOffset []int,
	copyShape []int, itemSize int,
) {
	if len(copyShape) == 0 {
		// 0D scalar array: exactly one element
		copy(dst[:itemSize], src[:itemSize])
		return
	}

	startSrcIdx := 0
	startDstIdx := 0
	for i := range copyShape {
		startSrcIdx += srcOffset[i] * srcStrides[i]
		startDstIdx += dstOffset[i] * dstStrides[i]
	}

	var iterate func(dim int, currentSrcIdx, currentDstIdx int)
	iterate = func(dim int, currentSrcIdx, currentDstIdx int) {
		// Bulk copy for the innermost contiguous dimension.
		if dim == len(copyShape)-1 {
			n := copyShape[dim]
			if srcStrides[dim] == 1 && dstStrides[dim] == 1 {
				byteLen := n * itemSize
				srcStart := currentSrcIdx * itemSize
				dstStart := currentDstIdx * itemSize
				copy(dst[dstStart:dstStart+byteLen], src[srcStart:srcStart+byteLen])
				return
			}
			for i := 0; i < n; i++ {
				srcStart := (currentSrcIdx + i*srcStrides[dim]) * itemSize
				dstStart := (currentDstIdx + i*dstStrides[dim]) * itemSize
				copy(dst[dstStart:dstStart+itemSize], src[srcStart:srcStart+itemSize])
			}
			return
		}

		for i := 0; i < copyShape[dim]; i++ {
			iterate(dim+1, currentSrcIdx+i*srcStrides[dim], currentDstIdx+i*dstStrides[dim])
		}
	}
	iterate(0, startSrcIdx, startDstIdx)
}
