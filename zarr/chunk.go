package zarr

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
)

// KeyEncoding selects the Zarr v3 chunk-key encoding for an array.
type KeyEncoding string

const (
	// EncodingDefault is the v3 "default" encoding: keys are "c" joined with
	// the coordinate components, separated by "/" unless configured otherwise.
	EncodingDefault KeyEncoding = "default"
	// EncodingV2 is the legacy encoding: bare coordinate components joined
	// with ".", and "0" for zero-rank arrays.
	EncodingV2 KeyEncoding = "v2"
)

// GridShape calculates the number of chunks in each dimension.
// For each dimension i, the number of chunks is ceil(shape[i] / chunks[i]).
// A zero-rank array has an empty grid, which still holds exactly one chunk.
func GridShape(shape, chunks []int) ([]int, error) {
	if len(shape) != len(chunks) {
		return nil, fmt.Errorf("%w: shape rank %d != chunk rank %d", ErrInvalidShape, len(shape), len(chunks))
	}
	grid := make([]int, len(shape))
	for i := range shape {
		if shape[i] < 0 {
			return nil, fmt.Errorf("%w: negative dimension %d in shape %v", ErrInvalidShape, i, shape)
		}
		if chunks[i] <= 0 {
			return nil, fmt.Errorf("%w: non-positive dimension %d in chunk shape %v", ErrInvalidShape, i, chunks)
		}
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid, nil
}

// NumChunks returns the total number of chunks in a grid.
func NumChunks(grid []int) int {
	total := 1
	for _, n := range grid {
		total *= n
	}
	return total
}

// Coordinates returns a lazy sequence over every chunk coordinate of a grid,
// in row-major order with the last dimension varying fastest. The sequence
// can be ranged over any number of times and each yielded slice is owned by
// the caller. A grid with a zero dimension yields nothing; an empty grid
// (zero-rank array) yields a single empty coordinate.
func Coordinates(grid []int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		for _, n := range grid {
			if n <= 0 {
				return
			}
		}
		coord := make([]int, len(grid))
		for {
			if !yield(slices.Clone(coord)) {
				return
			}
			dim := len(grid) - 1
			for ; dim >= 0; dim-- {
				coord[dim]++
				if coord[dim] < grid[dim] {
					break
				}
				coord[dim] = 0
			}
			if dim < 0 {
				return
			}
		}
	}
}

// ChunkKey encodes a chunk coordinate as the array-relative storage key.
// For the default encoding, coord=[0, 1] with separator "/" yields "c/0/1";
// the v2 encoding yields "0.1". Zero-rank arrays map to "c" and "0"
// respectively.
func ChunkKey(spec ArraySpec, coord []int) (string, error) {
	if len(coord) != len(spec.Shape) {
		return "", fmt.Errorf("%w: rank %d coordinate for rank %d array %q", ErrInvalidCoordinate, len(coord), len(spec.Shape), spec.Name)
	}
	for _, c := range coord {
		if c < 0 {
			return "", fmt.Errorf("%w: negative component in %v for array %q", ErrInvalidCoordinate, coord, spec.Name)
		}
	}

	sep := spec.separatorOrDefault()
	switch spec.Encoding {
	case EncodingDefault, "":
		if len(coord) == 0 {
			return "c", nil
		}
		var sb strings.Builder
		sb.WriteString("c")
		for _, c := range coord {
			sb.WriteString(sep)
			sb.WriteString(strconv.Itoa(c))
		}
		return sb.String(), nil
	case EncodingV2:
		if len(coord) == 0 {
			return "0", nil
		}
		parts := make([]string, len(coord))
		for i, c := range coord {
			parts[i] = strconv.Itoa(c)
		}
		return strings.Join(parts, sep), nil
	default:
		return "", fmt.Errorf("%w: chunk_key_encoding %q for array %q", ErrUnsupportedFormat, spec.Encoding, spec.Name)
	}
}

// ChunkObjectKey returns the store-relative key for a chunk, prefixing the
// array path onto its array-relative key.
func ChunkObjectKey(spec ArraySpec, coord []int) (string, error) {
	key, err := ChunkKey(spec, coord)
	if err != nil {
		return "", err
	}
	if spec.Path == "" {
		return key, nil
	}
	return spec.Path + "/" + key, nil
}

// CoordInBounds reports whether a coordinate addresses a cell of the array's
// chunk grid.
func CoordInBounds(spec ArraySpec, coord []int) (bool, error) {
	grid, err := GridShape(spec.Shape, spec.ChunkShape)
	if err != nil {
		return false, err
	}
	if len(coord) != len(grid) {
		return false, nil
	}
	for i, c := range coord {
		if c < 0 || c >= grid[i] {
			return false, nil
		}
	}
	return true, nil
}
