package zarr

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunkKey(t *testing.T) {
	tests := []struct {
		name     string
		spec     ArraySpec
		coord    []int
		expected string
	}{
		{"default", ArraySpec{Shape: []int{4, 4}, ChunkShape: []int{2, 2}}, []int{0, 1}, "c/0/1"},
		{"default custom separator", ArraySpec{Shape: []int{4, 4}, ChunkShape: []int{2, 2}, Separator: "."}, []int{1, 4}, "c.1.4"},
		{"default zero rank", ArraySpec{}, []int{}, "c"},
		{"v2", ArraySpec{Shape: []int{4, 4}, ChunkShape: []int{2, 2}, Encoding: EncodingV2}, []int{1, 4}, "1.4"},
		{"v2 custom separator", ArraySpec{Shape: []int{4, 4}, ChunkShape: []int{2, 2}, Encoding: EncodingV2, Separator: "/"}, []int{1, 2}, "1/2"},
		{"v2 zero rank", ArraySpec{Encoding: EncodingV2}, []int{}, "0"},
		{"three dims", ArraySpec{Shape: []int{8, 8, 8}, ChunkShape: []int{2, 2, 2}}, []int{0, 0, 0}, "c/0/0/0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChunkKey(tt.spec, tt.coord)
			if err != nil {
				t.Fatalf("ChunkKey(%v) failed: %v", tt.coord, err)
			}
			if got != tt.expected {
				t.Errorf("ChunkKey(%v) = %q, want %q", tt.coord, got, tt.expected)
			}
		})
	}
}

func TestChunkKeyDeterministic(t *testing.T) {
	spec := ArraySpec{Name: "temperature", Path: "temperature", Shape: []int{6, 6}, ChunkShape: []int{2, 2}}

	first, err := ChunkKey(spec, []int{2, 1})
	if err != nil {
		t.Fatal(err)
	}
	second, err := ChunkKey(spec, []int{2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("same coordinate produced %q and %q", first, second)
	}

	// Distinct coordinates must never collide.
	grid, err := GridShape(spec.Shape, spec.ChunkShape)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string][]int{}
	for coord := range Coordinates(grid) {
		key, err := ChunkKey(spec, coord)
		if err != nil {
			t.Fatal(err)
		}
		if prev, ok := seen[key]; ok {
			t.Fatalf("key %q produced by both %v and %v", key, prev, coord)
		}
		seen[key] = coord
	}
}

func TestChunkKeyInvalid(t *testing.T) {
	spec := ArraySpec{Shape: []int{4, 4}, ChunkShape: []int{2, 2}}

	if _, err := ChunkKey(spec, []int{0}); !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("rank mismatch: got %v, want ErrInvalidCoordinate", err)
	}
	if _, err := ChunkKey(spec, []int{0, -1}); !errors.Is(err, ErrInvalidCoordinate) {
		t.Errorf("negative component: got %v, want ErrInvalidCoordinate", err)
	}

	bad := ArraySpec{Shape: []int{4}, ChunkShape: []int{2}, Encoding: "base64"}
	if _, err := ChunkKey(bad, []int{0}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("unknown encoding: got %v, want ErrUnsupportedFormat", err)
	}
}

func TestChunkObjectKey(t *testing.T) {
	spec := ArraySpec{Name: "group/b", Path: "group/b", Shape: []int{8}, ChunkShape: []int{4}}
	got, err := ChunkObjectKey(spec, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if got != "group/b/c/1" {
		t.Errorf("ChunkObjectKey = %q, want %q", got, "group/b/c/1")
	}
}

func TestGridShape(t *testing.T) {
	tests := []struct {
		shape    []int
		chunks   []int
		expected []int
	}{
		{[]int{4, 4}, []int{2, 2}, []int{2, 2}},
		{[]int{5, 4}, []int{2, 2}, []int{3, 2}},
		{[]int{1, 1}, []int{10, 10}, []int{1, 1}},
		{[]int{0, 4}, []int{2, 2}, []int{0, 2}},
		{[]int{}, []int{}, []int{}},
	}

	for _, tt := range tests {
		got, err := GridShape(tt.shape, tt.chunks)
		if err != nil {
			t.Fatalf("GridShape(%v, %v) failed: %v", tt.shape, tt.chunks, err)
		}
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("GridShape(%v, %v) = %v, want %v", tt.shape, tt.chunks, got, tt.expected)
		}
	}
}

func TestGridShapeInvalid(t *testing.T) {
	tests := []struct {
		name   string
		shape  []int
		chunks []int
	}{
		{"rank mismatch", []int{4, 4}, []int{2}},
		{"zero chunk", []int{4}, []int{0}},
		{"negative chunk", []int{4}, []int{-2}},
		{"negative shape", []int{-4}, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GridShape(tt.shape, tt.chunks); !errors.Is(err, ErrInvalidShape) {
				t.Errorf("got %v, want ErrInvalidShape", err)
			}
		})
	}
}

func TestCoordinatesOrder(t *testing.T) {
	var got [][]int
	for coord := range Coordinates([]int{2, 3}) {
		got = append(got, coord)
	}
	expected := [][]int{
		{0, 0}, {0, 1}, {0, 2},
		{1, 0}, {1, 1}, {1, 2},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Coordinates([2 3]) = %v, want %v", got, expected)
	}
}

func TestCoordinatesRestartable(t *testing.T) {
	seq := Coordinates([]int{3, 2})

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if first, second := count(), count(); first != second || first != NumChunks([]int{3, 2}) {
		t.Errorf("iteration counts %d and %d, want %d both times", first, second, 6)
	}
}

func TestCoordinatesEdgeGrids(t *testing.T) {
	// A zero dimension means no chunks at all.
	for coord := range Coordinates([]int{0, 2}) {
		t.Fatalf("unexpected coordinate %v for empty grid", coord)
	}

	// A zero-rank grid holds exactly one chunk with an empty coordinate.
	var got [][]int
	for coord := range Coordinates([]int{}) {
		got = append(got, coord)
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Errorf("zero-rank grid yielded %v, want one empty coordinate", got)
	}
}

func TestNumChunksMatchesEnumeration(t *testing.T) {
	grids := [][]int{{1}, {4}, {2, 3}, {3, 1, 2}, {}}
	for _, grid := range grids {
		n := 0
		for range Coordinates(grid) {
			n++
		}
		if n != NumChunks(grid) {
			t.Errorf("grid %v: enumerated %d, NumChunks %d", grid, n, NumChunks(grid))
		}
	}
}

func TestCoordInBounds(t *testing.T) {
	spec := ArraySpec{Shape: []int{5, 4}, ChunkShape: []int{2, 2}} // grid 3x2

	tests := []struct {
		coord []int
		want  bool
	}{
		{[]int{0, 0}, true},
		{[]int{2, 1}, true},
		{[]int{3, 0}, false},
		{[]int{0, 2}, false},
		{[]int{-1, 0}, false},
		{[]int{0}, false},
	}
	for _, tt := range tests {
		got, err := CoordInBounds(spec, tt.coord)
		if err != nil {
			t.Fatalf("CoordInBounds(%v) failed: %v", tt.coord, err)
		}
		if got != tt.want {
			t.Errorf("CoordInBounds(%v) = %v, want %v", tt.coord, got, tt.want)
		}
	}
}
