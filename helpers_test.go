package zarrguard_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/xarrlab/zarrguard/zarr"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := fileblob.OpenBucket(t.TempDir(), &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func rampFloat32(n int) []byte {
	buf := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(i)))
	}
	return buf
}

// testDataset is a 4x4 float32 array chunked 2x2: a 2x2 chunk grid.
func testDataset() *zarr.Dataset {
	return &zarr.Dataset{Arrays: []zarr.Array{{
		Name:       "var",
		Shape:      []int{4, 4},
		ChunkShape: []int{2, 2},
		DataType:   "float32",
		FillValue:  0.0,
		Data:       rampFloat32(16),
	}}}
}

func twoVarDataset() *zarr.Dataset {
	ds := testDataset()
	ds.Arrays = append(ds.Arrays, zarr.Array{
		Name:       "other",
		Shape:      []int{4},
		ChunkShape: []int{2},
		DataType:   "int32",
		FillValue:  0,
	})
	return ds
}
