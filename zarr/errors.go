package zarr

import "errors"

var (
	// ErrInvalidCoordinate reports a chunk coordinate whose rank or bounds do
	// not match the array it was used with.
	ErrInvalidCoordinate = errors.New("invalid chunk coordinate")

	// ErrInvalidShape reports malformed shape or chunk-shape metadata.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrUnsupportedFormat reports store metadata this package cannot handle,
	// such as a zarr_format other than 3 or an irregular chunk grid.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrStoreUnreadable reports a failure of the underlying store while
	// listing or reading metadata.
	ErrStoreUnreadable = errors.New("store unreadable")
)
