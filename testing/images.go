package testing

import (
	"bytes"
	"io"
	"testing"

	"github.com/qfsutil/qfsimg/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// NewImageStream wraps a copy of `imageBytes` in an in-memory stream.
//
//   - Writes to the stream do not affect `imageBytes`.
//   - While the stream can be written to, its size is fixed to `len(imageBytes)`.
//     Use [ReadBackImage] to inspect what was written.
func NewImageStream(t *testing.T, imageBytes []byte) io.ReadWriteSeeker {
	require.Greater(t, len(imageBytes), 0, "image is empty")

	backing := make([]byte, len(imageBytes))
	copy(backing, imageBytes)
	return bytesextra.NewReadWriteSeeker(backing)
}

// LoadDiskImage takes an image packed with [compression.CompressImage] and
// returns a stream over the unpacked bytes. The test fails if the unpacked
// image isn't exactly `expectedSize` bytes.
func LoadDiskImage(t *testing.T, packedImage []byte, expectedSize int) io.ReadWriteSeeker {
	require.Greater(t, len(packedImage), 0, "packed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(bytes.NewReader(packedImage))
	require.NoError(t, err, "failed to unpack image")
	require.Equal(t, expectedSize, len(imageBytes), "unpacked image is wrong size")
	return bytesextra.NewReadWriteSeeker(imageBytes)
}

// ReadBackImage returns the first `size` bytes of `stream`, leaving the stream
// positioned at the end of what was read. It fails the test if fewer than
// `size` bytes are available.
func ReadBackImage(t *testing.T, stream io.ReadSeeker, size int) []byte {
	_, err := stream.Seek(0, io.SeekStart)
	require.NoError(t, err, "failed to rewind image stream")

	contents := make([]byte, size)
	_, err = io.ReadFull(stream, contents)
	require.NoErrorf(t, err, "failed to read back %d bytes of image", size)
	return contents
}
