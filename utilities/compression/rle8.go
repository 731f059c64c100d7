package compression

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxRLE8Group is the longest run a single RLE8 group can describe.
const maxRLE8Group = 257

// CompressRLE8 encodes everything in `input` and writes it to `output`. It
// returns the number of bytes written.
func CompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	grouper := NewRunGrouper(input)
	written := int64(0)

	for {
		run, err := grouper.NextRun()
		if errors.Is(err, io.EOF) {
			return written, nil
		} else if err != nil {
			return written, err
		}

		for run.RunLength >= 2 {
			groupLength := run.RunLength
			if groupLength > maxRLE8Group {
				groupLength = maxRLE8Group
			}

			n, err := output.Write([]byte{run.Byte, run.Byte, byte(groupLength - 2)})
			written += int64(n)
			if err != nil {
				return written, err
			}
			run.RunLength -= groupLength
		}

		if run.RunLength == 1 {
			n, err := output.Write([]byte{run.Byte})
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
	}
}

// DecompressRLE8 decodes RLE8 data from `input` and writes the expanded bytes to
// `output`. It returns the number of bytes written. Input that ends between a
// pair of identical bytes and their repeat count fails with an error wrapping
// [io.ErrUnexpectedEOF].
func DecompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	previous := -1
	written := int64(0)

	for {
		current, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			return written, nil
		} else if err != nil {
			return written, fmt.Errorf("error reading input: %w", err)
		}

		var expanded []byte
		if int(current) == previous {
			count, err := source.ReadByte()
			if errors.Is(err, io.EOF) {
				return written, fmt.Errorf(
					"%w: missing repeat count after two %02x bytes",
					io.ErrUnexpectedEOF,
					current)
			} else if err != nil {
				return written, fmt.Errorf("error reading input: %w", err)
			}

			// The first byte of the pair has already been written.
			expanded = bytes.Repeat([]byte{current}, int(count)+1)
			previous = -1
		} else {
			expanded = []byte{current}
			previous = int(current)
		}

		n, err := output.Write(expanded)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("failed to write to output: %w", err)
		}
	}
}
