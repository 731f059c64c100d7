package compression

import (
	"bufio"
	"io"
)

// ByteRun is a maximal run of one byte value.
type ByteRun struct {
	Byte byte
	// RunLength is the number of times the byte occurs. It's 0 only for
	// [EndOfInputRun].
	RunLength int
}

// EndOfInputRun is returned by [RunGrouper.NextRun] once the input is
// exhausted or an error occurred.
var EndOfInputRun = ByteRun{}

// RunGrouper splits a byte stream into maximal runs of identical bytes.
type RunGrouper struct {
	rd *bufio.Reader
}

func NewRunGrouper(rd io.Reader) RunGrouper {
	return RunGrouper{rd: bufio.NewReader(rd)}
}

// NextRun returns the next run in the stream. At the end of the input it
// returns [EndOfInputRun] and [io.EOF].
func (grouper RunGrouper) NextRun() (ByteRun, error) {
	first, err := grouper.rd.ReadByte()
	if err != nil {
		return EndOfInputRun, err
	}

	run := ByteRun{Byte: first, RunLength: 1}
	for {
		current, err := grouper.rd.ReadByte()
		if err == io.EOF {
			return run, nil
		} else if err != nil {
			return EndOfInputRun, err
		}

		if current != first {
			grouper.rd.UnreadByte()
			return run, nil
		}
		run.RunLength++
	}
}
