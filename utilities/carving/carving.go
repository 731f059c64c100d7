package carving

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/sha256-simd"
	"github.com/qfsutil/qfsimg"
	"github.com/qfsutil/qfsimg/utilities/tracelog"
)

// Span is one file found in the raw bytes.
type Span struct {
	// Offset is where the start signature begins in the input.
	Offset    int
	Signature Signature
	// Data runs from the first byte of the start signature through the last
	// byte of the end signature. It doesn't share memory with the input.
	Data []byte
}

// Digest returns the SHA-256 hash of the span's contents.
func (span Span) Digest() [sha256.Size]byte {
	return sha256.Sum256(span.Data)
}

// HexDigest is [Span.Digest] as a lowercase hex string.
func (span Span) HexDigest() string {
	digest := span.Digest()
	return hex.EncodeToString(digest[:])
}

// matchStart returns the first signature whose start sequence begins at
// `raw[offset]`.
func matchStart(raw []byte, offset int, signatures []Signature) (Signature, bool) {
	for _, sig := range signatures {
		if len(sig.Start) == 0 || len(sig.End) == 0 {
			continue
		}
		if bytes.HasPrefix(raw[offset:], sig.Start) {
			return sig, true
		}
	}
	return Signature{}, false
}

// Carve scans `raw` once from left to right and returns every complete span it
// finds, in order. An empty `signatures` list means [DefaultSignatures].
//
// Signatures are tried in the order given, so if two start sequences match at
// the same offset the earlier signature wins. When a start sequence is found,
// the end sequence of the same signature is searched for beginning right after
// the start sequence. Other start sequences seen in between are part of the
// span, not new spans. Scanning resumes after the end sequence. A span whose
// end sequence never appears is dropped.
func Carve(raw []byte, signatures []Signature) []Span {
	if len(signatures) == 0 {
		signatures = DefaultSignatures
	}
	spans := []Span{}

	offset := 0
	for offset < len(raw) {
		sig, found := matchStart(raw, offset, signatures)
		if !found {
			offset++
			continue
		}

		searchFrom := offset + len(sig.Start)
		endIndex := bytes.Index(raw[searchFrom:], sig.End)
		if endIndex < 0 {
			tracelog.Printf(
				"%s start at offset %d has no end signature, discarding", sig.Name, offset)
			break
		}

		spanEnd := searchFrom + endIndex + len(sig.End)
		data := make([]byte, spanEnd-offset)
		copy(data, raw[offset:spanEnd])
		spans = append(spans, Span{Offset: offset, Signature: sig, Data: data})

		tracelog.Printf("found %s at offset %d, %d bytes", sig.Name, offset, len(data))
		offset = spanEnd
	}
	return spans
}

// OutputFactory creates the destination for the `index`th recovered file.
// Indexes start at 1.
type OutputFactory func(index int, sig Signature) (io.WriteCloser, error)

// OutputFileName gives the name a recovered file is saved under, e.g.
// "recovered_file_3.jpg".
func OutputFileName(index int, sig Signature) string {
	return fmt.Sprintf("recovered_file_%d.%s", index, sig.Extension)
}

// DirectoryOutputs returns an [OutputFactory] that creates files named by
// [OutputFileName] in `directory`. Existing files are overwritten.
func DirectoryOutputs(directory string) OutputFactory {
	return func(index int, sig Signature) (io.WriteCloser, error) {
		path := filepath.Join(directory, OutputFileName(index, sig))
		file, err := os.Create(path)
		if err != nil {
			return nil, qfsimg.ErrIOFailed.Wrap(err)
		}
		return file, nil
	}
}

// Recover carves `raw` like [Carve] and writes each span to an output created by
// `factory`. It returns the spans that were written. If creating or writing an output
// fails, the spans written before it are returned along with the error.
func Recover(raw []byte, signatures []Signature, factory OutputFactory) ([]Span, error) {
	spans := Carve(raw, signatures)

	for i, span := range spans {
		output, err := factory(i+1, span.Signature)
		if err != nil {
			return spans[:i], err
		}

		_, err = output.Write(span.Data)
		closeErr := output.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			return spans[:i], qfsimg.CastToDriverError(err).WithMessage(
				fmt.Sprintf("failed to write recovered file %d", i+1))
		}
	}
	return spans, nil
}
