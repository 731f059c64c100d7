// Package compression packs QFS images into a compact archive format and back.
//
// Most of a QFS image is zero bytes: free directory slots, free blocks, and the
// unused tail of each file's last block. Images are run-length encoded first
// and the result is gzipped, which shrinks a mostly-empty image to a few
// hundred bytes. Test fixtures are stored this way, and the `qfs pack` and
// `qfs unpack` commands expose it to users.
//
// The run-length encoding is RLE8, as used by the BMP file format. A byte that
// occurs N >= 2 times in a row is written twice, followed by one unsigned byte
// giving the number of additional occurrences (N - 2). A single byte is written
// as itself.
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// One group covers at most 257 bytes, so longer runs are split across several
// groups. A byte that occurs exactly twice costs three bytes.
package compression
