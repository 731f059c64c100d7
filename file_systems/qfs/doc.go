/*
Package qfs implements QFS, a minimal single-file disk image format with one
flat directory.

An image is three regions laid back to back. All multi-byte values are
little-endian and structures are packed.

	offset 0                 superblock, 32 bytes
	offset 32                directory table, total_direntries slots of 32 bytes
	offset 32 + 32*slots     data region, total_blocks blocks of bytes_per_block

Superblock fields, in order: magic (1 byte, always 0x51), bytes_per_block (2),
total_blocks (2), available_blocks (2), total_direntries (1),
available_direntries (1), then reserved bytes up to 32.

A directory slot holds a 24-byte NUL-padded filename, the file size (4 bytes)
and the index of the first block of the file (2 bytes), followed by 2 reserved
bytes. A slot is free if and only if the first byte of its filename is NUL.
Stored names are at most 23 bytes so the field is always NUL-terminated.

Every block is laid out as

	byte 0                   busy marker: 0x00 free, 0x01 in use
	bytes 1..n-3             payload, bytes_per_block - 3 bytes
	last 2 bytes             index of the next block, 0xFFFF ends the chain

This is the only block layout this package understands. Images produced by
tools that omit the busy marker or use a different payload size are not
supported, and reading them has undefined results.

The superblock, directory table and data region are written by separate I/O
operations with no journal. If a write is interrupted partway, the image can be
left with blocks marked busy that no entry owns, or with free-space counters
that disagree with the busy markers. [Driver.Check] reports these conditions;
nothing repairs them automatically.

A driver assumes it has exclusive access to the image for as long as it is
mounted.
*/
package qfs
