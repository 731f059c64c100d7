// Package carving recovers files from raw image bytes by looking for known
// start and end signatures, ignoring the file system metadata entirely.
//
// Deleting a file from a QFS image only clears the busy markers of its blocks,
// so the payload stays on disk until the blocks are reused. If a file is small
// enough to fit in one block, or its blocks happen to be adjacent, the carved
// span is the original file. Larger files get the busy marker and next pointer
// bytes of each block boundary mixed into the output.
package carving
