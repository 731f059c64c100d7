// Package common contains definitions of fundamental types shared by the file
// system implementation and its block layer.
package common

// LogicalBlock is the index of a block relative to the start of a block
// region, not the start of the image.
type LogicalBlock uint
