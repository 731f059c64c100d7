package qfs

import (
	"encoding/binary"
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
	"github.com/qfsutil/qfsimg/file_systems/common/blockcache"
)

// EndOfChain is the next-block pointer stored in the last block of a chain.
const EndOfChain = 0xFFFF

const (
	blockFree = 0x00
	blockBusy = 0x01
)

// rawBlock is a view of a single block's bytes.
type rawBlock []byte

func (block rawBlock) isBusy() bool {
	return block[0] != blockFree
}

func (block rawBlock) payload() []byte {
	return block[1 : len(block)-2]
}

func (block rawBlock) next() uint16 {
	return binary.LittleEndian.Uint16(block[len(block)-2:])
}

func (block rawBlock) setNext(next uint16) {
	binary.LittleEndian.PutUint16(block[len(block)-2:], next)
}

// chainVisitor is called for every block of a chain in order. Returning false
// stops the walk early without an error.
type chainVisitor func(index c.LogicalBlock, block rawBlock) (bool, error)

// walkChain follows a chain of blocks starting at `start` until it reaches the
// end-of-chain marker or `visit` asks it to stop. It returns the number of
// blocks visited.
//
// The walk never takes more steps than there are blocks in the data region.
// A block index out of range, a block visited twice, or a walk that exceeds the
// step limit all fail with [qfsimg.ErrCorruptChain].
func walkChain(data *blockcache.BlockCache, start uint16, visit chainVisitor) (uint, error) {
	totalBlocks := data.TotalBlocks()
	visited := bitmap.New(int(totalBlocks))
	bytesPerBlock := data.BytesPerBlock()

	current := start
	steps := uint(0)
	for current != EndOfChain {
		if uint(current) >= totalBlocks {
			return steps, qfsimg.ErrCorruptChain.WithMessage(
				fmt.Sprintf(
					"chain starting at %d points to block %d, past the end of the image (%d blocks)",
					start,
					current,
					totalBlocks))
		}
		if visited.Get(int(current)) {
			return steps, qfsimg.ErrCorruptChain.WithMessage(
				fmt.Sprintf("chain starting at %d loops back to block %d", start, current))
		}
		if steps >= totalBlocks {
			return steps, qfsimg.ErrCorruptChain.WithMessage(
				fmt.Sprintf("chain starting at %d is longer than the image", start))
		}
		visited.Set(int(current), true)
		steps++

		block := make(rawBlock, bytesPerBlock)
		_, err := data.ReadAt(block, c.LogicalBlock(current))
		if err != nil {
			return steps, err
		}

		keepGoing, err := visit(c.LogicalBlock(current), block)
		if err != nil {
			return steps, err
		} else if !keepGoing {
			return steps, nil
		}
		current = block.next()
	}
	return steps, nil
}

// ReadChain returns the first `size` bytes of data stored in the chain that
// begins at `start`. A chain that ends before `size` bytes have been collected
// fails with [qfsimg.ErrCorruptChain]. If `size` is 0 no blocks are read.
func ReadChain(data *blockcache.BlockCache, start uint16, size uint32) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	// `size` comes straight from the directory, so don't trust it for the
	// allocation. No chain can hold more than the whole data region.
	capacity := uint64(data.TotalBlocks()) * uint64(data.BytesPerBlock()-BlockOverhead)
	if uint64(size) < capacity {
		capacity = uint64(size)
	}
	output := make([]byte, 0, capacity)

	_, err := walkChain(
		data,
		start,
		func(_ c.LogicalBlock, block rawBlock) (bool, error) {
			payload := block.payload()
			remaining := int(size) - len(output)
			if remaining < len(payload) {
				payload = payload[:remaining]
			}
			output = append(output, payload...)
			return len(output) < int(size), nil
		},
	)
	if err != nil {
		return nil, err
	}

	if len(output) < int(size) {
		return nil, qfsimg.ErrCorruptChain.WithMessage(
			fmt.Sprintf(
				"chain starting at %d ended after %d bytes, expected %d",
				start,
				len(output),
				size))
	}
	return output, nil
}

// WriteChain writes `payload` across `blocks` in order, then has a
// [BlockAllocator] link each block to the next, terminate the last one and mark
// every block busy. `blocks` must contain exactly as many blocks as the payload
// needs (at least one). Unused payload bytes in the last block are zeroed.
//
// The blocks are written into the cache only; the caller is responsible for
// flushing it.
func WriteChain(data *blockcache.BlockCache, blocks []c.LogicalBlock, payload []byte) error {
	bytesPerBlock := data.BytesPerBlock()
	dataPerBlock := int(bytesPerBlock) - BlockOverhead

	needed := (len(payload) + dataPerBlock - 1) / dataPerBlock
	if needed == 0 {
		needed = 1
	}
	if len(blocks) != needed {
		return qfsimg.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"payload of %d bytes needs %d blocks, got %d",
				len(payload),
				needed,
				len(blocks)))
	}

	for i, index := range blocks {
		block := make(rawBlock, bytesPerBlock)

		chunkStart := i * dataPerBlock
		chunkEnd := chunkStart + dataPerBlock
		if chunkEnd > len(payload) {
			chunkEnd = len(payload)
		}
		if chunkStart < chunkEnd {
			copy(block.payload(), payload[chunkStart:chunkEnd])
		}

		_, err := data.WriteAt(block, index)
		if err != nil {
			return err
		}
	}
	return NewBlockAllocator(data).MarkChainBusy(blocks)
}
