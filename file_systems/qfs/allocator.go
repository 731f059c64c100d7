package qfs

import (
	"fmt"

	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
	"github.com/qfsutil/qfsimg/file_systems/common/blockcache"
)

// BlockAllocator hands out and reclaims blocks in the data region by way of the
// busy marker at the start of every block. It doesn't touch the superblock
// counters; keeping those in step is the driver's job.
type BlockAllocator struct {
	data *blockcache.BlockCache
}

// NewBlockAllocator creates an allocator over the data region cache.
func NewBlockAllocator(data *blockcache.BlockCache) BlockAllocator {
	return BlockAllocator{data: data}
}

// IsBusy reports whether the block at `index` is marked as in use.
func (alloc BlockAllocator) IsBusy(index c.LogicalBlock) (bool, error) {
	marker := make([]byte, 1)
	_, err := alloc.data.ReadAt(marker, index)
	if err != nil {
		return false, err
	}
	return marker[0] != blockFree, nil
}

// FindFree returns the indexes of the first `count` free blocks in ascending
// order. If there aren't enough it fails with [qfsimg.ErrInsufficientBlocks].
// Nothing is modified either way.
func (alloc BlockAllocator) FindFree(count uint) ([]c.LogicalBlock, error) {
	found := make([]c.LogicalBlock, 0, count)
	if count == 0 {
		return found, nil
	}

	totalBlocks := alloc.data.TotalBlocks()
	for i := uint(0); i < totalBlocks; i++ {
		busy, err := alloc.IsBusy(c.LogicalBlock(i))
		if err != nil {
			return nil, err
		}
		if !busy {
			found = append(found, c.LogicalBlock(i))
			if uint(len(found)) == count {
				return found, nil
			}
		}
	}

	return nil, qfsimg.ErrInsufficientBlocks.WithMessage(
		fmt.Sprintf("need %d free blocks, found %d", count, len(found)))
}

// MarkChainBusy links `blocks` into a chain in the given order and marks each
// one busy, without touching payload bytes. The last block gets the
// end-of-chain pointer. This is the only place chain links are written.
func (alloc BlockAllocator) MarkChainBusy(blocks []c.LogicalBlock) error {
	for i, index := range blocks {
		slice, err := alloc.data.GetSlice(index, 1)
		if err != nil {
			return err
		}
		// Fails on a read-only cache, so check it before the slice is touched.
		err = alloc.data.MarkBlockRangeDirty(index, 1)
		if err != nil {
			return err
		}

		block := rawBlock(slice)
		block[0] = blockBusy
		if i+1 < len(blocks) {
			block.setNext(uint16(blocks[i+1]))
		} else {
			block.setNext(EndOfChain)
		}
	}
	return nil
}

// FreeChain clears the busy marker of every block in the chain beginning at
// `start` and returns how many blocks were freed. Payload bytes and next
// pointers are left in place, which is what makes carving deleted files
// possible.
//
// The whole chain is validated before any marker is cleared, so a corrupt
// chain fails with [qfsimg.ErrCorruptChain] and frees nothing.
func (alloc BlockAllocator) FreeChain(start uint16) (uint, error) {
	chain := []c.LogicalBlock{}
	_, err := walkChain(
		alloc.data,
		start,
		func(index c.LogicalBlock, _ rawBlock) (bool, error) {
			chain = append(chain, index)
			return true, nil
		},
	)
	if err != nil {
		return 0, err
	}

	marker := []byte{blockFree}
	for _, index := range chain {
		_, err = alloc.data.WriteAt(marker, index)
		if err != nil {
			return 0, err
		}
	}
	return uint(len(chain)), nil
}
