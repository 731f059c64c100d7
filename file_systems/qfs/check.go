package qfs

import (
	"errors"
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
)

// ChainProblem describes a directory entry whose chain can't be read in full.
type ChainProblem struct {
	Slot uint
	Name string
	Err  error
}

// CheckReport lists every inconsistency [Driver.Check] found. An image that was
// never interrupted mid-write produces an empty report.
type CheckReport struct {
	RecordedFreeBlocks  uint
	ActualFreeBlocks    uint
	RecordedFreeDirents uint
	ActualFreeDirents   uint
	// OrphanedBlocks are marked busy but aren't part of any entry's chain.
	OrphanedBlocks []c.LogicalBlock
	// SharedBlocks are part of more than one entry's chain.
	SharedBlocks []c.LogicalBlock
	// UnmarkedBlocks are part of an entry's chain but are marked free.
	UnmarkedBlocks []c.LogicalBlock
	// BrokenChains are entries whose chains are corrupt or too short to hold
	// the file size recorded in the entry.
	BrokenChains   []ChainProblem
	DuplicateNames []string
}

// HasBlockCounterDrift is true if the superblock's free block count disagrees
// with the busy markers.
func (report *CheckReport) HasBlockCounterDrift() bool {
	return report.RecordedFreeBlocks != report.ActualFreeBlocks
}

// HasDirentCounterDrift is true if the superblock's free slot count disagrees
// with the directory table.
func (report *CheckReport) HasDirentCounterDrift() bool {
	return report.RecordedFreeDirents != report.ActualFreeDirents
}

// IsClean returns true if no problems were found.
func (report *CheckReport) IsClean() bool {
	return !report.HasBlockCounterDrift() &&
		!report.HasDirentCounterDrift() &&
		len(report.OrphanedBlocks) == 0 &&
		len(report.SharedBlocks) == 0 &&
		len(report.UnmarkedBlocks) == 0 &&
		len(report.BrokenChains) == 0 &&
		len(report.DuplicateNames) == 0
}

// Problems returns a human-readable line for every problem in the report.
func (report *CheckReport) Problems() []string {
	problems := []string{}
	if report.HasBlockCounterDrift() {
		problems = append(
			problems,
			fmt.Sprintf(
				"superblock says %d blocks are free, found %d",
				report.RecordedFreeBlocks,
				report.ActualFreeBlocks))
	}
	if report.HasDirentCounterDrift() {
		problems = append(
			problems,
			fmt.Sprintf(
				"superblock says %d directory slots are free, found %d",
				report.RecordedFreeDirents,
				report.ActualFreeDirents))
	}
	for _, block := range report.OrphanedBlocks {
		problems = append(problems, fmt.Sprintf("block %d is busy but not owned by any file", block))
	}
	for _, block := range report.SharedBlocks {
		problems = append(problems, fmt.Sprintf("block %d is owned by more than one file", block))
	}
	for _, block := range report.UnmarkedBlocks {
		problems = append(problems, fmt.Sprintf("block %d is owned by a file but marked free", block))
	}
	for _, problem := range report.BrokenChains {
		problems = append(
			problems,
			fmt.Sprintf("%q (slot %d): %s", problem.Name, problem.Slot, problem.Err.Error()))
	}
	for _, name := range report.DuplicateNames {
		problems = append(problems, fmt.Sprintf("more than one file is named %q", name))
	}
	return problems
}

// Check scans the whole image and reports inconsistencies between the
// superblock, the directory table and the busy markers. It never modifies the
// image.
func (driver *Driver) Check() (CheckReport, error) {
	err := driver.checkMounted()
	if err != nil {
		return CheckReport{}, err
	}

	sb := &driver.superblock
	totalBlocks := int(sb.TotalBlocks)
	report := CheckReport{
		RecordedFreeBlocks:  uint(sb.AvailableBlocks),
		RecordedFreeDirents: uint(sb.AvailableDirents),
		ActualFreeDirents:   uint(sb.TotalDirents),
	}

	busy := bitmap.New(totalBlocks)
	for i := 0; i < totalBlocks; i++ {
		isBusy, err := driver.allocator.IsBusy(c.LogicalBlock(i))
		if err != nil {
			return CheckReport{}, err
		}
		if isBusy {
			busy.Set(i, true)
		} else {
			report.ActualFreeBlocks++
		}
	}

	dirents, err := driver.ListEntries()
	if err != nil {
		return CheckReport{}, err
	}
	report.ActualFreeDirents -= uint(len(dirents))

	claimed := bitmap.New(totalBlocks)
	shared := bitmap.New(totalBlocks)
	nameCounts := map[string]int{}

	for _, dirent := range dirents {
		nameCounts[dirent.Name()]++
		if nameCounts[dirent.Name()] == 2 {
			report.DuplicateNames = append(report.DuplicateNames, dirent.Name())
		}

		blocksNeeded := sb.BlocksNeeded(uint64(dirent.FileSize))
		steps, err := walkChain(
			driver.data,
			dirent.StartingBlock,
			func(index c.LogicalBlock, _ rawBlock) (bool, error) {
				if claimed.Get(int(index)) {
					shared.Set(int(index), true)
				}
				claimed.Set(int(index), true)
				return true, nil
			},
		)

		if err == nil && steps < blocksNeeded {
			err = qfsimg.ErrCorruptChain.WithMessage(
				fmt.Sprintf(
					"chain has %d blocks, file size %d needs %d",
					steps,
					dirent.FileSize,
					blocksNeeded))
		}
		if err != nil {
			if !errors.Is(err, qfsimg.ErrCorruptChain) {
				return CheckReport{}, err
			}
			report.BrokenChains = append(
				report.BrokenChains,
				ChainProblem{Slot: dirent.SlotIndex, Name: dirent.Name(), Err: err})
		}
	}

	for i := 0; i < totalBlocks; i++ {
		switch {
		case busy.Get(i) && !claimed.Get(i):
			report.OrphanedBlocks = append(report.OrphanedBlocks, c.LogicalBlock(i))
		case !busy.Get(i) && claimed.Get(i):
			report.UnmarkedBlocks = append(report.UnmarkedBlocks, c.LogicalBlock(i))
		}
		if shared.Get(i) {
			report.SharedBlocks = append(report.SharedBlocks, c.LogicalBlock(i))
		}
	}
	return report, nil
}
