package qfs

import (
	"testing"

	"github.com/qfsutil/qfsimg"
	c "github.com/qfsutil/qfsimg/file_systems/common"
	qfstest "github.com/qfsutil/qfsimg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCheckImage returns a blank image with 32-byte blocks and its superblock.
func newCheckImage(t *testing.T, totalBlocks uint16, totalDirents uint8) ([]byte, Superblock) {
	image := newBlankImage(t, 32, totalBlocks, totalDirents)
	sb, err := LoadSuperblock(qfstest.NewImageStream(t, image))
	require.NoError(t, err)
	return image, sb
}

func runCheck(t *testing.T, image []byte) CheckReport {
	driver, _ := mountImage(t, image, qfsimg.MountFlagsReadOnly)
	report, err := driver.Check()
	require.NoError(t, err)
	return report
}

func TestCheck__BlankImageIsClean(t *testing.T) {
	image, _ := newCheckImage(t, 8, 4)
	report := runCheck(t, image)

	assert.True(t, report.IsClean())
	assert.Empty(t, report.Problems())
	assert.EqualValues(t, 8, report.ActualFreeBlocks)
	assert.EqualValues(t, 4, report.ActualFreeDirents)
}

func TestCheck__AfterDriverWritesIsClean(t *testing.T) {
	driver, _ := mountBlankImage(t, 32, 16, 4)
	_, err := driver.WriteFile("a", makePayload(100))
	require.NoError(t, err)
	_, err = driver.WriteFile("b", nil)
	require.NoError(t, err)
	_, err = driver.DeleteFile("a")
	require.NoError(t, err)
	_, err = driver.WriteFile("c", makePayload(29))
	require.NoError(t, err)

	report, err := driver.Check()
	require.NoError(t, err)
	assert.True(t, report.IsClean(), "problems found: %v", report.Problems())
}

func TestCheck__CounterDrift(t *testing.T) {
	image, _ := newCheckImage(t, 8, 4)
	setCounters(image, 5, 2)

	report := runCheck(t, image)
	assert.True(t, report.HasBlockCounterDrift())
	assert.True(t, report.HasDirentCounterDrift())
	assert.EqualValues(t, 5, report.RecordedFreeBlocks)
	assert.EqualValues(t, 8, report.ActualFreeBlocks)
	assert.Len(t, report.Problems(), 2)
}

func TestCheck__OrphanedBlocks(t *testing.T) {
	// Simulates a write interrupted after the blocks were written but before the
	// directory entry was.
	image, sb := newCheckImage(t, 8, 4)
	linkBlock(image, &sb, 2, true, 5)
	linkBlock(image, &sb, 5, true, EndOfChain)
	setCounters(image, 6, 4)

	report := runCheck(t, image)
	assert.Equal(t, []c.LogicalBlock{2, 5}, report.OrphanedBlocks)
	assert.False(t, report.HasBlockCounterDrift())
	assert.False(t, report.IsClean())
}

func TestCheck__SharedAndUnmarkedBlocks(t *testing.T) {
	image, sb := newCheckImage(t, 8, 4)
	putDirent(t, image, 0, NewRawDirent("first", 40, 0))
	putDirent(t, image, 1, NewRawDirent("second", 40, 3))
	linkBlock(image, &sb, 0, true, 1)
	linkBlock(image, &sb, 1, true, EndOfChain)
	linkBlock(image, &sb, 3, false, 1)
	setCounters(image, 6, 2)

	report := runCheck(t, image)
	assert.Equal(t, []c.LogicalBlock{1}, report.SharedBlocks)
	assert.Equal(t, []c.LogicalBlock{3}, report.UnmarkedBlocks)
	assert.Empty(t, report.OrphanedBlocks)
	assert.Empty(t, report.BrokenChains)
}

func TestCheck__BrokenChains(t *testing.T) {
	image, sb := newCheckImage(t, 8, 4)
	// 29 bytes per block, so 60 bytes needs three blocks but the chain has two.
	putDirent(t, image, 0, NewRawDirent("short", 60, 0))
	linkBlock(image, &sb, 0, true, 1)
	linkBlock(image, &sb, 1, true, EndOfChain)

	putDirent(t, image, 2, NewRawDirent("loop", 10, 4))
	linkBlock(image, &sb, 4, true, 4)

	putDirent(t, image, 3, NewRawDirent("wild", 10, 6))
	linkBlock(image, &sb, 6, true, 300)
	setCounters(image, 4, 1)

	report := runCheck(t, image)
	require.Len(t, report.BrokenChains, 3)
	assert.Equal(t, "short", report.BrokenChains[0].Name)
	assert.EqualValues(t, 0, report.BrokenChains[0].Slot)
	assert.Equal(t, "loop", report.BrokenChains[1].Name)
	assert.Equal(t, "wild", report.BrokenChains[2].Name)
	for _, problem := range report.BrokenChains {
		assert.ErrorIs(t, problem.Err, qfsimg.ErrCorruptChain)
	}
	assert.Empty(t, report.SharedBlocks)
	assert.False(t, report.HasBlockCounterDrift())
}

func TestCheck__DuplicateNames(t *testing.T) {
	driver, _ := mountBlankImage(t, 32, 8, 4)
	for i := 0; i < 3; i++ {
		_, err := driver.WriteFile("same", []byte("x"))
		require.NoError(t, err)
	}
	_, err := driver.WriteFile("other", []byte("y"))
	require.NoError(t, err)

	report, err := driver.Check()
	require.NoError(t, err)
	assert.Equal(t, []string{"same"}, report.DuplicateNames)
}

func TestCheck__DoesNotModifyImage(t *testing.T) {
	image, sb := newCheckImage(t, 8, 4)
	linkBlock(image, &sb, 2, true, 2)
	putDirent(t, image, 0, NewRawDirent("bad", 10, 2))
	setCounters(image, 1, 0)

	driver, stream := mountImage(t, image, qfsimg.MountFlagsAllowAll)
	_, err := driver.Check()
	require.NoError(t, err)
	require.NoError(t, driver.Flush())

	assert.Equal(t, image, qfstest.ReadBackImage(t, stream, len(image)))
}
