package disks

import (
	"testing"

	"github.com/qfsutil/qfsimg"
	"github.com/qfsutil/qfsimg/file_systems/qfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryTable__Loaded(t *testing.T) {
	all := PredefinedGeometries()
	require.NotEmpty(t, all)

	for _, geometry := range all {
		assert.NotEmpty(t, geometry.Name)
		assert.NotEmpty(t, geometry.Slug)
		assert.Greaterf(t, geometry.BytesPerBlock, uint16(qfs.BlockOverhead), "%s", geometry.Slug)
	}
}

func TestGetPredefinedGeometry__Floppy(t *testing.T) {
	geometry, err := GetPredefinedGeometry("qfs-1440k")
	require.NoError(t, err)

	assert.EqualValues(t, 512, geometry.BytesPerBlock)
	assert.EqualValues(t, 2864, geometry.TotalBlocks)
	assert.EqualValues(t, 255, geometry.TotalDirentries)
	assert.EqualValues(t, 1474560, geometry.ImageSize())
}

func TestGetPredefinedGeometry__Missing(t *testing.T) {
	_, err := GetPredefinedGeometry("qfs-8-inch")
	assert.ErrorIs(t, err, qfsimg.ErrNotFound)
}

func TestFindMatchingGeometry(t *testing.T) {
	sb := qfs.Superblock{
		Magic:            qfs.Magic,
		BytesPerBlock:    64,
		TotalBlocks:      32,
		AvailableBlocks:  7,
		TotalDirents:     8,
		AvailableDirents: 1,
	}

	geometry, found := FindMatchingGeometry(&sb)
	require.True(t, found)
	assert.Equal(t, "qfs-tiny", geometry.Slug)

	sb.TotalBlocks = 33
	_, found = FindMatchingGeometry(&sb)
	assert.False(t, found)
}

func TestGeometry__SuperblockIsBlank(t *testing.T) {
	geometry, err := GetPredefinedGeometry("qfs-2m")
	require.NoError(t, err)

	sb := geometry.Superblock()
	require.NoError(t, sb.Validate())
	assert.Equal(t, sb.TotalBlocks, sb.AvailableBlocks)
	assert.Equal(t, sb.TotalDirents, sb.AvailableDirents)
	assert.EqualValues(t, 8192, sb.DataOffset())
}

func TestParseGeometries__Duplicate(t *testing.T) {
	raw := "name|slug|bytes_per_block|total_blocks|total_direntries|notes\n" +
		"A|same|512|10|4|\n" +
		"B|same|512|20|4|\n"
	_, err := parseGeometries(raw)
	assert.ErrorContains(t, err, "duplicate")
}

func TestParseGeometries__Unusable(t *testing.T) {
	raw := "name|slug|bytes_per_block|total_blocks|total_direntries|notes\n" +
		"A|tiny-blocks|3|10|4|\n"
	_, err := parseGeometries(raw)
	assert.ErrorIs(t, err, qfsimg.ErrInvalidImage)
}
