// Package disks is a table of named QFS image geometries, so that images can
// be described as "a 1.44 MiB floppy" instead of by their raw parameters.
package disks

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/qfsutil/qfsimg"
	"github.com/qfsutil/qfsimg/file_systems/qfs"
)

// Geometry gives the parameters fixed when a QFS image is created.
type Geometry struct {
	Name            string `csv:"name"`
	Slug            string `csv:"slug"`
	BytesPerBlock   uint16 `csv:"bytes_per_block"`
	TotalBlocks     uint16 `csv:"total_blocks"`
	TotalDirentries uint8  `csv:"total_direntries"`
	Notes           string `csv:"notes"`
}

// Superblock returns the superblock of an empty image with this geometry.
func (g *Geometry) Superblock() qfs.Superblock {
	return qfs.Superblock{
		Magic:            qfs.Magic,
		BytesPerBlock:    g.BytesPerBlock,
		TotalBlocks:      g.TotalBlocks,
		AvailableBlocks:  g.TotalBlocks,
		TotalDirents:     g.TotalDirentries,
		AvailableDirents: g.TotalDirentries,
	}
}

// ImageSize gives the size of an image with this geometry, in bytes.
func (g *Geometry) ImageSize() int64 {
	sb := g.Superblock()
	return sb.ImageSize()
}

// Matches returns true if the superblock describes an image with this geometry.
// The free counters are ignored.
func (g *Geometry) Matches(sb *qfs.Superblock) bool {
	return sb.BytesPerBlock == g.BytesPerBlock &&
		sb.TotalBlocks == g.TotalBlocks &&
		sb.TotalDirents == g.TotalDirentries
}

////////////////////////////////////////////////////////////////////////////////

//go:embed qfs-geometries.csv
var geometriesRawCSV string

// geometries is kept in file order.
var geometries []Geometry

// GetPredefinedGeometry returns the geometry with the given slug.
func GetPredefinedGeometry(slug string) (Geometry, error) {
	for _, geometry := range geometries {
		if geometry.Slug == slug {
			return geometry, nil
		}
	}
	return Geometry{}, qfsimg.ErrNotFound.WithMessage(
		fmt.Sprintf("no predefined geometry exists with slug %q", slug))
}

// FindMatchingGeometry returns the first predefined geometry the superblock
// matches. The boolean is false if the image doesn't have a standard geometry.
func FindMatchingGeometry(sb *qfs.Superblock) (Geometry, bool) {
	for _, geometry := range geometries {
		if geometry.Matches(sb) {
			return geometry, true
		}
	}
	return Geometry{}, false
}

// PredefinedGeometries returns a copy of every geometry in the table.
func PredefinedGeometries() []Geometry {
	output := make([]Geometry, len(geometries))
	copy(output, geometries)
	return output
}

func parseGeometries(rawCSV string) ([]Geometry, error) {
	csvReader := csv.NewReader(strings.NewReader(rawCSV))
	csvReader.Comma = '|'

	rows := []Geometry{}
	err := gocsv.UnmarshalCSV(csvReader, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry table: %w", err)
	}

	seen := map[string]int{}
	for i, row := range rows {
		previous, exists := seen[row.Slug]
		if exists {
			return nil, fmt.Errorf(
				"duplicate definition for geometry %q on rows %d and %d",
				row.Slug,
				previous+1,
				i+1)
		}
		seen[row.Slug] = i

		sb := row.Superblock()
		err = sb.Validate()
		if err != nil {
			return nil, fmt.Errorf("geometry %q on row %d is unusable: %w", row.Slug, i+1, err)
		}
	}
	return rows, nil
}

func init() {
	var err error
	geometries, err = parseGeometries(geometriesRawCSV)
	if err != nil {
		panic(err)
	}
}
