package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/qfsutil/qfsimg"
	"github.com/qfsutil/qfsimg/disks"
	"github.com/qfsutil/qfsimg/file_systems/qfs"
	"github.com/qfsutil/qfsimg/utilities/carving"
	"github.com/qfsutil/qfsimg/utilities/compression"
	"github.com/urfave/cli/v2"
)

// withImage mounts the image named by the first argument, runs `action`, and
// unmounts the image again.
func withImage(
	ctx *cli.Context, flags qfsimg.MountFlags, action func(driver *qfs.Driver) error,
) error {
	driver, err := qfs.MountFile(ctx.Args().First(), flags)
	if err != nil {
		return failWith(err)
	}

	err = action(driver)
	unmountErr := driver.Unmount()
	if err != nil {
		return err
	}
	return failWith(unmountErr)
}

func showInfo(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withImage(ctx, qfsimg.MountFlagsReadOnly, func(driver *qfs.Driver) error {
		stat := driver.FSStat()
		sb := driver.Superblock()

		geometryName := "nonstandard"
		if geometry, found := disks.FindMatchingGeometry(&sb); found {
			geometryName = fmt.Sprintf("%s (%s)", geometry.Name, geometry.Slug)
		}

		table := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintf(table, "Geometry:\t%s\n", geometryName)
		fmt.Fprintf(table, "Bytes per block:\t%d (%d payload)\n", stat.BlockSize, stat.PayloadBytesPerBlock)
		fmt.Fprintf(table, "Total blocks:\t%d\n", stat.TotalBlocks)
		fmt.Fprintf(table, "Free blocks:\t%d\n", stat.BlocksFree)
		fmt.Fprintf(table, "Directory entries:\t%d\n", stat.Files+stat.FilesFree)
		fmt.Fprintf(table, "Free directory entries:\t%d\n", stat.FilesFree)
		fmt.Fprintf(table, "Data region offset:\t%d\n", sb.DataOffset())
		fmt.Fprintf(table, "Image size:\t%d\n", sb.ImageSize())
		return table.Flush()
	})
}

func listFiles(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withImage(ctx, qfsimg.MountFlagsReadOnly, func(driver *qfs.Driver) error {
		dirents, err := driver.ListEntries()
		if err != nil {
			return failWith(err)
		}

		table := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(table, "SLOT\tNAME\tSIZE\tFIRST BLOCK\tBLOCKS")
		for _, dirent := range dirents {
			fmt.Fprintf(
				table,
				"%d\t%s\t%d\t%d\t%d\n",
				dirent.SlotIndex,
				dirent.Name(),
				dirent.FileSize,
				dirent.StartingBlock,
				dirent.Stat.NumBlocks)
		}
		return table.Flush()
	})
}

func readFile(ctx *cli.Context) error {
	if err := requireArgs(ctx, 3); err != nil {
		return err
	}
	name := ctx.Args().Get(1)
	outputPath := ctx.Args().Get(2)

	return withImage(ctx, qfsimg.MountFlagsReadOnly, func(driver *qfs.Driver) error {
		dirent, err := driver.FindEntry(name)
		if err != nil {
			return failWith(err)
		}
		contents, err := driver.ReadFile(dirent)
		if err != nil {
			return failWith(err)
		}

		if outputPath == "-" {
			_, err = ctx.App.Writer.Write(contents)
		} else {
			err = os.WriteFile(outputPath, contents, 0o644)
		}
		if err != nil {
			return failWith(qfsimg.ErrIOFailed.Wrap(err))
		}
		return nil
	})
}

func writeFile(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}
	localPath := ctx.Args().Get(1)

	name := ctx.String("name")
	if name == "" {
		name = filepath.Base(localPath)
	}
	if storedName := qfs.TruncateName(name); storedName != name {
		fmt.Fprintf(
			ctx.App.ErrWriter,
			"warning: name %q is longer than %d bytes and will be truncated to %q\n",
			name,
			qfs.MaxNameLength,
			storedName)
	}

	contents, err := os.ReadFile(localPath)
	if err != nil {
		return failWith(qfsimg.ErrIOFailed.Wrap(err))
	}

	flags := qfsimg.MountFlagsAllowRead | qfsimg.MountFlagsAllowWrite
	return withImage(ctx, flags, func(driver *qfs.Driver) error {
		dirent, err := driver.WriteFile(name, contents)
		if err != nil {
			return failWith(err)
		}
		fmt.Fprintf(
			ctx.App.Writer,
			"Wrote %q: %d bytes in %d blocks starting at block %d.\n",
			dirent.Name(),
			dirent.FileSize,
			dirent.Stat.NumBlocks,
			dirent.StartingBlock)
		return nil
	})
}

func removeFile(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}
	name := ctx.Args().Get(1)

	return withImage(ctx, qfsimg.MountFlagsAllowAll, func(driver *qfs.Driver) error {
		freed, err := driver.DeleteFile(name)
		if err != nil {
			return failWith(err)
		}
		fmt.Fprintf(ctx.App.Writer, "Deleted %q, freed %d blocks.\n", name, freed)
		return nil
	})
}

func recoverFiles(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	signatures, err := carving.ParseSignatureList(ctx.String("type"))
	if err != nil {
		return failWith(err)
	}

	var raw []byte
	if ctx.Bool("whole-image") {
		raw, err = os.ReadFile(ctx.Args().First())
		if err != nil {
			return failWith(qfsimg.ErrIOFailed.Wrap(err))
		}
	} else {
		err = withImage(ctx, qfsimg.MountFlagsReadOnly, func(driver *qfs.Driver) error {
			raw, err = driver.RawDataRegion()
			return failWith(err)
		})
		if err != nil {
			return err
		}
	}

	spans, err := carving.Recover(raw, signatures, carving.DirectoryOutputs(ctx.String("out")))
	reportRecovered(ctx.App.Writer, spans)
	if err != nil {
		return failWith(err)
	}
	fmt.Fprintf(ctx.App.Writer, "Recovered %d file(s).\n", len(spans))
	return nil
}

// reportRecovered prints one line per recovered file. Files whose contents are
// identical to an earlier one are flagged.
func reportRecovered(out io.Writer, spans []carving.Span) {
	firstSeen := map[string]int{}
	for i, span := range spans {
		digest := span.HexDigest()
		line := fmt.Sprintf(
			"%s  offset %d  %d bytes  sha256 %s",
			carving.OutputFileName(i+1, span.Signature),
			span.Offset,
			len(span.Data),
			digest)

		if previous, seen := firstSeen[digest]; seen {
			line += fmt.Sprintf("  (same as file %d)", previous)
		} else {
			firstSeen[digest] = i + 1
		}
		fmt.Fprintln(out, line)
	}
}

func checkImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 1); err != nil {
		return err
	}

	return withImage(ctx, qfsimg.MountFlagsReadOnly, func(driver *qfs.Driver) error {
		report, err := driver.Check()
		if err != nil {
			return failWith(err)
		}

		problems := report.Problems()
		for _, problem := range problems {
			fmt.Fprintln(ctx.App.Writer, problem)
		}
		if len(problems) == 0 {
			fmt.Fprintln(ctx.App.Writer, "No problems found.")
			return nil
		}

		code := exitInvalidImage
		if len(report.BrokenChains) > 0 {
			code = exitCorruptChain
		}
		return cli.Exit(fmt.Sprintf("found %d problem(s)", len(problems)), code)
	})
}

func packImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}
	return convertFile(ctx, compression.CompressImage, "Packed")
}

func unpackImage(ctx *cli.Context) error {
	if err := requireArgs(ctx, 2); err != nil {
		return err
	}
	return convertFile(ctx, compression.DecompressImage, "Unpacked")
}

// convertFile runs `convert` with the first argument as input and the second as
// output.
func convertFile(
	ctx *cli.Context, convert func(io.Reader, io.Writer) (int64, error), verb string,
) error {
	inputPath := ctx.Args().Get(0)
	outputPath := ctx.Args().Get(1)

	input, err := os.Open(inputPath)
	if err != nil {
		return failWith(qfsimg.ErrIOFailed.Wrap(err))
	}
	defer input.Close()

	output, err := os.Create(outputPath)
	if err != nil {
		return failWith(qfsimg.ErrIOFailed.Wrap(err))
	}

	_, err = convert(input, output)
	closeErr := output.Close()
	if err != nil {
		return failWith(qfsimg.ErrIOFailed.Wrap(err))
	} else if closeErr != nil {
		return failWith(qfsimg.ErrIOFailed.Wrap(closeErr))
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return failWith(qfsimg.ErrIOFailed.Wrap(err))
	}
	fmt.Fprintf(ctx.App.Writer, "%s %s to %d bytes.\n", verb, inputPath, stat.Size())
	return nil
}
