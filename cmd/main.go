package main

import (
	"errors"
	"log"
	"os"

	"github.com/qfsutil/qfsimg"
	"github.com/qfsutil/qfsimg/utilities/tracelog"
	"github.com/urfave/cli/v2"
)

// Exit codes
const (
	exitUsage        = 1
	exitIOError      = 2
	exitInvalidImage = 3
	exitNotFound     = 4
	exitNoSpace      = 5
	exitCorruptChain = 6
)

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "qfs",
		Usage: "Inspect, modify, and recover files from QFS disk images",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "trace what is read from and written to the image",
				EnvVars: []string{tracelog.EnvironmentVariable},
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("debug") {
				tracelog.SetEnabled(true)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Show the geometry and free space of an image",
				ArgsUsage: "IMAGE",
				Action:    showInfo,
			},
			{
				Name:      "ls",
				Usage:     "List the files on an image",
				ArgsUsage: "IMAGE",
				Action:    listFiles,
			},
			{
				Name:      "read",
				Usage:     "Copy a file out of an image; use - as OUTPUT for stdout",
				ArgsUsage: "IMAGE NAME OUTPUT",
				Action:    readFile,
			},
			{
				Name:      "write",
				Usage:     "Copy a local file into an image",
				ArgsUsage: "IMAGE LOCAL_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "name to store the file under (default: base name of LOCAL_FILE)",
					},
				},
				Action: writeFile,
			},
			{
				Name:      "rm",
				Usage:     "Delete a file from an image",
				ArgsUsage: "IMAGE NAME",
				Action:    removeFile,
			},
			{
				Name:      "recover",
				Usage:     "Carve files out of an image by signature, deleted or not",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "directory to write recovered files to",
						Value: ".",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "comma-separated file types to look for: jpeg, png, pdf",
						Value: "jpeg",
					},
					&cli.BoolFlag{
						Name:  "whole-image",
						Usage: "scan every byte of the file instead of only the data region; works on images with a damaged header",
					},
				},
				Action: recoverFiles,
			},
			{
				Name:      "check",
				Usage:     "Report inconsistencies left by interrupted writes; never modifies the image",
				ArgsUsage: "IMAGE",
				Action:    checkImage,
			},
			{
				Name:      "pack",
				Usage:     "Compress an image with RLE8 and gzip",
				ArgsUsage: "IMAGE OUTPUT",
				Action:    packImage,
			},
			{
				Name:      "unpack",
				Usage:     "Expand an image compressed by the pack command",
				ArgsUsage: "INPUT IMAGE",
				Action:    unpackImage,
			},
		},
	}
}

// exitCodeFor maps an error from the driver to the process exit code.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, qfsimg.ErrInvalidImage):
		return exitInvalidImage
	case errors.Is(err, qfsimg.ErrNotFound):
		return exitNotFound
	case errors.Is(err, qfsimg.ErrInsufficientBlocks),
		errors.Is(err, qfsimg.ErrNoFreeDirectoryEntry),
		errors.Is(err, qfsimg.ErrFileTooLarge):
		return exitNoSpace
	case errors.Is(err, qfsimg.ErrCorruptChain):
		return exitCorruptChain
	case errors.Is(err, qfsimg.ErrInvalidArgument):
		return exitUsage
	default:
		return exitIOError
	}
}

// failWith converts a driver error into an error that makes the CLI exit with
// the matching code.
func failWith(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), exitCodeFor(err))
}

func requireArgs(ctx *cli.Context, count int) error {
	if ctx.NArg() != count {
		return cli.Exit(
			"usage: "+ctx.App.Name+" "+ctx.Command.Name+" "+ctx.Command.ArgsUsage,
			exitUsage)
	}
	return nil
}
