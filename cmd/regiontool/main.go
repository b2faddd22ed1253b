// regiontool inspects, converts, and salvages region files. Linear files
// are handled by the root package; classic sector-based files (.mca) by the
// anvil package. Conversion direction is inferred from file extensions.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/dargueta/linear"
	"github.com/dargueta/linear/anvil"
	"github.com/dargueta/linear/compression"
)

func main() {
	app := cli.App{
		Usage: "Manage linear and sector-based region files",
		Commands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Show the per-slot contents of a region file",
				Action:    inspectRegion,
				ArgsUsage: "REGION_FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "csv",
						Usage: "emit one CSV row per present slot",
					},
				},
			},
			{
				Name:      "convert",
				Usage:     "Convert between .linear and .mca region files",
				Action:    convertRegion,
				ArgsUsage: "INPUT_FILE  OUTPUT_FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "level",
						Usage: "zstd compression level for linear output",
						Value: compression.DefaultLevel,
					},
				},
			},
			{
				Name:      "salvage",
				Usage:     "Recover what's readable from a damaged linear file",
				Action:    salvageRegion,
				ArgsUsage: "INPUT_FILE  OUTPUT_FILE",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "level",
						Usage: "zstd compression level for the rewritten file",
						Value: compression.DefaultLevel,
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

// slotRow is one present slot in `inspect` output.
type slotRow struct {
	X         int   `csv:"x"`
	Z         int   `csv:"z"`
	Length    int   `csv:"length"`
	Timestamp int32 `csv:"timestamp"`
}

func openAnyRegion(path string) (*linear.Region, error) {
	if strings.HasSuffix(path, ".mca") {
		return anvil.Open(path)
	}
	return linear.Open(path)
}

func inspectRegion(context *cli.Context) error {
	if context.NArg() != 1 {
		return fmt.Errorf("expected exactly one region file, got %d arguments", context.NArg())
	}

	region, err := openAnyRegion(context.Args().Get(0))
	if err != nil {
		return err
	}

	var rows []slotRow
	region.Each(func(x, z int, chunk *linear.Chunk) bool {
		if chunk != nil {
			rows = append(rows, slotRow{
				X: x, Z: z, Length: len(chunk.Data), Timestamp: chunk.Timestamp,
			})
		}
		return true
	})

	if context.Bool("csv") {
		return gocsv.Marshal(&rows, os.Stdout)
	}

	// Presence map, one glyph per slot.
	region.Each(func(x, z int, chunk *linear.Chunk) bool {
		if chunk != nil {
			fmt.Print("#")
		} else {
			fmt.Print(".")
		}
		if x == linear.GridSize-1 {
			fmt.Println()
		}
		return true
	})
	fmt.Printf(
		"%d of %d chunks present, newest timestamp %d\n",
		region.ChunkCount(), linear.SlotCount, region.NewestTimestamp())
	return nil
}

func convertRegion(context *cli.Context) error {
	if context.NArg() != 2 {
		return fmt.Errorf("expected input and output paths, got %d arguments", context.NArg())
	}
	inputPath := context.Args().Get(0)
	outputPath := context.Args().Get(1)

	region, err := openAnyRegion(inputPath)
	if err != nil {
		return err
	}

	if strings.HasSuffix(outputPath, ".mca") {
		return anvil.SaveFile(outputPath, region)
	}
	return linear.SaveFile(outputPath, region, context.Int("level"))
}

func salvageRegion(context *cli.Context) error {
	if context.NArg() != 2 {
		return fmt.Errorf("expected input and output paths, got %d arguments", context.NArg())
	}

	data, err := os.ReadFile(context.Args().Get(0))
	if err != nil {
		return err
	}
	region, report, err := linear.LoadLenient(data)
	if err != nil {
		return err
	}

	if report.Clean() {
		fmt.Println("file is fully intact, nothing to salvage")
	} else {
		if report.ChecksumFailed {
			fmt.Println("warning: payload checksum mismatch; undamaged slots can't be told apart from damaged ones")
		}
		for _, dropped := range report.Dropped {
			fmt.Printf("dropped slot (%d, %d): %s\n", dropped.X, dropped.Z, dropped.Reason)
		}
	}

	err = linear.SaveFile(context.Args().Get(1), region, context.Int("level"))
	if err != nil {
		return err
	}
	fmt.Printf("recovered %d chunks\n", region.ChunkCount())
	return nil
}
