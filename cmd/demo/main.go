// cmd/demo/main.go
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/Corphon/DramaForge/internal/grid"
	"github.com/Corphon/DramaForge/internal/media"
	"github.com/Corphon/DramaForge/internal/utils"
)

const (
	countFlag = "count"
	maxFlag   = "max"
	outFlag   = "out"
	totalFlag = "total"
)

func main() {
	app := cli.NewApp()
	app.Name = "demo"
	app.Usage = "grid layout and reference image tools"
	app.Commands = []cli.Command{
		makeLayoutCMD(),
		makeSplitCMD(),
		makeCompressCMD(),
		makeNormalizeCMD(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func makeLayoutCMD() cli.Command {
	return cli.Command{
		Name:      "layout",
		Usage:     "Prints grid layout for N shots",
		ArgsUsage: "N",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: demo layout N")
			}
			n, err := strconv.Atoi(c.Args().First())
			if err != nil {
				return errors.Wrapf(err, "invalid shot count %q", c.Args().First())
			}
			return printJSON(grid.CalculateLayout(n))
		},
	}
}

func makeSplitCMD() cli.Command {
	return cli.Command{
		Name:      "split",
		Usage:     "Splits a grid image into cells",
		ArgsUsage: "in.png outdir",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  countFlag,
				Usage: "number of shots in the grid",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 || c.Int(countFlag) <= 0 {
				return errors.New("usage: demo split --count N in.png outdir")
			}
			buf, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return errors.Wrap(err, "read grid image")
			}
			cells, err := grid.Split(buf, c.Int(countFlag))
			if err != nil {
				return err
			}

			outDir := c.Args().Get(1)
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return errors.Wrap(err, "create output dir")
			}
			for i, cell := range cells {
				name := filepath.Join(outDir, fmt.Sprintf("cell_%02d.png", i+1))
				if err := os.WriteFile(name, cell, 0644); err != nil {
					return errors.Wrapf(err, "write %s", name)
				}
				fmt.Printf("%s\t%d bytes\n", name, len(cell))
			}
			return nil
		},
	}
}

func makeCompressCMD() cli.Command {
	return cli.Command{
		Name:      "compress",
		Usage:     "Compresses an image to at most --max bytes",
		ArgsUsage: "in out.jpg",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  maxFlag,
				Usage: "byte limit",
				Value: media.DefaultMaxBytes,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 || c.Int(maxFlag) <= 0 {
				return errors.New("usage: demo compress --max BYTES in out.jpg")
			}
			buf, err := os.ReadFile(c.Args().Get(0))
			if err != nil {
				return errors.Wrap(err, "read image")
			}
			out, err := media.CompressToLimit(buf, c.Int(maxFlag))
			if err != nil {
				return err
			}
			if err := os.WriteFile(c.Args().Get(1), out, 0644); err != nil {
				return errors.Wrap(err, "write image")
			}

			fmt.Printf("%d -> %d bytes", len(buf), len(out))
			if len(out) > c.Int(maxFlag) {
				fmt.Print(" (limit not reached)")
			}
			fmt.Println()
			return nil
		},
	}
}

func makeNormalizeCMD() cli.Command {
	return cli.Command{
		Name:      "normalize",
		Usage:     "Normalizes reference images to at most 10 within the byte budget",
		ArgsUsage: "img...",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  outFlag,
				Usage: "output directory",
			},
			cli.IntFlag{
				Name:  maxFlag,
				Usage: "per image byte limit",
				Value: media.DefaultMaxBytes,
			},
			cli.IntFlag{
				Name:  totalFlag,
				Usage: "total byte limit",
				Value: media.DefaultTotalMaxBytes,
			},
		},
		Action: func(c *cli.Context) error {
			outDir := c.String(outFlag)
			if outDir == "" || c.NArg() == 0 {
				return errors.New("usage: demo normalize --out dir img...")
			}

			refs := make([][]byte, 0, c.NArg())
			for _, name := range c.Args() {
				buf, err := os.ReadFile(name)
				if err != nil {
					return errors.Wrapf(err, "read %s", name)
				}
				refs = append(refs, buf)
			}

			limits := media.DefaultLimits()
			limits.PerImage = c.Int(maxFlag)
			limits.Total = c.Int(totalFlag)
			out, err := media.NormalizeBatch(context.Background(), refs, limits)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return errors.Wrap(err, "create output dir")
			}
			for i, buf := range out {
				name := filepath.Join(outDir, fmt.Sprintf("ref_%02d%s", i+1, extensionOf(buf)))
				if err := os.WriteFile(name, buf, 0644); err != nil {
					return errors.Wrapf(err, "write %s", name)
				}
				fmt.Printf("%s\t%d bytes\n", name, len(buf))
			}
			utils.GetLogger().Debug("normalize finished", map[string]interface{}{
				"input":  len(refs),
				"output": len(out),
				"total":  media.TotalSize(out),
			})
			fmt.Printf("%d images -> %d, total %d bytes\n", len(refs), len(out), media.TotalSize(out))
			return nil
		},
	}
}

// extensionOf 按文件头推断扩展名
func extensionOf(buf []byte) string {
	head := base64.StdEncoding.EncodeToString(buf[:min(len(buf), 12)])
	switch media.MimeFromBase64(head) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
