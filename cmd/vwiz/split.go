package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"vwiz/internal/config"
	"vwiz/internal/dataset"
	"vwiz/internal/split"
)

func splitCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "split",
		Usage: "Split a CSV file into train, validate and test sets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "csv",
				Aliases:  []string{"C"},
				Usage:    "CSV file to split",
				Required: true,
			},
			&cli.Float64Flag{
				Name:     "train-ratio",
				Aliases:  []string{"T"},
				Usage:    "Share of rows for the train set, in (0, 1]",
				Required: true,
			},
			&cli.Float64Flag{
				Name:    "validate-ratio",
				Aliases: []string{"V"},
				Usage:   "Share of rows for the validate set; when omitted validate takes the rest and test is empty",
			},
			&cli.BoolFlag{
				Name:    "shuffle",
				Aliases: []string{"S"},
				Usage:   "Shuffle rows before splitting",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Seed for --shuffle; without it every run gives a different split",
			},
			&cli.BoolFlag{
				Name:    "include-header",
				Aliases: []string{"H"},
				Usage:   "Treat the first row as data instead of a header",
			},
			&cli.StringFlag{
				Name:    "save-dir",
				Aliases: []string{"D"},
				Usage:   "Directory for the output files (default: next to --csv)",
			},
			&cli.StringFlag{
				Name:    "postfix",
				Aliases: []string{"P"},
				Usage:   "Text appended to each output file name",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			splitCfg := split.Config{
				Train:     cmd.Float64("train-ratio"),
				Shuffle:   cmd.Bool("shuffle"),
				HasHeader: !cmd.Bool("include-header"),
			}
			if cmd.IsSet("validate-ratio") {
				v := cmd.Float64("validate-ratio")
				splitCfg.Validate = &v
			}
			if cmd.IsSet("seed") {
				s := cmd.Uint64("seed")
				splitCfg.Seed = &s
			}
			if err := splitCfg.Check(); err != nil {
				return cli.Exit(err.Error(), 2)
			}

			log, _, err := newRunLogger(cfg, "split", false)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer log.Sync()

			if splitCfg.Shuffle && splitCfg.Seed == nil {
				log.Warn("shuffling without --seed, the split cannot be reproduced")
			}

			csvPath := cmd.String("csv")
			table, err := dataset.ReadTable(csvPath, splitCfg.HasHeader)
			if err != nil {
				return err
			}

			res, err := split.Split(table, splitCfg)
			if err != nil {
				return err
			}

			dir := cmd.String("save-dir")
			if dir == "" {
				dir = filepath.Dir(csvPath)
			}
			base := strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath))

			paths, err := split.Write(dir, base, cmd.String("postfix"), res)
			if err != nil {
				return err
			}

			log.Info("split written",
				zap.Int("rows", len(res.Train)+len(res.Validate)+len(res.Test)),
				zap.Int("train", len(res.Train)),
				zap.Int("validate", len(res.Validate)),
				zap.Int("test", len(res.Test)),
				zap.Float64("validate_ratio", splitCfg.ValidateRatio()),
				zap.Float64("test_ratio", splitCfg.TestRatio()),
				zap.Strings("files", paths),
			)
			fmt.Fprintf(cmd.Root().Writer, "split: train=%d validate=%d test=%d\n",
				len(res.Train), len(res.Validate), len(res.Test))
			return nil
		},
	}
}
