package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/logger"
)

var (
	blockConfigPath string
	seed            int64
	weightDType     string
	adaLNZero       bool
	logLevel        string
	logFormat       string
	debug           bool
)

// blockFlags holds command-line overrides of the block configuration.
type blockFlags struct {
	nEmbd     int64
	headSize  int64
	mlpMult   float64
	numBlocks int64
	moe       bool
	experts   int64
	capacity  float64
	normKind  string
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func commonBlockFlags(bf *blockFlags) []cli.Flag {
	def := dit.DefaultBlockConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a block config YAML file",
			Destination: &blockConfigPath,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for weights and random inputs",
			Value:       1,
			Destination: &seed,
		},
		&cli.StringFlag{
			Name:        "weight-dtype",
			Usage:       "round weights to this precision after init (f32, f16, bf16)",
			Value:       "f32",
			Destination: &weightDType,
		},
		&cli.BoolFlag{
			Name:        "adaln-zero",
			Usage:       "leave the modulation projection at zero after init",
			Destination: &adaLNZero,
		},
		&cli.Int64Flag{Name: "n-embd", Usage: "channel width", Value: int64(def.NEmbd), Destination: &bf.nEmbd},
		&cli.Int64Flag{Name: "head-size", Usage: "channels per attention head", Value: int64(def.HeadSize), Destination: &bf.headSize},
		&cli.FloatFlag{Name: "mlp-mult", Usage: "feed-forward hidden multiplier", Value: def.MLPHiddenMult, Destination: &bf.mlpMult},
		&cli.Int64Flag{Name: "blocks", Usage: "number of blocks in the stack", Value: int64(def.NumBlocks), Destination: &bf.numBlocks},
		&cli.BoolFlag{Name: "moe", Usage: "use the expert-choice feed-forward", Destination: &bf.moe},
		&cli.Int64Flag{Name: "experts", Usage: "number of experts", Value: int64(def.NumExperts), Destination: &bf.experts},
		&cli.FloatFlag{Name: "capacity", Usage: "expert capacity factor", Value: def.ExpertCapacity, Destination: &bf.capacity},
		&cli.StringFlag{Name: "norm", Usage: "normalization kind", Value: def.NormKind, Destination: &bf.normKind},
	}
}

// apply copies every explicitly set flag into cfg.
func (bf *blockFlags) apply(cfg *dit.BlockConfig, isSet func(string) bool) {
	if isSet("n-embd") {
		cfg.NEmbd = int(bf.nEmbd)
		cfg.PooledCaptionNEmbd = int(bf.nEmbd)
	}
	if isSet("head-size") {
		cfg.HeadSize = int(bf.headSize)
	}
	if isSet("mlp-mult") {
		cfg.MLPHiddenMult = bf.mlpMult
	}
	if isSet("blocks") {
		cfg.NumBlocks = int(bf.numBlocks)
	}
	if isSet("moe") {
		cfg.UseMoE = bf.moe
	}
	if isSet("experts") {
		cfg.NumExperts = int(bf.experts)
	}
	if isSet("capacity") {
		cfg.ExpertCapacity = bf.capacity
	}
	if isSet("norm") {
		cfg.NormKind = bf.normKind
	}
}

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	fileCfg := LoadConfig()
	applyLogConfig(cmd, fileCfg)
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.ForFormat(errWriter(cmd), logFormat, level)
	if err != nil {
		return ctx, fmt.Errorf("--log-format: %w", err)
	}
	return logger.WithContext(ctx, log), nil
}

func outWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func errWriter(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
