package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/logger"
)

type runReport struct {
	RunID   string            `json:"run_id"`
	Config  dit.BlockConfig   `json:"config"`
	DType   string            `json:"dtype"`
	Elapsed string            `json:"elapsed"`
	Blocks  []dit.TensorStats `json:"blocks"`
	Prompt  dit.TensorStats   `json:"prompt"`
}

func runCmd() *cli.Command {
	var (
		bf        blockFlags
		batch     int64
		tokens    int64
		ctxTokens int64
		asJSON    bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run seeded random inputs through a block stack and report activation statistics",
		Flags: append(commonBlockFlags(&bf),
			&cli.Int64Flag{Name: "batch", Aliases: []string{"b"}, Usage: "batch size", Value: 2, Destination: &batch},
			&cli.Int64Flag{Name: "tokens", Aliases: []string{"t"}, Usage: "tokens per sequence", Value: 16, Destination: &tokens},
			&cli.Int64Flag{Name: "ctx-tokens", Usage: "caption tokens per sequence", Value: 8, Destination: &ctxTokens},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fileCfg := LoadConfig()
			applyModelConfig(cmd, fileCfg)
			cfg, err := resolveBlockConfig(fileCfg, blockConfigPath, &bf, cmd.IsSet)
			if err != nil {
				return err
			}
			if batch <= 0 || tokens <= 0 || ctxTokens <= 0 {
				return fmt.Errorf("--batch, --tokens and --ctx-tokens must be positive")
			}

			runID := uuid.NewString()
			log := logger.FromContext(ctx).With("run", runID)
			ctx = logger.WithContext(ctx, log)

			model, err := buildModel(ctx, cfg, seed, weightDType, adaLNZero)
			if err != nil {
				return err
			}
			x, c, t := randomInputs(cfg, seed, int(batch), int(tokens), int(ctxTokens))

			report := runReport{RunID: runID, Config: cfg, DType: model.DType.String()}
			start := time.Now()
			h := x
			for i, b := range model.Stack.Blocks {
				if h, err = b.Forward(h, c, t); err != nil {
					return fmt.Errorf("block %d: %w", i, err)
				}
				report.Blocks = append(report.Blocks, dit.Summarize(fmt.Sprintf("block.%d", i), h))
			}
			p, err := model.Prompt.Forward(c)
			if err != nil {
				return fmt.Errorf("prompt block: %w", err)
			}
			report.Prompt = dit.Summarize("prompt", p)
			elapsed := time.Since(start)
			report.Elapsed = elapsed.String()

			log.Info("forward complete",
				logger.Shape("x", x.Shape),
				"blocks", len(model.Stack.Blocks),
				"elapsed", elapsed,
			)

			out := outWriter(cmd)
			if asJSON {
				return printJSON(out, report)
			}
			rows := statsRows(append([]dit.TensorStats{dit.Summarize("input", x)}, report.Blocks...))
			rows = append(rows, statsRows([]dit.TensorStats{report.Prompt})...)
			printTable(out, statsHeader, rows)
			return nil
		},
	}
}
