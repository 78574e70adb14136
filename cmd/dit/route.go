package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/logger"
)

func routeCmd() *cli.Command {
	var (
		bf     blockFlags
		block  int64
		batch  int64
		tokens int64
		asJSON bool
	)

	return &cli.Command{
		Name:  "route",
		Usage: "Show expert-choice routing diagnostics for one MoE block",
		Flags: append(commonBlockFlags(&bf),
			&cli.Int64Flag{Name: "block", Usage: "block index to route through", Destination: &block},
			&cli.Int64Flag{Name: "batch", Aliases: []string{"b"}, Usage: "batch size", Value: 1, Destination: &batch},
			&cli.Int64Flag{Name: "tokens", Aliases: []string{"t"}, Usage: "tokens per sequence", Value: 32, Destination: &tokens},
			&cli.BoolFlag{Name: "json", Usage: "print the statistics as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fileCfg := LoadConfig()
			applyModelConfig(cmd, fileCfg)
			cfg, err := resolveBlockConfig(fileCfg, blockConfigPath, &bf, cmd.IsSet)
			if err != nil {
				return err
			}
			if cmd.IsSet("moe") && !cfg.UseMoE {
				return fmt.Errorf("routing needs an MoE block: %w", dit.ErrInvalidConfig)
			}
			cfg.UseMoE = true
			if err := cfg.Validate(); err != nil {
				return err
			}
			if block < 0 || int(block) >= cfg.NumBlocks {
				return fmt.Errorf("--block %d outside [0, %d)", block, cfg.NumBlocks)
			}
			if batch <= 0 || tokens <= 0 {
				return fmt.Errorf("--batch and --tokens must be positive")
			}

			model, err := buildModel(ctx, cfg, seed, weightDType, adaLNZero)
			if err != nil {
				return err
			}
			b := model.Stack.Blocks[block]
			moe := b.MLP.(*dit.FeedForwardECMoe)

			// Route what the feed-forward actually sees: the third norm of x.
			x, _, _ := randomInputs(cfg, seed, int(batch), int(tokens), 1)
			h, err := b.Ln3.Forward(x)
			if err != nil {
				return err
			}
			r, err := moe.Route(h)
			if err != nil {
				return err
			}
			stats := r.Stats()
			logger.FromContext(ctx).Info("routed",
				"block", block,
				"capacity", stats.Capacity,
				"unrouted", stats.Unrouted,
			)

			out := outWriter(cmd)
			if asJSON {
				return printJSON(out, stats)
			}
			rows := make([][]string, 0, len(stats.ExpertSelections))
			for e, n := range stats.ExpertSelections {
				rows = append(rows, []string{strconv.Itoa(e), strconv.Itoa(n), formatFloat(stats.ExpertMeanWeight[e])})
			}
			printTable(out, []string{"expert", "selected", "mean weight"}, rows)

			cov := make([][]string, 0, len(stats.Coverage))
			for k, n := range stats.Coverage {
				cov = append(cov, []string{strconv.Itoa(k), strconv.Itoa(n)})
			}
			printTable(out, []string{"experts per token", "tokens"}, cov)
			_, err = fmt.Fprintf(out, "capacity %d of %d tokens, %d unrouted, max multiplicity %d\n",
				stats.Capacity, int(tokens), stats.Unrouted, stats.MaxMultiplicity)
			return err
		},
	}
}
