package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dit/internal/dit"
	"github.com/samcharles93/dit/internal/nn"
)

type inspectReport struct {
	Config        dit.BlockConfig   `json:"config"`
	WeightInitStd []float64         `json:"weight_init_std"`
	QKVHidden     int               `json:"qkv_hidden"`
	CrossHidden   int               `json:"cx_hidden"`
	MLPHidden     int               `json:"mlp_hidden"`
	ParamCount    int               `json:"param_count"`
	Params        []dit.TensorStats `json:"params"`
}

func inspectCmd() *cli.Command {
	var (
		bf     blockFlags
		filter string
		asJSON bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the parameters of an initialised block stack with their statistics",
		Flags: append(commonBlockFlags(&bf),
			&cli.StringFlag{Name: "filter", Usage: "only show parameters whose name contains this", Destination: &filter},
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fileCfg := LoadConfig()
			applyModelConfig(cmd, fileCfg)
			cfg, err := resolveBlockConfig(fileCfg, blockConfigPath, &bf, cmd.IsSet)
			if err != nil {
				return err
			}
			model, err := buildModel(ctx, cfg, seed, weightDType, adaLNZero)
			if err != nil {
				return err
			}

			params := nn.NewParams()
			model.Stack.Params("blocks", params)
			model.Prompt.Params("prompt", params)

			report := inspectReport{
				Config:      cfg,
				QKVHidden:   cfg.QKVHidden(),
				CrossHidden: cfg.CrossHidden(),
				MLPHidden:   model.Stack.Blocks[0].MLP.HiddenDim(),
				ParamCount:  params.Count(),
			}
			for _, b := range model.Stack.Blocks {
				report.WeightInitStd = append(report.WeightInitStd, b.WeightInitStd())
			}
			for _, s := range dit.ParamStats(params) {
				if filter == "" || strings.Contains(s.Name, filter) {
					report.Params = append(report.Params, s)
				}
			}

			out := outWriter(cmd)
			if asJSON {
				return printJSON(out, report)
			}
			printTable(out, statsHeader, statsRows(report.Params))
			_, err = fmt.Fprintf(out, "%d parameters, qkv hidden %d, cross hidden %d, mlp hidden %d\n",
				report.ParamCount, report.QKVHidden, report.CrossHidden, report.MLPHidden)
			return err
		},
	}
}
