package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/dit/internal/tensor"
	"github.com/samcharles93/dit/internal/version"
)

func versionCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			out := outWriter(cmd)
			if asJSON {
				return printJSON(out, info)
			}
			fmt.Fprintf(out, "version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Fprintf(out, "commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Fprintf(out, "build time: %s\n", info.BuildTime)
			}
			fmt.Fprintf(out, "go:         %s\n", info.GoVersion)
			f := tensor.Features()
			fmt.Fprintf(out, "cpu:        avx2=%t fma=%t neon=%t\n", f.HasAVX2, f.HasFMA, f.HasNEON)
			return nil
		},
	}
}
