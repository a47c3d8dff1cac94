package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/nhrun/internal/version"

	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			w := cmd.Root().Writer
			fmt.Fprintf(w, "nhrun %s (%s)\n", info.Version, info.GoVersion)
			if info.Commit != "" {
				fmt.Fprintf(w, "  commit %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Fprintf(w, "  built  %s\n", info.BuildTime)
			}
			return nil
		},
	}
}
