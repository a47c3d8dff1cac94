package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/nhrun/internal/device"
	"github.com/urfave/cli/v3"
)

func platformCmd() *cli.Command {
	return &cli.Command{
		Name:  "platform",
		Usage: "Print detected accelerators and the device auto-selection would pick",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p := hostPlatform()
			w := cmd.Root().Writer
			fmt.Fprintf(w, "mps:  %t\n", p.HasMPS())
			fmt.Fprintf(w, "cuda: %t\n", p.HasCUDA())
			fmt.Fprintf(w, "auto: %s\n", device.Auto(p))
			return nil
		},
	}
}
