package main

import "github.com/urfave/cli/v3"

func configFileFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:    "config-file",
		Aliases: []string{"c"},
		Usage:   usage,
	}
}

func runDirFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:    "run-dir",
		Aliases: []string{"r"},
		Usage:   usage,
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:  "gpu",
			Usage: "GPU id to use; overrides the config device. A value < 0 forces the CPU",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "device to use (cpu, cuda, cuda:<index>, mps); highest priority",
		},
	}
}

func evaluationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:  "epoch",
			Usage: "epoch whose weights are evaluated (default: last epoch)",
		},
		&cli.StringFlag{
			Name:  "period",
			Usage: "period to evaluate (train, validation, test)",
			Value: "test",
		},
	}
}

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "engine",
			Usage: "how runs are handed off (exec, http)",
			Value: engineExec,
		},
		&cli.StringFlag{
			Name:    "engine-url",
			Usage:   "base url of the engine service for --engine=http",
			Sources: cli.EnvVars(envEngineURL),
		},
		&cli.BoolFlag{
			Name:  "no-lock",
			Usage: "do not take advisory locks on run directories",
		},
	}
}

func dispatchFlags() []cli.Flag {
	return append(engineFlags(),
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "print the composed run configuration instead of starting the run",
		},
	)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (debug, info, warn, error)",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log format (pretty, json, text)",
			Value: "pretty",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging (shorthand for --log-level=debug)",
		},
	}
}
