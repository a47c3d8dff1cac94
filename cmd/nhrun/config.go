package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	envSettings  = "NHRUN_SETTINGS"
	envEngineURL = "NHRUN_ENGINE_URL"

	engineExec = "exec"
	engineHTTP = "http"
)

// Settings is the nhrun settings file (~/.config/nhrun/config.yaml). It
// configures the tool itself, not individual runs. Values apply only when
// the corresponding flag was not set on the command line.
type Settings struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Engine hand-off
	Engine          string   `yaml:"engine"`
	TrainCommand    []string `yaml:"train_command"`
	EvaluateCommand []string `yaml:"evaluate_command"`
	EngineURL       string   `yaml:"engine_url"`
	KeepStaged      bool     `yaml:"keep_staged"`
	LockRuns        *bool    `yaml:"lock_runs"`

	// EngineTimeout bounds HTTP engine calls; unset waits indefinitely.
	EngineTimeout time.Duration `yaml:"engine_timeout"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func settingsPath() string {
	if p := os.Getenv(envSettings); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nhrun", "config.yaml")
}

// LoadSettings reads the settings file. Returns zero Settings if the file
// doesn't exist or cannot be parsed.
func LoadSettings() Settings {
	path := settingsPath()
	if path == "" {
		return Settings{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}
	}
	return s
}

// engineOptions are the resolved engine flags of one invocation.
type engineOptions struct {
	kind            string
	url             string
	timeout         time.Duration
	lock            bool
	keepStaged      bool
	trainCommand    []string
	evaluateCommand []string
}

func applyEngineSettings(c *cli.Command, s Settings) engineOptions {
	opts := engineOptions{
		kind:            c.String("engine"),
		url:             c.String("engine-url"),
		timeout:         s.EngineTimeout,
		lock:            !c.Bool("no-lock"),
		keepStaged:      s.KeepStaged,
		trainCommand:    s.TrainCommand,
		evaluateCommand: s.EvaluateCommand,
	}
	if s.Engine != "" && !c.IsSet("engine") {
		opts.kind = s.Engine
	}
	if s.EngineURL != "" && !c.IsSet("engine-url") {
		opts.url = s.EngineURL
	}
	if s.LockRuns != nil && !c.IsSet("no-lock") {
		opts.lock = *s.LockRuns
	}
	return opts
}

func applyLoggingSettings(c *cli.Command, s Settings) (level, format string) {
	level = c.String("log-level")
	format = c.String("log-format")
	if s.LogLevel != "" && !c.IsSet("log-level") {
		level = s.LogLevel
	}
	if s.LogFormat != "" && !c.IsSet("log-format") {
		format = s.LogFormat
	}
	if c.Bool("debug") {
		level = "debug"
	}
	return level, format
}
