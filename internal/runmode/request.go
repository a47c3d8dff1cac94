package runmode

import (
	"fmt"
	"strings"

	"github.com/samcharles93/nhrun/internal/device"
)

type Mode string

const (
	Train            Mode = "train"
	ContinueTraining Mode = "continue_training"
	Finetune         Mode = "finetune"
	Evaluate         Mode = "evaluate"
)

// Modes lists every run mode in CLI order.
var Modes = []Mode{Train, ContinueTraining, Finetune, Evaluate}

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", unknownMode(m)
}

// Period selects the data split an evaluation runs on.
type Period string

const (
	PeriodTrain      Period = "train"
	PeriodValidation Period = "validation"
	PeriodTest       Period = "test"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.TrimSpace(s)); p {
	case "":
		return PeriodTest, nil
	case PeriodTrain, PeriodValidation, PeriodTest:
		return p, nil
	default:
		return "", invalidArguments("unknown period %q (expected train, validation or test)", s)
	}
}

// Request carries the arguments of one invocation.
type Request struct {
	Mode Mode `json:"mode"`
	// ConfigFile is the run configuration for train and finetune, and an
	// optional override for continue_training.
	ConfigFile string `json:"config_file,omitempty"`
	RunDir     string `json:"run_dir,omitempty"`
	// Epoch selects the checkpoint to evaluate; nil means the most recent.
	Epoch  *int   `json:"epoch,omitempty"`
	Period Period `json:"period,omitempty"`
	// GPU is the --gpu index; a negative value forces the CPU.
	GPU    *int   `json:"gpu,omitempty"`
	Device string `json:"device,omitempty"`
}

// Validate checks the per-mode required arguments. It touches nothing on
// disk.
func (r Request) Validate() error {
	switch r.Mode {
	case Train, Finetune:
		if strings.TrimSpace(r.ConfigFile) == "" {
			return invalidArguments("%s: missing path to config file", r.Mode)
		}
	case ContinueTraining, Evaluate:
		if strings.TrimSpace(r.RunDir) == "" {
			return invalidArguments("%s: missing path to run directory", r.Mode)
		}
	default:
		return unknownMode(r.Mode)
	}

	if _, err := ParsePeriod(string(r.Period)); err != nil {
		return err
	}
	if r.Epoch != nil && *r.Epoch < 1 {
		return invalidArguments("epoch must be positive, got %d", *r.Epoch)
	}
	if r.Device != "" {
		if err := device.ValidChoice(r.Device); err != nil {
			return invalidArguments("%v", err)
		}
	}
	return nil
}

func (r Request) withDefaults() Request {
	if r.Period == "" {
		r.Period = PeriodTest
	}
	return r
}

func (r Request) String() string {
	var b strings.Builder
	b.WriteString(string(r.Mode))
	if r.ConfigFile != "" {
		fmt.Fprintf(&b, " config=%s", r.ConfigFile)
	}
	if r.RunDir != "" {
		fmt.Fprintf(&b, " run_dir=%s", r.RunDir)
	}
	return b.String()
}
