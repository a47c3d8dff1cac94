package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Keys read or written by the run dispatcher. Every other key in a run
// configuration is carried through untouched.
const (
	KeyDevice             = "device"
	KeyRunDir             = "run_dir"
	KeyExperimentName     = "experiment_name"
	KeyIsContinueTraining = "is_continue_training"
	KeyIsFinetuning       = "is_finetuning"
	KeyBaseRunDir         = "base_run_dir"
	KeyFinetuneModules    = "finetune_modules"
)

// FileName is the name of the configuration file inside a run directory.
const FileName = "config.yml"

var (
	ErrFieldType = errors.New("config: unexpected field type")
	ErrDecode    = errors.New("config: malformed yaml")
)

type fieldError struct {
	key  string
	want string
	got  any
}

func (e fieldError) Error() string {
	return fmt.Sprintf("config: field %q: expected %s, got %T", e.key, e.want, e.got)
}

func (e fieldError) Unwrap() error {
	return ErrFieldType
}

// RunConfig is the configuration of a single training or evaluation run.
// It is a value type: every transformation returns a new RunConfig and
// leaves the receiver as it was.
//
// Empty strings, false and a nil FinetuneModules mean the key is absent.
type RunConfig struct {
	Device             string
	RunDir             string
	ExperimentName     string
	IsContinueTraining bool
	IsFinetuning       bool
	BaseRunDir         string
	FinetuneModules    []string

	extra map[string]any
}

// Parse decodes a YAML run configuration.
func Parse(data []byte) (RunConfig, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return RunConfig{}.Override(raw)
}

// Load reads and decodes the run configuration stored at path.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FileStore loads run configurations from the local filesystem.
type FileStore struct{}

func (FileStore) Load(path string) (RunConfig, error) {
	return Load(path)
}

func (FileStore) Overrides(path string) (map[string]any, error) {
	return ReadOverrides(path)
}

// Override returns a copy of c in which every key present in src replaces
// the corresponding value. Keys absent from src keep their current value.
// A nil value clears a known key.
func (c RunConfig) Override(src map[string]any) (RunConfig, error) {
	out := c.clone()
	for _, key := range slices.Sorted(maps.Keys(src)) {
		if err := out.set(key, src[key]); err != nil {
			return RunConfig{}, err
		}
	}
	return out, nil
}

// OverrideFile applies the YAML file at path as an override.
func (c RunConfig) OverrideFile(path string) (RunConfig, error) {
	raw, err := ReadOverrides(path)
	if err != nil {
		return RunConfig{}, err
	}
	return c.Override(raw)
}

// ReadOverrides decodes the YAML file at path into a raw key-value mapping,
// keeping explicit nulls so that they can clear keys when applied.
func ReadOverrides(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrDecode, err)
	}
	return raw, nil
}

func (c RunConfig) WithDevice(device string) RunConfig {
	out := c.clone()
	out.Device = device
	return out
}

func (c RunConfig) WithContinueTraining(v bool) RunConfig {
	out := c.clone()
	out.IsContinueTraining = v
	return out
}

func (c RunConfig) WithFinetuning(v bool) RunConfig {
	out := c.clone()
	out.IsFinetuning = v
	return out
}

// WithoutIdentity clears run_dir and experiment_name so that the engine
// allocates a fresh run directory and name.
func (c RunConfig) WithoutIdentity() RunConfig {
	out := c.clone()
	out.RunDir = ""
	out.ExperimentName = ""
	return out
}

// Get returns the value stored under key.
func (c RunConfig) Get(key string) (any, bool) {
	v, ok := c.Map()[key]
	return v, ok
}

// Keys returns every key present in the configuration, sorted.
func (c RunConfig) Keys() []string {
	return slices.Sorted(maps.Keys(c.Map()))
}

// Map returns the configuration as a plain mapping, known keys included.
func (c RunConfig) Map() map[string]any {
	out := make(map[string]any, len(c.extra)+7)
	maps.Copy(out, c.extra)
	putString(out, KeyDevice, c.Device)
	putString(out, KeyRunDir, c.RunDir)
	putString(out, KeyExperimentName, c.ExperimentName)
	putString(out, KeyBaseRunDir, c.BaseRunDir)
	if c.IsContinueTraining {
		out[KeyIsContinueTraining] = true
	}
	if c.IsFinetuning {
		out[KeyIsFinetuning] = true
	}
	if len(c.FinetuneModules) > 0 {
		out[KeyFinetuneModules] = slices.Clone(c.FinetuneModules)
	}
	return out
}

// Marshal encodes the configuration as YAML with sorted keys.
func (c RunConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c.Map())
}

// WriteFile stores the configuration as YAML at path.
func (c RunConfig) WriteFile(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c RunConfig) clone() RunConfig {
	out := c
	out.FinetuneModules = slices.Clone(c.FinetuneModules)
	out.extra = maps.Clone(c.extra)
	return out
}

func (c *RunConfig) set(key string, v any) error {
	var err error
	switch key {
	case KeyDevice:
		c.Device, err = stringField(key, v)
	case KeyRunDir:
		c.RunDir, err = stringField(key, v)
	case KeyExperimentName:
		c.ExperimentName, err = stringField(key, v)
	case KeyBaseRunDir:
		c.BaseRunDir, err = stringField(key, v)
	case KeyIsContinueTraining:
		c.IsContinueTraining, err = boolField(key, v)
	case KeyIsFinetuning:
		c.IsFinetuning, err = boolField(key, v)
	case KeyFinetuneModules:
		c.FinetuneModules, err = stringListField(key, v)
	default:
		if c.extra == nil {
			c.extra = make(map[string]any)
		}
		c.extra[key] = v
	}
	return err
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func stringField(key string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	default:
		return "", fieldError{key: key, want: "string", got: v}
	}
}

func boolField(key string, v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	default:
		return false, fieldError{key: key, want: "bool", got: v}
	}
}

// stringListField accepts a list of strings or a single string.
func stringListField(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []string:
		return slices.Clone(t), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fieldError{key: key, want: "list of strings", got: v}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fieldError{key: key, want: "list of strings", got: v}
	}
}
