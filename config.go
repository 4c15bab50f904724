package devsim

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default timing parameters.
const (
	DefaultCycleInterval = 250 * time.Millisecond
	DefaultCyclicRate    = 200 * time.Millisecond
)

// ConfigKey is the viper key under which the simulator settings are stored.
const ConfigKey = "simulator"

// InputConfig holds the settings of one input channel.
type InputConfig struct {
	Source    SourceSelect
	Trigger   TriggerMode
	Waveform  WaveformKind
	Level     float64
	Offset    float64
	Rate      time.Duration
	Transform string // name of a built-in or registered transform; "" for none
}

// OutputConfig holds the settings of one output channel.
type OutputConfig struct {
	Source MuxSource
	Scale  float64
	Noise  float64
}

// FileConfig holds the binding of one file source. An empty Path leaves it unbound.
type FileConfig struct {
	Path    string
	Recycle bool
}

// Config holds every setting of a Simulator. It is what gets stored in the
// config file, so that a restarted server resumes where it left off.
type Config struct {
	CycleInterval time.Duration
	Debug         bool
	NoiseSeed     uint64 // 0 means seed from the clock
	Inputs        []InputConfig
	Outputs       []OutputConfig
	Files         []FileConfig
}

// DefaultConfig returns the power-on settings: external sources, free running
// triggers, no waveforms, output channel i fed by input channel i at unit
// scale without noise, and no files bound.
func DefaultConfig() Config {
	cfg := Config{
		CycleInterval: DefaultCycleInterval,
		Inputs:        make([]InputConfig, NumInputs),
		Outputs:       make([]OutputConfig, NumOutputs),
		Files:         make([]FileConfig, NumFiles),
	}
	for i := range cfg.Inputs {
		cfg.Inputs[i].Rate = DefaultCyclicRate
	}
	for i := range cfg.Outputs {
		cfg.Outputs[i] = OutputConfig{Source: FromInput(InputChannel(i)), Scale: 1.0}
	}
	return cfg
}

// configDecodeHook lets config files name enumerated values ("CYCSINE",
// "SRCFILE2") and durations ("250ms").
var configDecodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.TextUnmarshallerHookFunc(),
	mapstructure.StringToTimeDurationHookFunc(),
))

// LoadConfig reads the settings stored in v under key, on top of DefaultConfig.
// Settings missing from v keep their default.
func LoadConfig(v *viper.Viper, key string) (Config, error) {
	cfg := DefaultConfig()
	if !v.IsSet(key) {
		return cfg, nil
	}
	if err := v.UnmarshalKey(key, &cfg, configDecodeHook); err != nil {
		return DefaultConfig(), fmt.Errorf("reading config key %q: %w", key, err)
	}
	return cfg, nil
}

// SaveConfig stores cfg in v under key and writes v's config file.
func SaveConfig(v *viper.Viper, key string, cfg Config) error {
	v.Set(key, cfg)
	return v.WriteConfig()
}

// Configure applies every setting in cfg through the validating setters.
// A rejected setting leaves that parameter unchanged; all the rejections
// are returned together.
func (s *Simulator) Configure(cfg Config) error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(cfg.Inputs) > NumInputs || len(cfg.Outputs) > NumOutputs || len(cfg.Files) > NumFiles {
		check(paramError("Configure", "channel count",
			fmt.Sprintf("%d inputs, %d outputs, %d files", len(cfg.Inputs), len(cfg.Outputs), len(cfg.Files))))
	}
	if cfg.CycleInterval != 0 {
		check(s.SetCycleInterval(cfg.CycleInterval))
	}
	s.setDebug(cfg.Debug)
	if cfg.NoiseSeed != 0 {
		s.seedNoise(cfg.NoiseSeed)
	}
	for i, in := range cfg.Inputs[:min(len(cfg.Inputs), NumInputs)] {
		ch := InputChannel(i)
		check(s.SetInputSource(ch, in.Source))
		check(s.SetTriggerMode(ch, in.Trigger))
		check(s.SetCyclicType(ch, in.Waveform))
		check(s.SetCyclicLevel(ch, in.Level))
		check(s.SetCyclicOffset(ch, in.Offset))
		if in.Rate != 0 {
			check(s.SetCyclicRate(ch, in.Rate))
		}
		if in.Transform == "" {
			check(s.ClearTransform(ch))
		} else {
			check(s.SetNamedTransform(ch, in.Transform))
		}
	}
	for i, out := range cfg.Outputs[:min(len(cfg.Outputs), NumOutputs)] {
		ch := OutputChannel(i)
		check(s.SetOutputSource(ch, out.Source))
		check(s.SetOutputScale(ch, out.Scale))
		check(s.SetNoiseScale(ch, out.Noise))
	}
	for i, f := range cfg.Files[:min(len(cfg.Files), NumFiles)] {
		id := FileSourceID(i)
		if f.Path == "" {
			check(s.UnbindFile(id))
		} else {
			check(s.BindFile(id, f.Path, f.Recycle))
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the current settings in a form that Configure accepts.
// A transform installed by SetTransform is recorded by name only.
func (s *Simulator) Snapshot() Config {
	cfg := Config{
		CycleInterval: s.CycleInterval(),
		Debug:         s.Debug(),
		NoiseSeed:     s.NoiseSeed(),
		Inputs:        make([]InputConfig, NumInputs),
		Outputs:       make([]OutputConfig, NumOutputs),
		Files:         make([]FileConfig, NumFiles),
	}
	for i := range cfg.Inputs {
		in := s.input(InputChannel(i))
		cfg.Inputs[i] = InputConfig{
			Source:    in.source,
			Trigger:   in.trigger,
			Waveform:  in.waveform,
			Level:     in.level,
			Offset:    in.offset,
			Rate:      in.rate,
			Transform: in.transformName,
		}
	}
	for i := range cfg.Outputs {
		out := s.output(OutputChannel(i))
		cfg.Outputs[i] = OutputConfig{Source: out.mux, Scale: out.scale, Noise: out.noise}
	}
	for i := range cfg.Files {
		path, recycle, _ := s.FileBinding(FileSourceID(i))
		cfg.Files[i] = FileConfig{Path: path, Recycle: recycle}
	}
	return cfg
}
