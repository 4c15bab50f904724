package devsim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
simulator:
  cycleinterval: 20ms
  noiseseed: 7
  inputs:
    - source: CYCLIC
      trigger: ext_trig
      waveform: cycsine
      level: 2
      offset: -0.5
      rate: 5ms
      transform: negate
  outputs:
    - source: SRCFILE2
      scale: 3
      noise: 0.125
`

func readTestViper(t *testing.T, contents string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return v
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(readTestViper(t, testYAML), ConfigKey)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, cfg.CycleInterval)
	assert.Equal(t, uint64(7), cfg.NoiseSeed)
	require.Len(t, cfg.Inputs, 1)
	assert.Equal(t, InputConfig{
		Source:    SourceCyclic,
		Trigger:   ExternalTrigger,
		Waveform:  WaveSine,
		Level:     2,
		Offset:    -0.5,
		Rate:      5 * time.Millisecond,
		Transform: "negate",
	}, cfg.Inputs[0])
	require.Len(t, cfg.Outputs, 1)
	assert.Equal(t, OutputConfig{Source: FromFile(SrcFile2), Scale: 3, Noise: 0.125}, cfg.Outputs[0])
	assert.Len(t, cfg.Files, NumFiles)

	// Listed channels are changed, the rest keep their settings.
	s, err := NewSimulator(cfg)
	require.NoError(t, err)
	kind, _ := s.CyclicType(InChan1)
	assert.Equal(t, WaveSine, kind)
	kind, _ = s.CyclicType(InChan2)
	assert.Equal(t, WaveConstant, kind)
	mux, _ := s.OutputSource(OutChan1)
	assert.Equal(t, FromFile(SrcFile2), mux)
	mux, _ = s.OutputSource(OutChan2)
	assert.Equal(t, FromInput(InChan2), mux)
	assert.Equal(t, uint64(7), s.NoiseSeed())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(readTestViper(t, "other:\n  key: 1\n"), ConfigKey)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadConfig(readTestViper(t, "simulator:\n  inputs:\n    - waveform: CYCWOBBLE\n"), ConfigKey)
	assert.Error(t, err)
	_, err = LoadConfig(readTestViper(t, "simulator:\n  outputs:\n    - source: INCHAN9\n"), ConfigKey)
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	s, err := NewSimulator(DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, s.SetCycleInterval(75*time.Millisecond))
	require.NoError(t, s.SetInputSource(InChan3, SourceCyclic))
	require.NoError(t, s.SetCyclicType(InChan3, WavePulse))
	require.NoError(t, s.SetCyclicLevel(InChan3, -3.5))
	require.NoError(t, s.SetCyclicRate(InChan3, 2*time.Second))
	require.NoError(t, s.SetTriggerMode(InChan4, InternalTrigger))
	require.NoError(t, s.SetNamedTransform(InChan4, "average"))
	require.NoError(t, s.SetOutputSource(OutChan2, FromFile(SrcFile4)))
	require.NoError(t, s.SetNoiseScale(OutChan2, 0.5))
	require.NoError(t, s.BindFile(SrcFile4, writeTestFile(t, "data.txt", "1\n2\n"), true))
	want := s.Snapshot()

	v := readTestViper(t, "")
	require.NoError(t, SaveConfig(v, ConfigKey, want))

	stored := viper.New()
	stored.SetConfigFile(v.ConfigFileUsed())
	require.NoError(t, stored.ReadInConfig())
	got, err := LoadConfig(stored, ConfigKey)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The stored settings rebuild an identical simulator.
	s2, err := NewSimulator(got)
	require.NoError(t, err)
	assert.Equal(t, want, s2.Snapshot())
}

func TestConfigureReportsEveryRejection(t *testing.T) {
	s, err := NewSimulator(DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Inputs[0].Transform = "no such transform"
	cfg.Inputs[1].Level = 4
	cfg.Outputs[2].Noise = -1
	cfg.Outputs[2].Scale = 5
	cfg.Files[3].Path = filepath.Join(t.TempDir(), "missing.txt")
	err = s.Configure(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such transform")
	assert.Contains(t, err.Error(), "noise scale")
	assert.Contains(t, err.Error(), "missing.txt")
	assert.Equal(t, BadParam, Code(err))

	// Accepted settings are applied; rejected ones are left alone.
	level, _ := s.CyclicLevel(InChan2)
	assert.Equal(t, 4.0, level)
	scale, _ := s.OutputScale(OutChan3)
	assert.Equal(t, 5.0, scale)
	noise, _ := s.NoiseScale(OutChan3)
	assert.Equal(t, 0.0, noise)
	path, _, _ := s.FileBinding(SrcFile4)
	assert.Equal(t, "", path)

	cfg = DefaultConfig()
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Scale: 1})
	assert.Error(t, s.Configure(cfg))
}
