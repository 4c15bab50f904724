package devsim

import (
	"fmt"
	"strings"
)

// Number of channels of each kind the simulated device provides.
const (
	NumInputs  = 4
	NumOutputs = 4
	NumFiles   = 4
)

// InputChannel identifies one of the logical input points, 0..NumInputs-1.
type InputChannel int

// OutputChannel identifies one of the logical output points, 0..NumOutputs-1.
type OutputChannel int

// FileSourceID identifies one of the recorded-data file sources, 0..NumFiles-1.
// File source i is paced by the trigger configuration of InputChannel i.
type FileSourceID int

// Names for the channel identities, matching the labels on the simulated device.
const (
	InChan1 InputChannel = iota
	InChan2
	InChan3
	InChan4
)

// Names for the output channel identities.
const (
	OutChan1 OutputChannel = iota
	OutChan2
	OutChan3
	OutChan4
)

// Names for the file source identities.
const (
	SrcFile1 FileSourceID = iota
	SrcFile2
	SrcFile3
	SrcFile4
)

// Valid reports whether ch is a real input channel.
func (ch InputChannel) Valid() bool { return ch >= 0 && ch < NumInputs }

// Valid reports whether ch is a real output channel.
func (ch OutputChannel) Valid() bool { return ch >= 0 && ch < NumOutputs }

// Valid reports whether id is a real file source.
func (id FileSourceID) Valid() bool { return id >= 0 && id < NumFiles }

// Companion returns the input channel whose trigger mode and trigger events
// pace reads of this file source.
func (id FileSourceID) Companion() InputChannel { return InputChannel(id) }

func (ch InputChannel) String() string  { return fmt.Sprintf("INCHAN%d", int(ch)+1) }
func (ch OutputChannel) String() string { return fmt.Sprintf("OUTCHAN%d", int(ch)+1) }
func (id FileSourceID) String() string  { return fmt.Sprintf("SRCFILE%d", int(id)+1) }

// MuxKind tells which identity space a MuxSource refers to.
type MuxKind int

// The two kinds of output multiplexer inputs.
const (
	MuxInput MuxKind = iota
	MuxFile
)

// MuxSource is the selection feeding one output channel: either the processed
// data of an input channel or the latest record of a file source. The two
// identity spaces are kept apart so that file 0 can never be mistaken for input 0.
type MuxSource struct {
	Kind MuxKind
	ID   int
}

// FromInput returns the MuxSource selecting input channel ch.
func FromInput(ch InputChannel) MuxSource { return MuxSource{Kind: MuxInput, ID: int(ch)} }

// FromFile returns the MuxSource selecting file source id.
func FromFile(id FileSourceID) MuxSource { return MuxSource{Kind: MuxFile, ID: int(id)} }

// Input returns the input channel and true if m selects an input channel.
func (m MuxSource) Input() (InputChannel, bool) {
	return InputChannel(m.ID), m.Kind == MuxInput
}

// File returns the file source and true if m selects a file source.
func (m MuxSource) File() (FileSourceID, bool) {
	return FileSourceID(m.ID), m.Kind == MuxFile
}

// Valid reports whether m names an existing input channel or file source.
func (m MuxSource) Valid() bool {
	switch m.Kind {
	case MuxInput:
		return InputChannel(m.ID).Valid()
	case MuxFile:
		return FileSourceID(m.ID).Valid()
	}
	return false
}

func (m MuxSource) String() string {
	switch m.Kind {
	case MuxInput:
		return InputChannel(m.ID).String()
	case MuxFile:
		return FileSourceID(m.ID).String()
	}
	return fmt.Sprintf("MuxSource(%d,%d)", int(m.Kind), m.ID)
}

// SourceSelect chooses what feeds an input channel.
type SourceSelect int

// Possible input channel sources.
const (
	SourceExternal SourceSelect = iota // values pushed in by PushInput
	SourceCyclic                       // the channel's waveform generator
)

func (s SourceSelect) valid() bool { return s == SourceExternal || s == SourceCyclic }

func (s SourceSelect) String() string {
	switch s {
	case SourceExternal:
		return "EXT_IN"
	case SourceCyclic:
		return "CYCLIC"
	}
	return fmt.Sprintf("SourceSelect(%d)", int(s))
}

// TriggerMode governs when a channel's generator and its companion file source advance.
type TriggerMode int

// Trigger modes.
const (
	FreeRunning     TriggerMode = iota // generator ticks every interval; file reads on demand
	ExternalTrigger                    // generator tick and file read only after PostTrigger
	InternalTrigger                    // generator as FreeRunning; file reads on demand
)

func (m TriggerMode) valid() bool {
	return m == FreeRunning || m == ExternalTrigger || m == InternalTrigger
}

func (m TriggerMode) String() string {
	switch m {
	case FreeRunning:
		return "NO_TRIG"
	case ExternalTrigger:
		return "EXT_TRIG"
	case InternalTrigger:
		return "INT_TRIG"
	}
	return fmt.Sprintf("TriggerMode(%d)", int(m))
}

// WaveformKind selects the shape a cyclic source generates.
type WaveformKind int

// Waveform kinds. WaveConstant is the "no waveform" setting: the output is the level itself.
const (
	WaveConstant WaveformKind = iota
	WaveSine
	WavePulse
	WaveRamp
	WaveSawtooth
)

func (k WaveformKind) valid() bool { return k >= WaveConstant && k <= WaveSawtooth }

func (k WaveformKind) String() string {
	switch k {
	case WaveConstant:
		return "CYCNONE"
	case WaveSine:
		return "CYCSINE"
	case WavePulse:
		return "CYCPULSE"
	case WaveRamp:
		return "CYCRAMP"
	case WaveSawtooth:
		return "CYCSAW"
	}
	return fmt.Sprintf("WaveformKind(%d)", int(k))
}

// Text forms of the enumerations, used in configuration files and RPC messages.

func parseName(what, text string, n int, name func(int) string) (int, error) {
	for i := 0; i < n; i++ {
		if strings.EqualFold(text, name(i)) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", what, text)
}

// MarshalText implements encoding.TextMarshaler.
func (s SourceSelect) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SourceSelect) UnmarshalText(text []byte) error {
	i, err := parseName("input source", string(text), 2, func(i int) string { return SourceSelect(i).String() })
	*s = SourceSelect(i)
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (m TriggerMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *TriggerMode) UnmarshalText(text []byte) error {
	i, err := parseName("trigger mode", string(text), 3, func(i int) string { return TriggerMode(i).String() })
	*m = TriggerMode(i)
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (k WaveformKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *WaveformKind) UnmarshalText(text []byte) error {
	i, err := parseName("waveform", string(text), 5, func(i int) string { return WaveformKind(i).String() })
	*k = WaveformKind(i)
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (m MuxSource) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid multiplexer source %v", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the names
// INCHAN1..INCHAN4 and SRCFILE1..SRCFILE4.
func (m *MuxSource) UnmarshalText(text []byte) error {
	if i, err := parseName("input", string(text), NumInputs, func(i int) string { return InputChannel(i).String() }); err == nil {
		*m = FromInput(InputChannel(i))
		return nil
	}
	i, err := parseName("multiplexer source", string(text), NumFiles, func(i int) string { return FileSourceID(i).String() })
	if err != nil {
		return err
	}
	*m = FromFile(FileSourceID(i))
	return nil
}
