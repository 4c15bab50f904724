package devsim

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrEndOfData means a file source without recycling has no more records.
	ErrEndOfData = errors.New("end of data")
	// ErrNotRunning is returned by Stop on a simulator that is not active.
	ErrNotRunning = errors.New("simulator not active")
	// ErrAlreadyRunning is returned by Start on a simulator that is not inactive.
	ErrAlreadyRunning = errors.New("simulator already started")
	// ErrNoFile is returned when a file source is used before any file is bound to it.
	ErrNoFile = errors.New("no file bound")
	// errInvalidRecord marks a record that cannot be parsed as data.
	errInvalidRecord = errors.New("invalid data record")
	errNonFinite     = errors.New("result is not a finite number")
)

// ParameterError reports a rejected argument: a channel id out of range, an
// unknown enumerated value, or an unusable number. The state it would have
// changed is left as it was.
type ParameterError struct {
	Op    string
	Param string
	Value any
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: invalid %s %v", e.Op, e.Param, e.Value)
}

func paramError(op, param string, value any) error {
	return &ParameterError{Op: op, Param: param, Value: value}
}

// FileError reports a problem opening or reading a file data source.
// Err is ErrEndOfData when a non-recycling source is exhausted.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// TransformError reports a user transform that failed. It never stops the
// simulation: the untransformed value is used instead.
type TransformError struct {
	Channel InputChannel
	Name    string
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %q on %v: %v", e.Name, e.Channel, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// panicError carries the value recovered from a panicking transform.
type panicError struct{ value any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// TimeoutError reports a blocking read that ran out of time. Waiting names the
// signal that never arrived ("file data" or "output data").
type TimeoutError struct {
	Channel OutputChannel
	Waiting string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: timed out after %v waiting for %s", e.Channel, e.Timeout, e.Waiting)
}

// Unwrap makes a TimeoutError match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ReturnCode is the numeric status used by status-code oriented clients.
type ReturnCode int

// Return codes. The numbering matches the return-code table of the
// instrumentation library the device simulator was first written against.
const (
	NoErr    ReturnCode = 0
	NoFile   ReturnCode = -9
	ReadErr  ReturnCode = -12
	OpenErr  ReturnCode = -13
	InvData  ReturnCode = -20
	NoData   ReturnCode = -26
	BadParam ReturnCode = -49
	OpAbort  ReturnCode = -59
	Timeout  ReturnCode = -60
)

var codeNames = map[ReturnCode]string{
	NoErr:    "NO_ERR",
	NoFile:   "NO_FILE",
	ReadErr:  "READ_ERR",
	OpenErr:  "OPEN_ERR",
	InvData:  "INV_DATA",
	NoData:   "NO_DATA",
	BadParam: "BAD_PARAM",
	OpAbort:  "OP_ABORT",
	Timeout:  "TIMEOUT",
}

func (rc ReturnCode) String() string {
	if name, ok := codeNames[rc]; ok {
		return name
	}
	return fmt.Sprintf("ReturnCode(%d)", int(rc))
}

// Code maps an error returned by this package onto its ReturnCode.
// A nil error is NoErr.
func Code(err error) ReturnCode {
	if err == nil {
		return NoErr
	}
	var pe *ParameterError
	var te *TimeoutError
	var fe *FileError
	switch {
	case errors.As(err, &pe):
		return BadParam
	case errors.As(err, &te):
		return Timeout
	case errors.Is(err, ErrEndOfData):
		return NoData
	case errors.Is(err, ErrNoFile):
		return NoFile
	case errors.Is(err, errInvalidRecord):
		return InvData
	case errors.As(err, &fe):
		if fe.Op == "open" {
			return OpenErr
		}
		return ReadErr
	case errors.Is(err, ErrNotRunning), errors.Is(err, ErrAlreadyRunning),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OpAbort
	}
	return ReadErr
}
