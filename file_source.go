package devsim

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sbinet/npyio"
)

// FileSource reads recorded values, one record at a time, from a data file.
//
// Text files hold one record per line in one of four layouts, the value always last:
//
//	seq date time value
//	date time value
//	seq value
//	value
//
// where seq is an integer, date is YYYYMMDD and time is HH:MM:SS with optional
// fractional seconds. Blank lines and anything after a '#' are ignored.
// Files ending in ".npy" hold a 1-D numeric array, one record per element.
//
// A FileSource is not safe for concurrent use.
type FileSource struct {
	path    string
	recycle bool

	// text files
	file    *os.File
	scanner *bufio.Scanner
	lnum    int

	// .npy files
	values []float64
	next   int
}

// OpenFileSource opens path for reading. When recycle is true, ReadNext
// starts over from the first record after the last one has been read.
func OpenFileSource(path string, recycle bool) (*FileSource, error) {
	fs := &FileSource{path: path, recycle: recycle}
	if strings.EqualFold(filepath.Ext(path), ".npy") {
		values, err := readNpyValues(path)
		if err != nil {
			return nil, err
		}
		fs.values = values
		return fs, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	fs.file = f
	fs.scanner = bufio.NewScanner(f)
	return fs, nil
}

// Path returns the name of the file being read.
func (fs *FileSource) Path() string { return fs.path }

// Recycle reports whether the source starts over after its last record.
func (fs *FileSource) Recycle() bool { return fs.recycle }

// ReadNext returns the value of the next record. At the end of the file it
// rewinds and tries once more if recycling, otherwise it returns a *FileError
// wrapping ErrEndOfData. The error persists on every later call.
func (fs *FileSource) ReadNext() (float64, error) {
	value, err := fs.readRecord()
	if err == io.EOF && fs.recycle {
		if err = fs.Rewind(); err != nil {
			return 0, err
		}
		value, err = fs.readRecord()
	}
	if err == io.EOF {
		return 0, &FileError{Op: "read", Path: fs.path, Err: ErrEndOfData}
	}
	return value, err
}

// Rewind moves back to the first record.
func (fs *FileSource) Rewind() error {
	if fs.file == nil {
		fs.next = 0
		return nil
	}
	if _, err := fs.file.Seek(0, io.SeekStart); err != nil {
		return &FileError{Op: "read", Path: fs.path, Err: err}
	}
	fs.scanner = bufio.NewScanner(fs.file)
	fs.lnum = 0
	return nil
}

// Close releases the underlying file.
func (fs *FileSource) Close() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file = nil
	fs.scanner = nil
	return err
}

// readRecord returns io.EOF when there are no more records.
func (fs *FileSource) readRecord() (float64, error) {
	if fs.scanner == nil {
		if fs.next >= len(fs.values) {
			return 0, io.EOF
		}
		fs.next++
		return fs.values[fs.next-1], nil
	}
	for fs.scanner.Scan() {
		fs.lnum++
		line := fs.scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		value, err := parseRecord(fields)
		if err != nil {
			return 0, &FileError{Op: "read", Path: fs.path,
				Err: fmt.Errorf("line %d: %w: %v", fs.lnum, errInvalidRecord, err)}
		}
		return value, nil
	}
	if err := fs.scanner.Err(); err != nil {
		return 0, &FileError{Op: "read", Path: fs.path, Err: err}
	}
	return 0, io.EOF
}

// parseRecord checks the leading fields of a record according to its layout
// and returns the value field.
func parseRecord(fields []string) (float64, error) {
	var seq, date, clock string
	switch len(fields) {
	case 1:
	case 2:
		seq = fields[0]
	case 3:
		date, clock = fields[0], fields[1]
	case 4:
		seq, date, clock = fields[0], fields[1], fields[2]
	default:
		return 0, fmt.Errorf("%d fields, want 1 to 4", len(fields))
	}
	if seq != "" {
		if _, err := strconv.Atoi(seq); err != nil {
			return 0, fmt.Errorf("sequence number %q", seq)
		}
	}
	if date != "" {
		if _, err := time.Parse(recordDateLayout, date); err != nil {
			return 0, fmt.Errorf("date %q", date)
		}
		if _, err := time.Parse(recordTimeLayout, clock); err != nil {
			return 0, fmt.Errorf("time %q", clock)
		}
	}
	return strconv.ParseFloat(fields[len(fields)-1], 64)
}

// Layouts of the date and time fields of a text record. Fractional seconds
// after the time are accepted on parsing.
const (
	recordDateLayout = "20060102"
	recordTimeLayout = "15:04:05"
)

// formatRecord renders one record in the 4-field text layout.
func formatRecord(seq int, t time.Time, value float64) string {
	return fmt.Sprintf("%d %s %s %s", seq, t.Format(recordDateLayout),
		t.Format("15:04:05.000000"), strconv.FormatFloat(value, 'g', -1, 64))
}

// readNpyValues loads a whole 1-D .npy array as float64 values.
func readNpyValues(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	if shape := r.Header.Descr.Shape; len(shape) != 1 {
		return nil, &FileError{Op: "open", Path: path,
			Err: fmt.Errorf("%w: array shape %v, want 1-D", errInvalidRecord, shape)}
	}
	var values []float64
	switch dtype := r.Header.Descr.Type; dtype {
	case "<f8":
		err = r.Read(&values)
	case "<f4":
		values, err = readConverted[float32](r)
	case "<i8":
		values, err = readConverted[int64](r)
	case "<i4":
		values, err = readConverted[int32](r)
	case "<i2":
		values, err = readConverted[int16](r)
	case "<u2":
		values, err = readConverted[uint16](r)
	default:
		err = fmt.Errorf("%w: unsupported dtype %q", errInvalidRecord, dtype)
	}
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	return values, nil
}

type npyNumber interface {
	float32 | int64 | int32 | int16 | uint16
}

func readConverted[T npyNumber](r *npyio.Reader) ([]float64, error) {
	var raw []T
	if err := r.Read(&raw); err != nil {
		return nil, err
	}
	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = float64(v)
	}
	return values, nil
}
