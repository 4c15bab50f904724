// Package npyappend writes numpy .npy files whose length is not known in
// advance: rows are appended one at a time, and the header is rewritten with
// the final shape when the file is closed.
package npyappend

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// headerLen is the fixed size of the header, preamble included. Numpy wants
// it to be a multiple of 64 bytes.
const headerLen = 128

// Number is the set of element types an Appender can write.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// NpyAppender appends rows of T to a .npy file.
type NpyAppender[T Number] struct {
	filename string
	file     *os.File
	writer   *bufio.Writer
	ncols    int // 0 means a 1-D array of scalars
	nrows    int
}

// NewNpyAppender creates filename and writes a provisional header. With ncols 0
// the file holds a 1-D array and each Append takes one value; otherwise it
// holds a 2-D array of ncols columns and each Append takes one full row.
func NewNpyAppender[T Number](filename string, ncols int) (*NpyAppender[T], error) {
	if ncols < 0 {
		return nil, fmt.Errorf("npyappend: negative column count %d", ncols)
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	a := &NpyAppender[T]{
		filename: filename,
		file:     file,
		ncols:    ncols,
	}
	if err := a.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	if _, err := file.Seek(headerLen, 0); err != nil {
		file.Close()
		return nil, err
	}
	a.writer = bufio.NewWriter(file)
	return a, nil
}

// Append writes one row.
func (a *NpyAppender[T]) Append(row ...T) error {
	want := max(a.ncols, 1)
	if len(row) != want {
		return fmt.Errorf("npyappend: row of %d values, want %d", len(row), want)
	}
	if err := binary.Write(a.writer, binary.LittleEndian, row); err != nil {
		return err
	}
	a.nrows++
	return nil
}

// Rows returns the number of rows appended so far.
func (a *NpyAppender[T]) Rows() int { return a.nrows }

// Filename returns the name of the file being written.
func (a *NpyAppender[T]) Filename() string { return a.filename }

// Sync flushes buffered rows and rewrites the header, so that the file on
// disk is a valid array of every row appended so far.
func (a *NpyAppender[T]) Sync() error {
	if err := a.writer.Flush(); err != nil {
		return err
	}
	return a.writeHeader()
}

// Close syncs and closes the file.
func (a *NpyAppender[T]) Close() error {
	if err := a.Sync(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

// Header returns the header for the rows appended so far.
func (a *NpyAppender[T]) Header() []byte {
	var shape string
	if a.ncols == 0 {
		shape = fmt.Sprintf("(%d,)", a.nrows)
	} else {
		shape = fmt.Sprintf("(%d, %d)", a.nrows, a.ncols)
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", dtype[T](), shape)

	const preamble = "\x93NUMPY\x01\x00"
	hdr := make([]byte, 0, headerLen)
	hdr = append(hdr, preamble...)
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(headerLen-len(preamble)-2))
	hdr = append(hdr, dict...)
	hdr = append(hdr, strings.Repeat(" ", headerLen-len(hdr)-1)...)
	return append(hdr, '\n')
}

func (a *NpyAppender[T]) writeHeader() error {
	_, err := a.file.WriteAt(a.Header(), 0)
	return err
}

func dtype[T Number]() string {
	var zero T
	switch reflect.TypeOf(zero).Kind() {
	case reflect.Int8:
		return "|i1"
	case reflect.Int16:
		return "<i2"
	case reflect.Int32:
		return "<i4"
	case reflect.Int64:
		return "<i8"
	case reflect.Uint8:
		return "|u1"
	case reflect.Uint16:
		return "<u2"
	case reflect.Uint32:
		return "<u4"
	case reflect.Uint64:
		return "<u8"
	case reflect.Float32:
		return "<f4"
	}
	return "<f8"
}
