package npyappend

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppenderFloat64Rows(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "rows.npy")
	a, err := NewNpyAppender[float64](filename, 3)
	require.NoError(t, err)
	assert.Len(t, a.Header(), headerLen)

	for i := range 4 {
		x := float64(i)
		require.NoError(t, a.Append(x, x+0.5, -x))
	}
	assert.Error(t, a.Append(1, 2), "short rows are refused")
	assert.Equal(t, 4, a.Rows())
	require.NoError(t, a.Close())

	contents, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Len(t, contents, headerLen+4*3*8)
	header := string(contents[:headerLen])
	assert.True(t, strings.HasPrefix(header, "\x93NUMPY\x01\x00"))
	assert.Equal(t, uint16(headerLen-10), binary.LittleEndian.Uint16(contents[8:10]))
	assert.Contains(t, header, "{'descr': '<f8', 'fortran_order': False, 'shape': (4, 3), }")
	assert.True(t, strings.HasSuffix(header, " \n"))
	last := binary.LittleEndian.Uint64(contents[len(contents)-8:])
	assert.Equal(t, -3.0, math.Float64frombits(last))

	// The result is readable as a numpy array.
	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	r, err := npyio.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, "<f8", r.Header.Descr.Type)
	assert.Equal(t, []int{4, 3}, r.Header.Descr.Shape)
	var values []float64
	require.NoError(t, r.Read(&values))
	assert.Equal(t, []float64{0, 0.5, 0, 1, 1.5, -1, 2, 2.5, -2, 3, 3.5, -3}, values)
}

func TestAppender1D(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "scalars.npy")
	a, err := NewNpyAppender[int32](filename, 0)
	require.NoError(t, err)
	for _, v := range []int32{7, -8, 9} {
		require.NoError(t, a.Append(v))
	}
	// Sync leaves a valid file behind while still appending.
	require.NoError(t, a.Sync())
	f, err := os.Open(filename)
	require.NoError(t, err)
	var values []int32
	require.NoError(t, npyio.Read(f, &values))
	f.Close()
	assert.Equal(t, []int32{7, -8, 9}, values)

	require.NoError(t, a.Append(10))
	require.NoError(t, a.Close())
	contents, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(contents[:headerLen]), "'descr': '<i4'")
	assert.Contains(t, string(contents[:headerLen]), "'shape': (4,)")
}

func TestAppenderErrors(t *testing.T) {
	_, err := NewNpyAppender[float32](filepath.Join(t.TempDir(), "x.npy"), -1)
	assert.Error(t, err)
	_, err = NewNpyAppender[float32](filepath.Join(t.TempDir(), "no", "such", "dir.npy"), 2)
	assert.Error(t, err)
}

func TestDtype(t *testing.T) {
	assert.Equal(t, "<f4", dtype[float32]())
	assert.Equal(t, "<f8", dtype[float64]())
	assert.Equal(t, "<u2", dtype[uint16]())
	assert.Equal(t, "|i1", dtype[int8]())
	type celsius float32
	assert.Equal(t, "<f4", dtype[celsius]())
}
