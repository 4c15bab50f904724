package devsim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func writeTestNpy(t *testing.T, name string, data any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, npyio.Write(f, data))
	require.NoError(t, f.Close())
	return path
}

func readAll(t *testing.T, fs *FileSource, n int) []float64 {
	t.Helper()
	values := make([]float64, n)
	for i := range values {
		v, err := fs.ReadNext()
		require.NoError(t, err, "record %d", i)
		values[i] = v
	}
	return values
}

func TestFileSourceLayouts(t *testing.T) {
	contents := `# seq date time value
1 20240105 13:45:00.250000 1.5

2 20240105 13:45:00 -2.5
20240105 13:45:01 3e2   # date and time only
7 4.25
8
`
	fs, err := OpenFileSource(writeTestFile(t, "layouts.dat", contents), false)
	require.NoError(t, err)
	defer fs.Close()
	assert.Equal(t, []float64{1.5, -2.5, 300, 4.25, 8}, readAll(t, fs, 5))

	_, err = fs.ReadNext()
	assert.ErrorIs(t, err, ErrEndOfData)
	assert.Equal(t, NoData, Code(err))
	// End of data persists.
	_, err = fs.ReadNext()
	assert.ErrorIs(t, err, ErrEndOfData)
}

func TestFileSourceRecycle(t *testing.T) {
	fs, err := OpenFileSource(writeTestFile(t, "three.dat", "10\n20\n30\n"), true)
	require.NoError(t, err)
	defer fs.Close()
	assert.True(t, fs.Recycle())
	assert.Equal(t, []float64{10, 20, 30, 10, 20, 30, 10}, readAll(t, fs, 7))
}

func TestFileSourceEmpty(t *testing.T) {
	for _, recycle := range []bool{false, true} {
		fs, err := OpenFileSource(writeTestFile(t, "empty.dat", "# nothing here\n\n"), recycle)
		require.NoError(t, err)
		_, err = fs.ReadNext()
		assert.ErrorIs(t, err, ErrEndOfData, "recycle=%v", recycle)
		fs.Close()
	}
}

func TestFileSourceInvalid(t *testing.T) {
	tests := []string{
		"1 2 3 4 5\n",
		"x 3.0\n",
		"20241399 10:00:00 1.0\n",
		"20240101 25:00:00 1.0\n",
		"1 20240101 10:00:00 abc\n",
		"notanumber\n",
	}
	for _, contents := range tests {
		fs, err := OpenFileSource(writeTestFile(t, "bad.dat", contents), false)
		require.NoError(t, err)
		_, err = fs.ReadNext()
		var fe *FileError
		if assert.True(t, errors.As(err, &fe), "record %q", contents) {
			assert.Equal(t, "read", fe.Op)
		}
		assert.Equal(t, InvData, Code(err), "record %q", contents)
		fs.Close()
	}
}

func TestFileSourceOpenError(t *testing.T) {
	_, err := OpenFileSource(filepath.Join(t.TempDir(), "missing.dat"), false)
	require.Error(t, err)
	assert.Equal(t, OpenErr, Code(err))
	_, err = OpenFileSource(filepath.Join(t.TempDir(), "missing.npy"), true)
	assert.Equal(t, OpenErr, Code(err))
}

func TestFileSourceNpy(t *testing.T) {
	path := writeTestNpy(t, "values.npy", []float64{0.5, 1.5, 2.5})
	fs, err := OpenFileSource(path, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5, 2.5, 0.5}, readAll(t, fs, 4))
	require.NoError(t, fs.Close())

	path = writeTestNpy(t, "ints.npy", []int32{-3, 4})
	fs, err = OpenFileSource(path, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, 4}, readAll(t, fs, 2))
	_, err = fs.ReadNext()
	assert.ErrorIs(t, err, ErrEndOfData)
}

func TestFileSourceRewind(t *testing.T) {
	fs, err := OpenFileSource(writeTestFile(t, "rewind.dat", "1\n2\n"), false)
	require.NoError(t, err)
	defer fs.Close()
	readAll(t, fs, 2)
	require.NoError(t, fs.Rewind())
	assert.Equal(t, []float64{1, 2}, readAll(t, fs, 2))
}

func TestFormatRecordRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 9, 8, 7, 6, 543210000, time.Local)
	line := formatRecord(12, ts, -0.125)
	assert.Equal(t, "12 20250309 08:07:06.543210 -0.125", line)
	fs, err := OpenFileSource(writeTestFile(t, "one.dat", line+"\n"), false)
	require.NoError(t, err)
	defer fs.Close()
	assert.Equal(t, []float64{-0.125}, readAll(t, fs, 1))
}
