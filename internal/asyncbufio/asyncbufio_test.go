package asyncbufio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "example")
	require.NoError(t, err)
	defer f.Close()

	var expect strings.Builder
	w := NewWriter(f, 100, time.Second)
	buf := make([]byte, 0, 64)
	for i := range 100 {
		buf = fmt.Appendf(buf[:0], "Line of text %3d\n", i)
		expect.Write(buf)
		_, err := w.Write(buf) // buf is reused: Write must copy it
		require.NoError(t, err)
		if i%25 == 19 {
			assert.NoError(t, w.Flush())
		}
	}
	w.WriteString("Last line\n")
	expect.WriteString("Last line\n")
	assert.NoError(t, w.Close())

	contents, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, expect.String(), string(contents))
}

func TestCloseTwice(t *testing.T) {
	var b bytes.Buffer
	w := NewWriter(&b, 10, time.Second)
	w.WriteString("abc")
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.Equal(t, "abc", b.String())
}

func TestFullChannel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()
	// Nothing reads the pipe, so the writeLoop stalls on its first write.
	w := NewWriter(pw, 1, time.Hour)
	var nshort int
	for range 5000 {
		if _, err := w.WriteString(strings.Repeat("x", 1024)); errors.Is(err, io.ErrShortWrite) {
			nshort++
		}
	}
	assert.Positive(t, nshort, "a full channel should refuse writes")
	pw.CloseWithError(io.ErrClosedPipe)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk on fire") }

func TestWriteError(t *testing.T) {
	w := NewWriter(failingWriter{}, 10, time.Second)
	w.WriteString("doomed")
	err := w.Flush()
	assert.ErrorContains(t, err, "disk on fire")
	assert.Error(t, w.Close())
}

func TestPeriodicFlush(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ticker")
	require.NoError(t, err)
	defer f.Close()
	w := NewWriter(f, 10, 20*time.Millisecond)
	defer w.Close()
	w.WriteString("tick\n")
	assert.Eventually(t, func() bool {
		contents, _ := os.ReadFile(f.Name())
		return string(contents) == "tick\n"
	}, time.Second, 10*time.Millisecond)
}
