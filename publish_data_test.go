package devsim

import (
	"fmt"
	"testing"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackOutputs(t *testing.T) {
	pass := &OutputPass{Seq: 1234567, Time: time.Unix(1700000000, 123456789), Values: [NumOutputs]float64{1.5, -2, 0, 1e300}}
	buf := make([]byte, OutputMessageSize)
	packOutputs(buf, pass)
	got, err := UnpackOutputs(buf)
	require.NoError(t, err)
	assert.Equal(t, pass.Seq, got.Seq)
	assert.True(t, pass.Time.Equal(got.Time))
	assert.Equal(t, pass.Values, got.Values)

	_, err = UnpackOutputs(buf[:OutputMessageSize-1])
	assert.Error(t, err)
}

func TestOutputPublisher(t *testing.T) {
	const port = 33010
	pub, err := NewOutputPublisher(port)
	require.NoError(t, err)
	defer pub.Close()

	_, err = NewOutputPublisher(port)
	assert.Error(t, err, "a second publisher cannot bind the same port")

	sub, err := zmq.NewSocket(zmq.SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.SetRcvtimeo(50*time.Millisecond))
	require.NoError(t, sub.SetSubscribe(outputTopic))
	require.NoError(t, sub.Connect(fmt.Sprintf("tcp://localhost:%d", port)))

	// Messages published before the subscription is live are lost, so keep publishing.
	var parts [][]byte
	for seq := uint64(1); seq <= 50; seq++ {
		pass := &OutputPass{Seq: seq, Time: time.Now(), Values: [NumOutputs]float64{1, 2, 3, float64(seq)}}
		require.NoError(t, pub.PublishOutputs(pass))
		if parts, err = sub.RecvMessageBytes(0); err == nil {
			break
		}
	}
	require.NoError(t, err, "nothing received from the output publisher")
	require.Len(t, parts, 2)
	assert.Equal(t, outputTopic, string(parts[0]))
	got, err := UnpackOutputs(parts[1])
	require.NoError(t, err)
	assert.Equal(t, float64(got.Seq), got.Values[3])
	assert.Equal(t, []float64{1, 2, 3}, got.Values[:3])

	require.NoError(t, pub.Close())
	assert.NoError(t, pub.PublishOutputs(&OutputPass{}), "a closed publisher ignores passes")
	assert.NoError(t, pub.Close())
}
