package devsim

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// OutputMessageSize is the length of one published output pass.
const OutputMessageSize = 8 + 8 + 8*NumOutputs

// outputTopic is the first frame of every output message, so subscribers can filter on it.
const outputTopic = "OUTPUTS"

// OutputPublisher is an OutputSink that publishes every output pass on a ZMQ
// PUB socket. Each message has two frames: the topic "OUTPUTS", and a binary
// frame holding the pass sequence number (uint64), its time in unix
// nanoseconds (int64), and the NumOutputs values (float64), all little-endian.
type OutputPublisher struct {
	pubSocket *zmq.Socket
	buffer    []byte
	sync.Mutex
}

// NewOutputPublisher binds a PUB socket to TCP port portnum on all interfaces.
func NewOutputPublisher(portnum int) (*OutputPublisher, error) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	pubSocket.SetLinger(0)
	hostname := fmt.Sprintf("tcp://*:%d", portnum)
	if err := pubSocket.Bind(hostname); err != nil {
		pubSocket.Close()
		return nil, fmt.Errorf("could not bind output publisher to %s: %w", hostname, err)
	}
	return &OutputPublisher{pubSocket: pubSocket, buffer: make([]byte, OutputMessageSize)}, nil
}

// PublishOutputs sends one pass. It never waits: a message that cannot be
// queued for a slow subscriber is dropped by ZMQ.
func (op *OutputPublisher) PublishOutputs(pass *OutputPass) error {
	op.Lock()
	defer op.Unlock()
	if op.pubSocket == nil {
		return nil
	}
	packOutputs(op.buffer, pass)
	if _, err := op.pubSocket.Send(outputTopic, zmq.SNDMORE|zmq.DONTWAIT); err != nil {
		return err
	}
	_, err := op.pubSocket.SendBytes(op.buffer, zmq.DONTWAIT)
	return err
}

// Close closes the socket. Later passes are ignored.
func (op *OutputPublisher) Close() error {
	op.Lock()
	defer op.Unlock()
	if op.pubSocket == nil {
		return nil
	}
	err := op.pubSocket.Close()
	op.pubSocket = nil
	return err
}

// packOutputs fills buf, which must be at least OutputMessageSize long.
func packOutputs(buf []byte, pass *OutputPass) {
	binary.LittleEndian.PutUint64(buf[0:], pass.Seq)
	binary.LittleEndian.PutUint64(buf[8:], uint64(pass.Time.UnixNano()))
	for i, v := range pass.Values {
		binary.LittleEndian.PutUint64(buf[16+8*i:], math.Float64bits(v))
	}
}

// UnpackOutputs decodes the binary frame of a published output message.
func UnpackOutputs(msg []byte) (*OutputPass, error) {
	if len(msg) != OutputMessageSize {
		return nil, fmt.Errorf("output message is %d bytes, want %d", len(msg), OutputMessageSize)
	}
	pass := &OutputPass{
		Seq:  binary.LittleEndian.Uint64(msg[0:]),
		Time: time.Unix(0, int64(binary.LittleEndian.Uint64(msg[8:]))),
	}
	for i := range pass.Values {
		pass.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(msg[16+8*i:]))
	}
	return pass, nil
}
