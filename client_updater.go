package devsim

// Contain the ClientUpdater object, which publishes JSON-encoded messages
// giving the latest simulator state.

import (
	"encoding/json"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state any
}

// Heartbeat is the information sent in the regular ALIVE messages.
type Heartbeat struct {
	Running bool
	Passes  uint64  // main cycle passes since the simulator was created
	Time    float64 // seconds since the previous heartbeat
}

// RunClientUpdater forwards any message from its input channel to the ZMQ publisher socket
// to publish any information that clients need to know. It returns when abort is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) error {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	pubSocket.SetLinger(0)
	if err = pubSocket.Bind(hostname); err != nil {
		return fmt.Errorf("could not bind client updater to %s: %w", hostname, err)
	}

	for {
		select {
		case <-abort:
			return nil
		case update := <-messages:
			message, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not encode %s update: %v", update.tag, err)
				continue
			}
			if update.tag != "ALIVE" {
				UpdateLogger.Printf("SEND %v %v\n", update.tag, string(message))
			}
			if _, err := pubSocket.SendMessage(update.tag, message); err != nil {
				ProblemLogger.Printf("could not publish %s update: %v", update.tag, err)
			}
		}
	}
}

// discardUpdates empties messages until abort is closed, for when no updater can run.
func discardUpdates(messages <-chan ClientUpdate, abort <-chan struct{}) {
	for {
		select {
		case <-abort:
			return
		case <-messages:
		}
	}
}

// runHeartbeats sends an ALIVE update to the clients every interval until abort closes.
func runHeartbeats(sim *Simulator, updates chan<- ClientUpdate, interval time.Duration, abort <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-abort:
			return
		case now := <-ticker.C:
			updates <- ClientUpdate{"ALIVE", Heartbeat{
				Running: sim.Running(),
				Passes:  sim.Passes(),
				Time:    now.Sub(last).Seconds(),
			}}
			last = now
		}
	}
}
