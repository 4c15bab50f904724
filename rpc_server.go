package devsim

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/devsim/internal/devsimdb"
	"github.com/usnistgov/devsim/internal/unboundedchan"
)

// DeviceControl is the sub-server that handles configuration and operation of
// the simulated device. Channel, file and output numbers in its arguments
// count from 0.
//
// Every method answers with a Reply, whose Code tells whether the operation
// succeeded. Failures of the operation itself are reported in the Reply, not
// as RPC errors, so that clients always receive the status code.
type DeviceControl struct {
	sim           *Simulator
	clientUpdates chan<- ClientUpdate
	viper         *viper.Viper
	db            *devsimdb.DBConnection
	saveLock      sync.Mutex // serializes config file writes
}

// Reply is the answer to every DeviceControl call.
type Reply struct {
	Code   ReturnCode
	Status string // name of Code, such as "NO_ERR" or "BAD_PARAM"
	Error  string `json:",omitempty"`
	Value  any    `json:",omitempty"`
}

// ChannelArgs names a channel, output or file source by number.
type ChannelArgs struct {
	Channel int
}

// ValueArgs holds a channel number and a numeric setting or input value.
type ValueArgs struct {
	Channel int
	Value   float64
}

// NameArgs holds a channel number and a named setting: an input source
// (EXT_IN, CYCLIC), trigger mode (NO_TRIG, EXT_TRIG, INT_TRIG), waveform
// (CYCNONE, CYCSINE, CYCPULSE, CYCRAMP, CYCSAW), transform name, or output
// source (INCHAN1..4, SRCFILE1..4). Names are not case sensitive.
type NameArgs struct {
	Channel int
	Name    string
}

// SecondsArgs holds a time interval in seconds.
type SecondsArgs struct {
	Seconds float64
}

// BindFileArgs holds the arguments of BindFile.
type BindFileArgs struct {
	File    int
	Path    string
	Recycle bool
}

// ReadArgs holds the arguments of ReadOutput.
type ReadArgs struct {
	Channel  int
	Blocking bool
	Timeout  float64 // seconds
}

// ServerStatus the status that DeviceControl reports to clients.
type ServerStatus struct {
	Running       bool
	State         string
	Passes        uint64
	CycleInterval float64 // seconds
	Recording     bool
	Version       string
	StartTime     time.Time
}

// NewDeviceControl creates the RPC service for sim. Settings are saved to v
// after every change, unless v is nil.
func NewDeviceControl(sim *Simulator, clientUpdates chan<- ClientUpdate, v *viper.Viper, db *devsimdb.DBConnection) *DeviceControl {
	return &DeviceControl{sim: sim, clientUpdates: clientUpdates, viper: v, db: db}
}

func (c *DeviceControl) respond(reply *Reply, value any, err error) error {
	reply.Code = Code(err)
	reply.Status = reply.Code.String()
	if err != nil {
		reply.Error = err.Error()
		return nil
	}
	reply.Value = value
	return nil
}

// changed reports the result of a settings change and, if it succeeded, saves
// and broadcasts the new settings.
func (c *DeviceControl) changed(reply *Reply, op string, args any, err error) error {
	if err != nil {
		log.Printf("%s(%+v) rejected: %v\n", op, args, err)
		return c.respond(reply, nil, err)
	}
	c.db.RecordSetting(&devsimdb.SettingMessage{Time: time.Now(), Operation: op, Detail: fmt.Sprintf("%+v", args)})
	c.saveSettings()
	return c.respond(reply, nil, nil)
}

func (c *DeviceControl) saveSettings() {
	settings := c.sim.Snapshot()
	c.clientUpdates <- ClientUpdate{"SETTINGS", settings}
	if c.viper == nil {
		return
	}
	c.saveLock.Lock()
	defer c.saveLock.Unlock()
	if err := SaveConfig(c.viper, ConfigKey, settings); err != nil {
		ProblemLogger.Printf("could not save settings: %v", err)
	}
}

func (c *DeviceControl) broadcastStatus() {
	c.clientUpdates <- ClientUpdate{"STATUS", ServerStatus{
		Running:       c.sim.Running(),
		State:         c.sim.GetState().String(),
		Passes:        c.sim.Passes(),
		CycleInterval: c.sim.CycleInterval().Seconds(),
		Recording:     c.sim.Recorder().IsActive(),
		Version:       Build.Version,
		StartTime:     StartTime,
	}}
}

func (c *DeviceControl) broadcastWritingState() {
	c.clientUpdates <- ClientUpdate{"WRITING", c.sim.Recorder().ComputeState()}
}

// seconds converts a time in seconds from a client, rejecting values that do
// not fit a time.Duration.
func seconds(op string, s float64) (time.Duration, error) {
	if !finite(s) || s > float64(1<<62)/1e9 || s < -float64(1<<62)/1e9 {
		return 0, paramError(op, "time", s)
	}
	return time.Duration(s * float64(time.Second)), nil
}

// unmarshalName parses a NameArgs name into one of the enumerated types.
func unmarshalName[T any, PT interface {
	*T
	UnmarshalText([]byte) error
}](op string, args *NameArgs) (T, error) {
	var v T
	if err := PT(&v).UnmarshalText([]byte(args.Name)); err != nil {
		return v, paramError(op, "name", args.Name)
	}
	return v, nil
}

// Start starts the simulation.
func (c *DeviceControl) Start(dummy *string, reply *Reply) error {
	log.Printf("Starting the simulator\n")
	err := c.sim.Start()
	if err == nil {
		c.db.RecordSetting(&devsimdb.SettingMessage{Time: time.Now(), Operation: "Start"})
	}
	c.broadcastStatus()
	return c.respond(reply, nil, err)
}

// Stop stops the simulation.
func (c *DeviceControl) Stop(dummy *string, reply *Reply) error {
	log.Printf("Stopping the simulator\n")
	err := c.sim.Stop()
	if err == nil {
		c.db.RecordSetting(&devsimdb.SettingMessage{Time: time.Now(), Operation: "Stop"})
	}
	c.broadcastStatus()
	return c.respond(reply, nil, err)
}

// SetCycleInterval sets the interval of the main simulation cycle.
func (c *DeviceControl) SetCycleInterval(args *SecondsArgs, reply *Reply) error {
	d, err := seconds("SetCycleInterval", args.Seconds)
	if err == nil {
		err = c.sim.SetCycleInterval(d)
	}
	return c.changed(reply, "SetCycleInterval", args, err)
}

// CycleInterval returns the interval of the main simulation cycle in seconds.
func (c *DeviceControl) CycleInterval(dummy *string, reply *Reply) error {
	return c.respond(reply, c.sim.CycleInterval().Seconds(), nil)
}

// SetInputSource selects EXT_IN or CYCLIC as the source of an input channel.
func (c *DeviceControl) SetInputSource(args *NameArgs, reply *Reply) error {
	src, err := unmarshalName[SourceSelect]("SetInputSource", args)
	if err == nil {
		err = c.sim.SetInputSource(InputChannel(args.Channel), src)
	}
	return c.changed(reply, "SetInputSource", args, err)
}

// InputSource returns the name of an input channel's source.
func (c *DeviceControl) InputSource(args *ChannelArgs, reply *Reply) error {
	src, err := c.sim.InputSource(InputChannel(args.Channel))
	return c.respond(reply, src.String(), err)
}

// SetTriggerMode sets the trigger mode of an input channel.
func (c *DeviceControl) SetTriggerMode(args *NameArgs, reply *Reply) error {
	mode, err := unmarshalName[TriggerMode]("SetTriggerMode", args)
	if err == nil {
		err = c.sim.SetTriggerMode(InputChannel(args.Channel), mode)
	}
	return c.changed(reply, "SetTriggerMode", args, err)
}

// TriggerMode returns the name of an input channel's trigger mode.
func (c *DeviceControl) TriggerMode(args *ChannelArgs, reply *Reply) error {
	mode, err := c.sim.TriggerMode(InputChannel(args.Channel))
	return c.respond(reply, mode.String(), err)
}

// SetCyclicType sets the waveform of an input channel's generator.
func (c *DeviceControl) SetCyclicType(args *NameArgs, reply *Reply) error {
	kind, err := unmarshalName[WaveformKind]("SetCyclicType", args)
	if err == nil {
		err = c.sim.SetCyclicType(InputChannel(args.Channel), kind)
	}
	return c.changed(reply, "SetCyclicType", args, err)
}

// CyclicType returns the name of an input channel's waveform.
func (c *DeviceControl) CyclicType(args *ChannelArgs, reply *Reply) error {
	kind, err := c.sim.CyclicType(InputChannel(args.Channel))
	return c.respond(reply, kind.String(), err)
}

// SetCyclicLevel sets the peak level of an input channel's waveform.
func (c *DeviceControl) SetCyclicLevel(args *ValueArgs, reply *Reply) error {
	err := c.sim.SetCyclicLevel(InputChannel(args.Channel), args.Value)
	return c.changed(reply, "SetCyclicLevel", args, err)
}

// CyclicLevel returns the peak level of an input channel's waveform.
func (c *DeviceControl) CyclicLevel(args *ChannelArgs, reply *Reply) error {
	level, err := c.sim.CyclicLevel(InputChannel(args.Channel))
	return c.respond(reply, level, err)
}

// SetCyclicRate sets the tick interval, in seconds, of an input channel's generator.
func (c *DeviceControl) SetCyclicRate(args *ValueArgs, reply *Reply) error {
	d, err := seconds("SetCyclicRate", args.Value)
	if err == nil {
		err = c.sim.SetCyclicRate(InputChannel(args.Channel), d)
	}
	return c.changed(reply, "SetCyclicRate", args, err)
}

// CyclicRate returns the tick interval, in seconds, of an input channel's generator.
func (c *DeviceControl) CyclicRate(args *ChannelArgs, reply *Reply) error {
	d, err := c.sim.CyclicRate(InputChannel(args.Channel))
	return c.respond(reply, d.Seconds(), err)
}

// SetCyclicOffset sets the sine offset of an input channel's waveform.
func (c *DeviceControl) SetCyclicOffset(args *ValueArgs, reply *Reply) error {
	err := c.sim.SetCyclicOffset(InputChannel(args.Channel), args.Value)
	return c.changed(reply, "SetCyclicOffset", args, err)
}

// CyclicOffset returns the sine offset of an input channel's waveform.
func (c *DeviceControl) CyclicOffset(args *ChannelArgs, reply *Reply) error {
	offset, err := c.sim.CyclicOffset(InputChannel(args.Channel))
	return c.respond(reply, offset, err)
}

// SetTransform installs a named transform on an input channel. An empty name
// removes the transform.
func (c *DeviceControl) SetTransform(args *NameArgs, reply *Reply) error {
	var err error
	if args.Name == "" {
		err = c.sim.ClearTransform(InputChannel(args.Channel))
	} else {
		err = c.sim.SetNamedTransform(InputChannel(args.Channel), args.Name)
	}
	return c.changed(reply, "SetTransform", args, err)
}

// Transform returns the name of an input channel's transform, "" for none.
func (c *DeviceControl) Transform(args *ChannelArgs, reply *Reply) error {
	name, err := c.sim.Transform(InputChannel(args.Channel))
	return c.respond(reply, name, err)
}

// SetOutputSource selects the input channel or file source feeding an output.
func (c *DeviceControl) SetOutputSource(args *NameArgs, reply *Reply) error {
	src, err := unmarshalName[MuxSource]("SetOutputSource", args)
	if err == nil {
		err = c.sim.SetOutputSource(OutputChannel(args.Channel), src)
	}
	return c.changed(reply, "SetOutputSource", args, err)
}

// OutputSource returns the name of the source feeding an output.
func (c *DeviceControl) OutputSource(args *ChannelArgs, reply *Reply) error {
	src, err := c.sim.OutputSource(OutputChannel(args.Channel))
	return c.respond(reply, src.String(), err)
}

// SetOutputScale sets the scale factor of an output.
func (c *DeviceControl) SetOutputScale(args *ValueArgs, reply *Reply) error {
	err := c.sim.SetOutputScale(OutputChannel(args.Channel), args.Value)
	return c.changed(reply, "SetOutputScale", args, err)
}

// OutputScale returns the scale factor of an output.
func (c *DeviceControl) OutputScale(args *ChannelArgs, reply *Reply) error {
	scale, err := c.sim.OutputScale(OutputChannel(args.Channel))
	return c.respond(reply, scale, err)
}

// SetNoiseScale sets the noise amplitude of an output.
func (c *DeviceControl) SetNoiseScale(args *ValueArgs, reply *Reply) error {
	err := c.sim.SetNoiseScale(OutputChannel(args.Channel), args.Value)
	return c.changed(reply, "SetNoiseScale", args, err)
}

// NoiseScale returns the noise amplitude of an output.
func (c *DeviceControl) NoiseScale(args *ChannelArgs, reply *Reply) error {
	noise, err := c.sim.NoiseScale(OutputChannel(args.Channel))
	return c.respond(reply, noise, err)
}

// BindFile binds a data file to a file source.
func (c *DeviceControl) BindFile(args *BindFileArgs, reply *Reply) error {
	err := c.sim.BindFile(FileSourceID(args.File), args.Path, args.Recycle)
	return c.changed(reply, "BindFile", args, err)
}

// UnbindFile releases the data file of a file source.
func (c *DeviceControl) UnbindFile(args *ChannelArgs, reply *Reply) error {
	err := c.sim.UnbindFile(FileSourceID(args.Channel))
	return c.changed(reply, "UnbindFile", args, err)
}

// PushInput writes a value to an input channel.
func (c *DeviceControl) PushInput(args *ValueArgs, reply *Reply) error {
	return c.respond(reply, nil, c.sim.PushInput(InputChannel(args.Channel), args.Value))
}

// PostTrigger posts a trigger event to an input channel.
func (c *DeviceControl) PostTrigger(args *ChannelArgs, reply *Reply) error {
	return c.respond(reply, nil, c.sim.PostTrigger(InputChannel(args.Channel)))
}

// ReadOutput reads an output channel. The Value of a successful reply is the
// output value.
func (c *DeviceControl) ReadOutput(args *ReadArgs, reply *Reply) error {
	timeout, err := seconds("ReadOutput", args.Timeout)
	if err != nil {
		return c.respond(reply, nil, err)
	}
	value, err := c.sim.ReadOutput(OutputChannel(args.Channel), args.Blocking, timeout)
	return c.respond(reply, value, err)
}

// WriteControl starts, stops, pauses or unpauses recording of the outputs.
func (c *DeviceControl) WriteControl(config *WriteControlConfig, reply *Reply) error {
	err := c.sim.WriteControl(config)
	c.broadcastWritingState()
	return c.respond(reply, nil, err)
}

// GetSettings returns every setting, as stored in the config file.
func (c *DeviceControl) GetSettings(dummy *string, reply *Reply) error {
	return c.respond(reply, c.sim.Snapshot(), nil)
}

// Configure applies a complete set of settings. Rejected settings are left
// unchanged and reported in the reply; the others are applied.
func (c *DeviceControl) Configure(cfg *Config, reply *Reply) error {
	return c.changed(reply, "Configure", "settings", c.sim.Configure(*cfg))
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (c *DeviceControl) SendAllStatus(dummy *string, reply *Reply) error {
	c.broadcastStatus()
	c.broadcastWritingState()
	c.clientUpdates <- ClientUpdate{"SETTINGS", c.sim.Snapshot()}
	return c.respond(reply, nil, nil)
}

// ServerOptions holds the optional parts of an RPC server.
type ServerOptions struct {
	Viper     *viper.Viper           // where settings are saved; nil for no saving
	DB        *devsimdb.DBConnection // where activity is logged; nil for none
	Heartbeat time.Duration          // interval of ALIVE messages; 0 means 2 seconds
}

// RunRPCServer sets up and runs a permanent JSON-RPC server controlling sim,
// together with the client updater on Ports.Status and the output publisher on
// Ports.Outputs. If block, it will block until Ctrl-C and gracefully shut down.
// Otherwise it returns once the server is listening.
func RunRPCServer(sim *Simulator, portrpc int, block bool, opts ServerOptions) error {
	abort := make(chan struct{})
	var background sync.WaitGroup
	updates := unboundedchan.NewUnboundedChannel[ClientUpdate]()
	background.Add(1)
	go func() {
		defer background.Done()
		if err := RunClientUpdater(updates.Out(), Ports.Status, abort); err != nil {
			ProblemLogger.Printf("client updater failed: %v", err)
			discardUpdates(updates.Out(), abort)
		}
	}()

	// Set up objects to handle remote calls
	control := NewDeviceControl(sim, updates.In(), opts.Viper, opts.DB)
	sim.Recorder().SetDatabase(opts.DB)
	publisher, err := NewOutputPublisher(Ports.Outputs)
	if err != nil {
		ProblemLogger.Printf("outputs will not be published: %v", err)
	} else {
		sim.AddOutputSink(publisher)
	}
	closePublisher := func() {
		if publisher != nil {
			sim.RemoveOutputSink(publisher)
			publisher.Close()
		}
	}
	if opts.Viper != nil {
		log.Printf("devsim is using config file %s\n", opts.Viper.ConfigFileUsed())
	}

	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}
	background.Add(1)
	go func() {
		defer background.Done()
		runHeartbeats(sim, updates.In(), heartbeat, abort)
	}()

	// Now launch the connection handler and accept connections.
	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		closePublisher()
		close(abort)
		return err
	}
	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		closePublisher()
		close(abort)
		return fmt.Errorf("listen error: %w", err)
	}
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()
	control.broadcastStatus()
	if !block {
		return nil
	}

	// Handle Ctrl-C
	interruptCatcher := make(chan os.Signal, 1)
	signal.Notify(interruptCatcher, os.Interrupt)
	<-interruptCatcher
	signal.Stop(interruptCatcher)
	log.Printf("Interrupt received; shutting down\n")

	listener.Close()
	<-acceptDone
	if sim.Running() {
		if err := sim.Stop(); err != nil {
			ProblemLogger.Printf("stopping the simulator: %v", err)
		}
	}
	if err := sim.Recorder().Stop(); err != nil {
		ProblemLogger.Printf("stopping the recorder: %v", err)
	}
	closePublisher()
	close(abort)
	background.Wait()
	return nil
}
