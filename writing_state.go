package devsim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/usnistgov/devsim/internal/asyncbufio"
	"github.com/usnistgov/devsim/internal/devsimdb"
	"github.com/usnistgov/devsim/internal/npyappend"
)

// WriteControlConfig object to control start/stop/pause of data writing
// Path and the Write* flags are used only by Start.
type WriteControlConfig struct {
	Request   string // "Start", "Stop", "Pause", "Unpause", or "Unpause label"
	Path      string // write in a new directory under this path
	WriteText bool   // one record file per output channel, readable as a file source
	WriteNpy  bool   // one .npy file of rows [unix seconds, out1..out4]
}

// WritingState monitors the state of file writing.
type WritingState struct {
	Active                       bool
	Paused                       bool
	BasePath                     string
	FilenamePattern              string
	RunID                        string
	TextFilenames                []string
	NpyFilename                  string
	ExperimentStateFilename      string
	ExperimentStateLabel         string
	ExperimentStateLabelUnixNano int64
	PassesWritten                int
}

// Recorder is an OutputSink that writes every output pass to files while
// writing is active.
type Recorder struct {
	sim                 *Simulator
	state               WritingState
	experimentStateFile *os.File
	textFiles           []*os.File
	textWriters         []*asyncbufio.Writer
	npy                 *npyappend.NpyAppender[float64]
	db                  *devsimdb.DBConnection
	dbmsg               *devsimdb.RecordingMessage
	create              func(name string) (*os.File, error) // opens the text and state files
	sync.Mutex
}

// Recorded text files are flushed at least this often.
const recorderFlushInterval = time.Second

// NewRecorder creates an inactive Recorder for the outputs of sim.
func NewRecorder(sim *Simulator) *Recorder {
	return &Recorder{sim: sim, create: os.Create}
}

// SetDatabase makes the Recorder log its recordings to db. A nil db turns that off.
func (r *Recorder) SetDatabase(db *devsimdb.DBConnection) {
	r.Lock()
	defer r.Unlock()
	r.db = db
}

// IsActive will return the Active state, with proper locking
func (r *Recorder) IsActive() bool {
	r.Lock()
	defer r.Unlock()
	return r.state.Active
}

// ComputeState will return a property-by-property copy of the WritingState.
func (r *Recorder) ComputeState() WritingState {
	r.Lock()
	defer r.Unlock()
	state := r.state
	state.TextFilenames = append([]string(nil), r.state.TextFilenames...)
	return state
}

// WriteControl changes the data writing start/stop/pause/unpause state
func (r *Recorder) WriteControl(config *WriteControlConfig) error {
	requestStr := strings.ToUpper(config.Request)
	switch {
	case strings.HasPrefix(requestStr, "PAUSE"):
		r.Lock()
		defer r.Unlock()
		r.state.Paused = r.state.Active

	case strings.HasPrefix(requestStr, "UNPAUSE"):
		r.Lock()
		defer r.Unlock()
		if len(config.Request) > 7 {
			// validate format of command "UNPAUSE label"
			if config.Request[7:8] != " " || len(config.Request) == 8 {
				return fmt.Errorf("request format invalid. got::\n%v\nwant someting like: \"UNPAUSE label\"", config.Request)
			}
			if !r.state.Active {
				return fmt.Errorf("cannot set experiment state label when writing is not active")
			}
			stateLabel := config.Request[8:]
			if err := r.setExperimentStateLabel(time.Now(), stateLabel); err != nil {
				return err
			}
		}
		r.state.Paused = false

	case strings.HasPrefix(requestStr, "STOP"):
		return r.Stop()

	case strings.HasPrefix(requestStr, "START"):
		return r.start(config)

	default:
		return fmt.Errorf("WriteControl config.Request=%q, must be one of (START,STOP,PAUSE,UNPAUSE). Not case sensitive. \"UNPAUSE label\" is also ok",
			config.Request)
	}
	return nil
}

// start handles the most complex case of WriteControl: starting to write.
// On failure no file stays open and the new run directory is removed.
func (r *Recorder) start(config *WriteControlConfig) (err error) {
	if !(config.WriteText || config.WriteNpy) {
		return fmt.Errorf("WriteText and WriteNpy both false")
	}
	r.Lock()
	defer r.Unlock()
	if r.state.Active {
		return fmt.Errorf("writing already in progress, stop writing before starting again")
	}

	path := r.state.BasePath
	if len(config.Path) > 0 {
		path = config.Path
	}
	filenamePattern, err := makeDirectory(path)
	if err != nil {
		return fmt.Errorf("could not make directory: %s", err.Error())
	}
	previous := r.state
	defer func() {
		if err != nil {
			r.closeFiles()
			r.state = previous
			if rmErr := os.RemoveAll(filepath.Dir(filenamePattern)); rmErr != nil {
				ProblemLogger.Printf("could not remove unused run directory: %v", rmErr)
			}
		}
	}()

	var settings Config
	if r.sim != nil {
		settings = r.sim.Snapshot()
	}
	state := WritingState{
		Active:                  true,
		BasePath:                path,
		FilenamePattern:         filenamePattern,
		RunID:                   ulid.Make().String(),
		ExperimentStateFilename: fmt.Sprintf(filenamePattern, "experiment_state", "txt"),
	}
	if config.WriteText {
		for ch := OutputChannel(0); ch < NumOutputs; ch++ {
			filename := fmt.Sprintf(filenamePattern, strings.ToLower(ch.String()), "txt")
			f, err := r.create(filename)
			if err != nil {
				return err
			}
			r.textFiles = append(r.textFiles, f)
			w := asyncbufio.NewWriter(f, 1000, recorderFlushInterval)
			r.textWriters = append(r.textWriters, w)
			state.TextFilenames = append(state.TextFilenames, filename)
			if _, err := w.WriteString(textHeader(state.RunID, ch, settings)); err != nil {
				return err
			}
		}
	}
	if config.WriteNpy {
		state.NpyFilename = fmt.Sprintf(filenamePattern, "outputs", "npy")
		r.npy, err = npyappend.NewNpyAppender[float64](state.NpyFilename, 1+NumOutputs)
		if err != nil {
			return err
		}
	}
	r.state = state
	if err = r.setExperimentStateLabel(time.Now(), "START"); err != nil {
		return err
	}

	r.dbmsg = &devsimdb.RecordingMessage{
		ID:            state.RunID,
		RunCode:       runCode(filenamePattern),
		Directory:     filepath.Dir(filenamePattern),
		TextFiles:     len(state.TextFilenames),
		NpyFile:       config.WriteNpy,
		CycleInterval: settings.CycleInterval.Seconds(),
		Start:         time.Now(),
	}
	r.db.RecordRecording(r.dbmsg)
	return nil
}

// Stop will set the WritingState to be completely stopped. Stopping when not
// active does nothing.
func (r *Recorder) Stop() error {
	r.Lock()
	defer r.Unlock()
	if !r.state.Active {
		return nil
	}
	var errs []error
	if err := r.setExperimentStateLabel(time.Now(), "STOP"); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, r.closeFiles())
	if r.dbmsg != nil {
		r.dbmsg.Passes = r.state.PassesWritten
		r.db.FinishRecording(r.dbmsg)
		r.dbmsg = nil
	}
	r.state = WritingState{BasePath: r.state.BasePath}
	return errors.Join(errs...)
}

// closeFiles flushes and closes every open output file.
func (r *Recorder) closeFiles() error {
	var errs []error
	for i, w := range r.textWriters {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s, err: %v", r.textFiles[i].Name(), err))
		}
	}
	for _, f := range r.textFiles {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.textWriters = nil
	r.textFiles = nil
	if r.npy != nil {
		if err := r.npy.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s, err: %v", r.npy.Filename(), err))
		}
		r.npy = nil
	}
	if r.experimentStateFile != nil {
		if err := r.experimentStateFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close experimentStatefile, err: %v", err))
		}
		r.experimentStateFile = nil
	}
	return errors.Join(errs...)
}

// PublishOutputs writes one output pass, unless writing is inactive or paused.
func (r *Recorder) PublishOutputs(pass *OutputPass) error {
	r.Lock()
	defer r.Unlock()
	if !r.state.Active || r.state.Paused {
		return nil
	}
	var errs []error
	for i, w := range r.textWriters {
		if _, err := w.WriteString(formatRecord(int(pass.Seq), pass.Time, pass.Values[i]) + "\n"); err != nil {
			errs = append(errs, fmt.Errorf("%v record %d: %w", OutputChannel(i), pass.Seq, err))
		}
	}
	if r.npy != nil {
		row := make([]float64, 0, 1+NumOutputs)
		row = append(row, float64(pass.Time.UnixNano())/1e9)
		row = append(row, pass.Values[:]...)
		if err := r.npy.Append(row...); err != nil {
			errs = append(errs, err)
		}
	}
	r.state.PassesWritten++
	return errors.Join(errs...)
}

// SetExperimentStateLabel writes to a file with name like XXX_experiment_state.txt
// This exported version locks the Recorder.
func (r *Recorder) SetExperimentStateLabel(timestamp time.Time, stateLabel string) error {
	r.Lock()
	defer r.Unlock()
	if !r.state.Active {
		return fmt.Errorf("cannot set experiment state label when writing is not active")
	}
	return r.setExperimentStateLabel(timestamp, stateLabel)
}

func (r *Recorder) setExperimentStateLabel(timestamp time.Time, stateLabel string) error {
	if r.experimentStateFile == nil {
		// create state file if neccesary
		var err error
		r.experimentStateFile, err = r.create(r.state.ExperimentStateFilename)
		if err != nil {
			return fmt.Errorf("%v, filename: <%v>", err, r.state.ExperimentStateFilename)
		}
		// write header
		if _, err := r.experimentStateFile.WriteString("# unix time in nanoseconds, state label\n"); err != nil {
			return err
		}
	}
	r.state.ExperimentStateLabel = stateLabel
	r.state.ExperimentStateLabelUnixNano = timestamp.UnixNano()
	_, err := fmt.Fprintf(r.experimentStateFile, "%v, %v\n", r.state.ExperimentStateLabelUnixNano, stateLabel)
	return err
}

// textHeader describes a recorded output channel in comment lines, which a
// FileSource skips when the recording is played back.
func textHeader(runID string, ch OutputChannel, settings Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# devsim %s recording of %v, run %s\n", Build.Version, ch, runID)
	if int(ch) < len(settings.Outputs) {
		out := settings.Outputs[ch]
		fmt.Fprintf(&b, "# source %v, scale %g, noise %g, cycle %v\n", out.Source, out.Scale, out.Noise, settings.CycleInterval)
	}
	b.WriteString("# seq date time value\n")
	return b.String()
}

// runCode extracts "YYYYMMDD_runNNNN" from a pattern made by makeDirectory.
func runCode(filenamePattern string) string {
	base := filepath.Base(filenamePattern)
	return strings.TrimSuffix(base, "_%s.%s")
}

// makeDirectory creates the directory basepath/YYYYMMDD/NNNN for the first
// unused NNNN, and returns a Printf pattern for the names of files in it.
// The pattern takes a file description and an extension.
func makeDirectory(basepath string) (string, error) {
	if len(basepath) == 0 {
		return "", fmt.Errorf("BasePath is the empty string")
	}
	today := time.Now().Format("20060102")
	todayDir := filepath.Join(basepath, today)
	if err := os.MkdirAll(todayDir, 0755); err != nil {
		return "", err
	}
	for i := 0; i < 10000; i++ {
		thisDir := filepath.Join(todayDir, fmt.Sprintf("%4.4d", i))
		_, err := os.Stat(thisDir)
		if os.IsNotExist(err) {
			if err2 := os.MkdirAll(thisDir, 0755); err2 != nil {
				return "", err2
			}
			return filepath.Join(thisDir, fmt.Sprintf("%s_run%4.4d_%%s.%%s", today, i)), nil
		}
	}
	return "", fmt.Errorf("out of 4-digit ID numbers for today in %s", todayDir)
}

// WriteControl changes the writing state of the simulator's output recorder.
func (s *Simulator) WriteControl(config *WriteControlConfig) error {
	return s.recorder.WriteControl(config)
}
