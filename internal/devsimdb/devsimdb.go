// Package devsimdb records the activity of a devsim server in a ClickHouse database:
// when servers run, what they recorded, and which settings clients changed.
package devsimdb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Options says where the database server is.
type Options struct {
	Addr        string
	Database    string
	DialTimeout time.Duration
}

// DefaultOptions returns the options of a ClickHouse server on the local host.
func DefaultOptions() Options {
	return Options{
		Addr:        "localhost:9000",
		Database:    databaseName,
		DialTimeout: 5 * time.Second,
	}
}

// DBConnection is a connection to the database, plus the goroutine that
// serializes all inserts made through it.
type DBConnection struct {
	mu            sync.Mutex // guards conn and err
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	recordingmsg  chan *RecordingMessage
	settingmsg    chan *SettingMessage
	done          chan struct{} // closed when the handler exits
	running       bool
	sync.WaitGroup
}

const databaseName = "devsim" // official SQL name of the database

const timeLayout = "2006-01-02 15:04:05.000000"

// IsConnected tells whether db is usable. It is safe to call on a nil *DBConnection.
func (db *DBConnection) IsConnected() bool {
	if db == nil {
		return false
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn != nil && db.err == nil
}

// Err returns the error that disconnected db, if any.
func (db *DBConnection) Err() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.err
}

// PingServer checks that a database server answers at the given address.
func PingServer(opts Options) error {
	db := createDBConnection(opts)
	if db.err != nil {
		return db.err
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return nil
}

// StartDBConnection connects to the database, logs the start of activity, and
// handles insert requests until abort is closed. When the server cannot be
// reached, the returned connection is not connected and all Record calls do
// nothing; check Err for the reason.
func StartDBConnection(opts Options, activity *ActivityMessage, abort <-chan struct{}) *DBConnection {
	db := createDBConnection(opts)
	if !db.IsConnected() {
		return db
	}
	db.activityEntry = activity
	db.logActivity()
	db.running = true
	db.Add(1)
	go db.handleConnection(abort)
	return db
}

// DummyDBConnection returns a connection to nothing, for running without a database.
func DummyDBConnection() *DBConnection {
	return &DBConnection{}
}

func createDBConnection(opts Options) *DBConnection {
	db := &DBConnection{}
	auth := clickhouse.Auth{
		Database: opts.Database,
		Username: os.Getenv("DEVSIM_DB_USER"),
		Password: os.Getenv("DEVSIM_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "devsim", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:        []string{opts.Addr},
		Auth:        auth,
		ClientInfo:  client,
		DialTimeout: opts.DialTimeout,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn

	// Ping the server at the DB connection.
	ctx, cancel := context.WithTimeout(context.Background(), max(opts.DialTimeout, time.Second))
	defer cancel()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		conn.Close()
		db.err = err
		return db
	}

	db.recordingmsg = make(chan *RecordingMessage)
	db.settingmsg = make(chan *SettingMessage)
	db.done = make(chan struct{})
	return db
}

func (db *DBConnection) insert(table string, query string, args ...any) {
	db.mu.Lock()
	conn := db.conn
	ok := conn != nil && db.err == nil
	db.mu.Unlock()
	if !ok {
		return
	}
	const nowait = false
	if err := conn.AsyncInsert(context.Background(), query, nowait, args...); err != nil {
		fmt.Printf("Error raised on AsyncInsert into %s: %v\n", table, err)
		db.mu.Lock()
		db.err = err
		db.mu.Unlock()
	}
}

func (db *DBConnection) logActivity() {
	ae := db.activityEntry
	db.insert("devsimactivity", `INSERT INTO devsimactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, ae.CPUs, ae.Start.Format(timeLayout), ae.End.Format(timeLayout),
	)
}

func (db *DBConnection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	defer close(db.done)
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case rmsg := <-db.recordingmsg:
			db.handleRecordingMessage(rmsg)
		case smsg := <-db.settingmsg:
			db.handleSettingMessage(smsg)
		}
	}
}

// Disconnect logs the end of activity and closes the connection.
func (db *DBConnection) Disconnect() {
	if db.IsConnected() {
		db.activityEntry.End = time.Now()
		db.logActivity()
		db.mu.Lock()
		db.conn.Close()
		db.conn = nil
		db.mu.Unlock()
	}
}

// Wait blocks until the connection handler has exited after its abort
// channel closed. It returns at once for a connection that never started one.
func (db *DBConnection) Wait() {
	if db != nil && db.running {
		db.WaitGroup.Wait()
	}
}

// ActivityID returns the ID of the activity row for this connection, or "".
func (db *DBConnection) ActivityID() string {
	if db == nil || db.activityEntry == nil {
		return ""
	}
	return db.activityEntry.ID
}

// RecordRecording takes a RecordingMessage and stores it in the DB (if it's open).
// This function will block until the handler accepts the message, so that
// the start of a recording is entered before its end.
func (db *DBConnection) RecordRecording(msg *RecordingMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.ActivityID = db.ActivityID()
	select {
	case db.recordingmsg <- msg:
	case <-db.done:
	}
}

// FinishRecording stamps msg with its end time and stores it without waiting.
func (db *DBConnection) FinishRecording(msg *RecordingMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	msg.ActivityID = db.ActivityID()
	go db.RecordRecording(msg)
}

// RecordSetting stores one settings change without waiting.
func (db *DBConnection) RecordSetting(msg *SettingMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.ActivityID = db.ActivityID()
	go func() {
		select {
		case db.settingmsg <- msg:
		case <-db.done:
		}
	}()
}

func (db *DBConnection) handleRecordingMessage(m *RecordingMessage) {
	db.insert("recordings", `INSERT INTO recordings VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ActivityID, m.RunCode, m.Directory, m.TextFiles, m.NpyFile,
		m.CycleInterval, m.Passes, m.Start.Format(timeLayout), m.End.Format(timeLayout),
	)
}

func (db *DBConnection) handleSettingMessage(m *SettingMessage) {
	db.insert("settings", `INSERT INTO settings VALUES (?, ?, ?, ?)`,
		m.ActivityID, m.Time.Format(timeLayout), m.Operation, m.Detail,
	)
}
