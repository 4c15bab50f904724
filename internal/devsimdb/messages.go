package devsimdb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the devsimactivity table: one row
// per run of the devsim server.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RecordingMessage is the information required to make an entry in the
// recordings table. It is sent once when a recording starts and again, with
// End and Passes filled in, when it stops.
type RecordingMessage struct {
	ID            string
	ActivityID    string
	RunCode       string // the YYYYMMDD_runNNNN part of the file names
	Directory     string
	TextFiles     int
	NpyFile       bool
	CycleInterval float64 // seconds
	Passes        int
	Start         time.Time
	End           time.Time
}

// SettingMessage is one accepted change to the simulator settings, for the
// settings table.
type SettingMessage struct {
	ActivityID string
	Time       time.Time
	Operation  string
	Detail     string
}
