package devsimdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDummyConnection(t *testing.T) {
	db := DummyDBConnection()
	assert.False(t, db.IsConnected())
	assert.NoError(t, db.Err())
	assert.Equal(t, "", db.ActivityID())

	// None of these may block or panic when there is no database.
	msg := &RecordingMessage{ID: "run", Start: time.Now()}
	db.RecordRecording(msg)
	db.FinishRecording(msg)
	assert.True(t, msg.End.IsZero(), "a disconnected db should not touch the message")
	db.RecordSetting(&SettingMessage{Operation: "SetOutputScale"})
	db.Disconnect()
	db.Wait()
}

func TestNilConnection(t *testing.T) {
	var db *DBConnection
	assert.False(t, db.IsConnected())
	assert.NoError(t, db.Err())
	assert.Equal(t, "", db.ActivityID())
	db.RecordRecording(&RecordingMessage{})
	db.FinishRecording(&RecordingMessage{})
	db.RecordSetting(&SettingMessage{})
	db.Wait()
}

func TestUnreachableServer(t *testing.T) {
	opts := DefaultOptions()
	opts.Addr = "127.0.0.1:1"
	opts.DialTimeout = 200 * time.Millisecond

	abort := make(chan struct{})
	defer close(abort)
	activity := &ActivityMessage{ID: "test", Start: time.Now()}
	db := StartDBConnection(opts, activity, abort)
	assert.False(t, db.IsConnected())
	assert.Error(t, db.Err())
	db.RecordSetting(&SettingMessage{Operation: "Start"})
	db.Wait()

	assert.Error(t, PingServer(opts))
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, "localhost:9000", opts.Addr)
	assert.Equal(t, databaseName, opts.Database)
	assert.Positive(t, opts.DialTimeout)
}
