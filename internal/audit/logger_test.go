package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := NewLogger(Config{FilePath: path, BufferSize: 8})
	require.NoError(t, err)

	l.Record(Event{
		Type:      EventLoginSuccess,
		SubjectID: "m1",
		Role:      "manager",
		TenantID:  "t1",
		IP:        "10.0.0.1",
	})
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected one audit line")

	var ev Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	assert.Equal(t, EventLoginSuccess, ev.Type)
	assert.Equal(t, "m1", ev.SubjectID)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestRecordNeverBlocks(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l, err := NewLogger(Config{BufferSize: 1, Logger: zap.New(core)})
	require.NoError(t, err)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			l.Record(Event{Type: EventRateLimitExceeded})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked under backpressure")
	}

	// Dropping is warned once, not per event.
	assert.LessOrEqual(t, len(logs.FilterMessage("audit queue full, dropping events").All()), 1)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Record(Event{Type: EventLogout})
}
