// Package audit records security-relevant authentication events off the
// request path: logins, refreshes, blocked accounts, rate limiting.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tablefront/go-core/internal/metrics"
)

// EventType classifies an audit event.
type EventType string

const (
	EventLoginSuccess      EventType = "login_success"
	EventLoginFailure      EventType = "login_failure"
	EventTokenRefreshed    EventType = "token_refreshed"
	EventLogout            EventType = "logout"
	EventAccountBlocked    EventType = "account_blocked"
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
)

// Event is one audit record. SubjectID and TenantID may be empty for
// anonymous events.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SubjectID string    `json:"subject_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Path      string    `json:"path,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Config configures the audit logger.
type Config struct {
	// BufferSize is the event queue depth. Events beyond it are dropped
	// and counted, never blocking a request.
	BufferSize int

	// FilePath enables JSON-lines file output with rotation. Empty
	// writes through the zap logger only.
	FilePath   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int

	Logger  *zap.Logger
	Metrics *metrics.Core
}

// Logger consumes events asynchronously. Record never blocks the caller.
type Logger struct {
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	out     io.Writer
	closer  io.Closer
	zlog    *zap.Logger
	metrics *metrics.Core

	dropped sync.Once // warn once per process when dropping starts
}

// NewLogger creates and starts an audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	l := &Logger{
		events:  make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
		zlog:    cfg.Logger,
		metrics: cfg.Metrics,
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
		if cfg.MaxSizeMB <= 0 {
			cfg.MaxSizeMB = 100
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		l.out = rotator
		l.closer = rotator
	}

	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Record enqueues an event, stamping id and timestamp if unset. Drops
// under backpressure rather than blocking the request path.
func (l *Logger) Record(ev Event) {
	if l == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case l.events <- ev:
	default:
		l.metrics.AuditEventDropped()
		l.dropped.Do(func() {
			l.zlog.Warn("audit queue full, dropping events")
		})
	}
}

// Close drains outstanding events and stops the logger.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.events:
			l.write(ev)
		case <-l.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case ev := <-l.events:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(ev Event) {
	if l.out != nil {
		line, err := json.Marshal(ev)
		if err == nil {
			l.out.Write(append(line, '\n'))
		}
	}
	l.zlog.Info("audit event",
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("subject_id", ev.SubjectID),
		zap.String("role", ev.Role),
		zap.String("tenant_id", ev.TenantID),
		zap.String("ip", ev.IP),
		zap.String("path", ev.Path),
	)
}
