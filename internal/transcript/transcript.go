// Package transcript writes game conversations as NDJSON files.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/gatekeeper/internal/session"
)

const defaultQueueSize = 1000

// ConversationLogConfig controls where transcripts are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	Timestamp  string         `json:"timestamp"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopLogger struct{}

func (noopLogger) Log(ConversationLogEvent) {}
func (noopLogger) Close() error { return nil }

// fileLogger queues events and writes them from a single goroutine.
type fileLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewConversationLogger starts a transcript writer. A disabled config
// returns a logger that discards everything.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if cfg.GlobalPath == "" {
			return nil, errors.New("global conversation log path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &fileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues event without blocking. Events are dropped when the queue
// is full.
func (l *fileLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.dropped++
		if l.dropped == 1 || l.dropped%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", l.dropped)
		}
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("Failed to write conversation log",
				"user_id", event.UserID,
				"session_id", event.SessionID,
				"error", err,
			)
		}
	}
}

func (l *fileLogger) write(event ConversationLogEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')

	path := filepath.Join(l.cfg.Dir, pathSegment(event.UserID), pathSegment(event.SessionID)+".ndjson")
	if err := appendLine(path, line); err != nil {
		return err
	}
	if l.cfg.GlobalEnabled {
		return appendLine(l.cfg.GlobalPath, line)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write log file: %w", err)
	}
	return f.Close()
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// pathSegment maps an identifier to a single file name element.
func pathSegment(id string) string {
	id = strings.Trim(unsafePathChars.ReplaceAllString(id, "_"), ".")
	if id == "" {
		return "unknown"
	}
	return id
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// cleanForReadability strips escape sequences and control characters,
// keeping newlines and tabs.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		default:
			return r
		}
	}, s)
	return strings.TrimSpace(s)
}

// Observer returns a session observer that logs the player message and the
// gatekeeper reply of every turn.
func Observer(l ConversationLogger) session.Observer {
	return session.ObserverFunc(func(_ context.Context, rec session.TurnRecord) {
		ts := rec.StartedAt.UTC().Format(time.RFC3339Nano)

		l.Log(ConversationLogEvent{
			Timestamp:  ts,
			UserID:     rec.UserID,
			SessionID:  rec.SessionID,
			Channel:    "game",
			Direction:  "outbound",
			EventType:  "player_message",
			ContentRaw: rec.Utterance,
			Meta: map[string]any{
				"turn_id":    rec.ID,
				"breach":     rec.Signals.Breach,
				"thoughtful": rec.Signals.Thoughtful,
			},
		})

		meta := map[string]any{
			"turn_id":            rec.ID,
			"outcome":            rec.Outcome(),
			"provider":           rec.Provider,
			"latency_ms":         rec.CompletionTime.Milliseconds(),
			"conversation_depth": rec.Snapshot.ConversationDepth,
			"trust_level":        rec.Snapshot.TrustLevel,
			"revealed_chars":     rec.Snapshot.RevealedChars,
		}
		eventType := "gatekeeper_reply"
		if rec.Err != nil {
			eventType = "gatekeeper_error"
			meta["error"] = rec.Err.Error()
		}
		l.Log(ConversationLogEvent{
			Timestamp:  ts,
			UserID:     rec.UserID,
			SessionID:  rec.SessionID,
			Channel:    "game",
			Direction:  "inbound",
			EventType:  eventType,
			ContentRaw: rec.Reply,
			Meta:       meta,
		})
	})
}
