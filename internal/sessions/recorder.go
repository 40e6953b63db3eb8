package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Entry is one recorded inbound message.
type Entry struct {
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"ts"`
}

// Recorder appends inbound messages to per-session transcript files and
// tracks the previous message timestamp per session for reply continuity.
type Recorder struct {
	dir string

	mu     sync.Mutex
	lastTs map[string]int64 // session key → last recorded timestamp
}

// NewRecorder creates a recorder writing under dir (one JSONL file per key).
func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir, lastTs: make(map[string]int64)}
}

// LastTimestamp returns the timestamp of the most recently recorded entry
// for the session, or 0 when none is known. Lazily restored from disk.
func (r *Recorder) LastTimestamp(key string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ts, ok := r.lastTs[key]; ok {
		return ts
	}
	ts := r.loadLastTimestamp(key)
	r.lastTs[key] = ts
	return ts
}

// Record appends one entry to the session transcript. The in-memory
// timestamp is advanced even when the disk write fails, so continuity
// metadata stays authoritative until the next successful persist.
func (r *Recorder) Record(key string, e Entry) error {
	r.mu.Lock()
	r.lastTs[key] = e.TimestampMs
	r.mu.Unlock()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}

	f, err := os.OpenFile(r.path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append session entry: %w", err)
	}
	return nil
}

func (r *Recorder) path(key string) string {
	// Session keys contain ':' which is unfriendly to some filesystems.
	safe := strings.ReplaceAll(key, ":", "_")
	return filepath.Join(r.dir, safe+".jsonl")
}

// loadLastTimestamp scans the transcript file for the final entry.
// Called with r.mu held.
func (r *Recorder) loadLastTimestamp(key string) int64 {
	data, err := os.ReadFile(r.path(key))
	if err != nil {
		return 0
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		var e Entry
		if json.Unmarshal([]byte(lines[i]), &e) == nil {
			return e.TimestampMs
		}
	}
	return 0
}
