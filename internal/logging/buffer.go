package logging

import (
	"container/ring"
	"encoding/json"
	"sync"
	"time"
)

// DefaultBufferSize is the number of log entries kept in memory.
const DefaultBufferSize = 2000

// Entry is one captured log event.
type Entry struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      string                 `json:"level"`
	Component  string                 `json:"component,omitempty"`
	Message    string                 `json:"message"`
	WorkItemID string                 `json:"work_item_id,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// Filter narrows Recent results. Zero values match everything.
type Filter struct {
	Level      string
	Component  string
	WorkItemID string
	Since      time.Time
	Limit      int
}

// Buffer is a zerolog writer that keeps the most recent events in a ring
// and fans them out to subscribers.
type Buffer struct {
	mu       sync.RWMutex
	ring     *ring.Ring
	size     int
	handlers []func(Entry)
}

// NewBuffer creates a buffer holding at most size entries.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{ring: ring.New(size), size: size}
}

// Write implements io.Writer for zerolog JSON output. Lines that are not
// JSON objects are kept as plain info messages.
func (b *Buffer) Write(p []byte) (int, error) {
	entry := parseEntry(p)

	b.mu.Lock()
	b.ring.Value = entry
	b.ring = b.ring.Next()
	handlers := append([]func(Entry){}, b.handlers...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(entry)
	}
	return len(p), nil
}

// AddHandler registers a handler called for each new entry.
func (b *Buffer) AddHandler(h func(Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Recent returns matching entries, newest first.
func (b *Buffer) Recent(f Filter) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > b.size {
		limit = 100
	}

	var all []Entry
	b.ring.Do(func(v interface{}) {
		e, ok := v.(Entry)
		if !ok || !f.matches(e) {
			return
		}
		all = append(all, e)
	})

	out := make([]Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.WorkItemID != "" && e.WorkItemID != f.WorkItemID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func parseEntry(p []byte) Entry {
	var raw map[string]interface{}
	if err := json.Unmarshal(p, &raw); err != nil {
		return Entry{Timestamp: time.Now().UTC(), Level: "info", Message: string(p)}
	}

	e := Entry{Timestamp: time.Now().UTC()}
	if v, ok := raw["time"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			e.Timestamp = ts
		}
	}
	e.Level = popString(raw, "level")
	e.Component = popString(raw, "cmp")
	e.Message = popString(raw, "message")
	e.WorkItemID = popString(raw, "work_item_id")
	delete(raw, "time")
	if len(raw) > 0 {
		e.Fields = raw
	}
	return e
}

func popString(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	delete(m, key)
	return v
}
