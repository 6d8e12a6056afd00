package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is a compact snapshot of one log line retained by the Hub.
type Record struct {
	Time      time.Time         `json:"time"`
	Level     string            `json:"level"`
	Component string            `json:"component,omitempty"`
	Message   string            `json:"message"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Hub retains a bounded ring of recent log records so the daemon can serve
// a log tail without touching files. Obtain a handler via Handler and tee it
// alongside the primary handler.
type Hub struct {
	mu       sync.Mutex
	records  []Record
	next     int
	full     bool
	capacity int
	level    slog.Level
}

// NewHub creates a hub retaining up to capacity records at info level and above.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Hub{
		records:  make([]Record, capacity),
		capacity: capacity,
		level:    slog.LevelInfo,
	}
}

// Handler returns a slog handler that appends records to the hub.
func (h *Hub) Handler() slog.Handler {
	return &hubHandler{hub: h}
}

// Records returns up to limit of the most recent records, oldest first.
// A non-positive limit returns everything retained.
func (h *Hub) Records(limit int) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []Record
	if h.full {
		ordered = make([]Record, 0, h.capacity)
		ordered = append(ordered, h.records[h.next:]...)
		ordered = append(ordered, h.records[:h.next]...)
	} else {
		ordered = append(ordered, h.records[:h.next]...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	out := make([]Record, len(ordered))
	copy(out, ordered)
	return out
}

func (h *Hub) append(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = rec
	h.next++
	if h.next == h.capacity {
		h.next = 0
		h.full = true
	}
}

type hubHandler struct {
	hub    *Hub
	attrs  []slog.Attr
	groups []string
}

func (h *hubHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.hub.level
}

func (h *hubHandler) Handle(_ context.Context, record slog.Record) error {
	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})

	rec := Record{
		Time:    timestamp.UTC(),
		Level:   levelLabel(record.Level),
		Message: record.Message,
	}
	for _, kv := range kvs {
		if kv.key == "" {
			continue
		}
		if kv.key == FieldComponent {
			if rec.Component == "" {
				rec.Component = attrString(kv.value)
			}
			continue
		}
		if rec.Attrs == nil {
			rec.Attrs = make(map[string]string, len(kvs))
		}
		rec.Attrs[kv.key] = attrString(kv.value)
	}

	h.hub.append(rec)
	return nil
}

func (h *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &hubHandler{hub: h.hub}
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	next.groups = append([]string(nil), h.groups...)
	return next
}

func (h *hubHandler) WithGroup(name string) slog.Handler {
	next := &hubHandler{hub: h.hub}
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	next.groups = append(append([]string(nil), h.groups...), name)
	return next
}
