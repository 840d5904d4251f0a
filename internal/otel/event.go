// Package otel records what the masking engine did as JSONL events.
//
// The Logger writes asynchronously through a buffered channel and a drain
// goroutine, so the event loop never blocks on disk. An optional RingBuffer
// keeps the most recent events in memory for the HTTP API.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind is "<subsystem>.<action>".
type EventKind string

const (
	KindScanStart    EventKind = "scan.start"
	KindScanComplete EventKind = "scan.complete"
	KindScanUnit     EventKind = "scan.unit" // trace only

	KindMaskApplied EventKind = "mask.applied"
	KindMaskRemoved EventKind = "mask.removed"

	KindSemanticDisabled EventKind = "semantic.disabled"
	KindEmbedBatch       EventKind = "embed.batch"
	KindEmbedError       EventKind = "embed.error"

	KindRegistryUpdate EventKind = "registry.update"
	KindSchedulerPause EventKind = "scheduler.pause"

	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is one JSONL line. Everything except Kind and Time is optional.
type Event struct {
	Time       time.Time      `json:"t"`
	Level      Level          `json:"level,omitempty"`
	Kind       EventKind      `json:"kind"`
	Comp       string         `json:"comp,omitempty"` // "session", "enrich", "server", "main"
	SessionID  string         `json:"session_id,omitempty"`
	Doc        string         `json:"doc,omitempty"` // file path or request id
	TitleID    string         `json:"title_id,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Dur        time.Duration  `json:"-"`
	DurMs      float64        `json:"dur_ms,omitempty"`
	Count      int            `json:"count,omitempty"`
	Version    uint64         `json:"version,omitempty"` // registry snapshot
	Err        string         `json:"err,omitempty"`
	Msg        string         `json:"msg,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// MarshalJSON converts Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
