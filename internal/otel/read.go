package otel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Filter selects events when reading a log back. Zero fields match all.
type Filter struct {
	KindPrefix string // e.g. "mask." or "scan.start"
	TitleID    string
	MinLevel   Level
}

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

func (f Filter) match(e Event) bool {
	if f.KindPrefix != "" && !strings.HasPrefix(string(e.Kind), f.KindPrefix) {
		return false
	}
	if f.TitleID != "" && e.TitleID != f.TitleID {
		return false
	}
	if f.MinLevel != "" && levelRank[e.Level] < levelRank[f.MinLevel] {
		return false
	}
	return true
}

// ReadEvents decodes a JSONL stream. Malformed lines are skipped and
// counted; only read errors are returned.
func ReadEvents(r io.Reader, f Filter) ([]Event, int, error) {
	var out []Event
	bad := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			bad++
			continue
		}
		if f.match(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return out, bad, fmt.Errorf("otel: read events: %w", err)
	}
	return out, bad, nil
}
