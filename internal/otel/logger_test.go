package otel

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEmitWritesValidJSONL(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Mask("page.html", "inception", 0.81)
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["kind"] != "mask.applied" {
		t.Errorf("kind = %v", decoded["kind"])
	}
	if decoded["title_id"] != "inception" || decoded["doc"] != "page.html" {
		t.Errorf("decoded = %v", decoded)
	}
	if decoded["confidence"] != 0.81 {
		t.Errorf("confidence = %v", decoded["confidence"])
	}
}

func TestEmitSetsTimeAndSessionID(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	before := time.Now()
	l.Emit(Event{Kind: KindStartup})
	l.Close()
	after := time.Now()

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Time.Before(before) || ev.Time.After(after) {
		t.Errorf("time %v not in [%v, %v]", ev.Time, before, after)
	}
	if len(ev.SessionID) != 16 || ev.SessionID != l.SessionID() {
		t.Errorf("session_id = %q", ev.SessionID)
	}
}

func TestDurToMs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindScanComplete, Dur: 1500 * time.Millisecond})
	l.Close()

	var decoded map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if durMs, _ := decoded["dur_ms"].(float64); durMs != 1500 {
		t.Errorf("dur_ms = %v, want 1500", decoded["dur_ms"])
	}
}

func TestOmitempty(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Emit(Event{Kind: KindStartup})
	l.Close()

	line := strings.TrimSpace(buf.String())
	for _, field := range []string{"dur_ms", "count", "doc", "title_id", "confidence", "version", "err", "msg", "extra"} {
		if strings.Contains(line, `"`+field+`"`) {
			t.Errorf("field %q should be omitted: %s", field, line)
		}
	}
}

func TestConcurrentEmit(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Emit(Event{Kind: KindScanStart, Comp: "test"})
		}()
	}
	wg.Wait()
	l.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 lines, got %d", len(lines))
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Emit(Event{Kind: KindStartup})
	l.Mask("", "x", 1)
	l.Close()
}

func TestCloseIdempotentAndDropsLateEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Info(KindStartup, "main", "start")
	l.Close()
	l.Close()
	l.Emit(Event{Kind: KindShutdown})

	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("lines = %d, want 1", n)
	}
	if l.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", l.Dropped())
	}
}

func TestDropCounter(t *testing.T) {
	bw := &blockingWriter{
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	l := NewLogger(bw)

	l.Emit(Event{Kind: KindScanStart})
	<-bw.started

	for i := 0; i < writerChanSize+10; i++ {
		l.Emit(Event{Kind: KindScanStart})
	}
	if l.Dropped() == 0 {
		t.Error("expected drops when the channel is full")
	}

	close(bw.block)
	l.Close()
}

type blockingWriter struct {
	started chan struct{}
	block   chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() {
		close(w.started)
		<-w.block
	})
	return len(p), nil
}

func TestConvenienceHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Info(KindStartup, "main", "starting")
	l.Warn(KindSemanticDisabled, "session", "embedder down")
	l.Error(KindEmbedError, "enrich", errForTest("timeout"))
	l.Close()

	events, bad, err := ReadEvents(&buf, Filter{})
	if err != nil || bad != 0 {
		t.Fatalf("ReadEvents: %v (bad=%d)", err, bad)
	}
	want := []struct {
		level Level
		kind  EventKind
		comp  string
	}{
		{LevelInfo, KindStartup, "main"},
		{LevelWarn, KindSemanticDisabled, "session"},
		{LevelError, KindEmbedError, "enrich"},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %d", len(events))
	}
	for i, w := range want {
		e := events[i]
		if e.Level != w.level || e.Kind != w.kind || e.Comp != w.comp {
			t.Errorf("event %d = %+v", i, e)
		}
	}
	if events[2].Err != "timeout" {
		t.Errorf("err = %q", events[2].Err)
	}
}

type errForTest string

func (e errForTest) Error() string { return string(e) }

func TestRingBufferFedByDrain(t *testing.T) {
	l := NewNullLogger()
	rb := NewRingBuffer(4)
	l.SetRingBuffer(rb)

	for i := 0; i < 6; i++ {
		l.Emit(Event{Kind: KindMaskApplied, Count: i})
	}
	l.Close()

	last := rb.Last(10)
	if len(last) != 4 || last[0].Count != 2 || last[3].Count != 5 {
		t.Errorf("ring = %+v", last)
	}
}

func TestOpenLogger(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenLogger(dir)
	if err != nil {
		t.Fatal(err)
	}
	l.Info(KindStartup, "main", "hello")
	l.Close()

	data, err := os.ReadFile(EventsPath(dir, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"sys.startup"`) {
		t.Errorf("file = %s", data)
	}
}
