package otel

import (
	"bytes"
	"testing"
)

func TestTraceWritesScanUnitsOnlyWhenEnabled(t *testing.T) {
	restore := SetTrace(false)
	defer restore()

	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Trace(Event{Kind: KindScanUnit, Comp: "session", Doc: "quiet.html", Count: 3})

	SetTrace(true)
	l.Trace(Event{Level: LevelInfo, Kind: KindScanUnit, Comp: "session", Doc: "page.html", Count: 2})
	l.Close()

	evs, bad, err := ReadEvents(&buf, Filter{KindPrefix: "scan."})
	if err != nil || bad != 0 {
		t.Fatalf("ReadEvents: %v (%d bad)", err, bad)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events, want only the traced one: %+v", len(evs), evs)
	}
	if evs[0].Doc != "page.html" || evs[0].Count != 2 || evs[0].Level != LevelDebug {
		t.Errorf("event = %+v, want debug-level scan.unit for page.html", evs[0])
	}
}

func TestSetTraceRestores(t *testing.T) {
	orig := TraceEnabled()
	restore := SetTrace(!orig)
	if TraceEnabled() == orig {
		t.Fatal("SetTrace did not switch tracing")
	}
	restore()
	if TraceEnabled() != orig {
		t.Errorf("TraceEnabled() = %v after restore, want %v", TraceEnabled(), orig)
	}
}

func TestNilLoggerTraceIsSafe(t *testing.T) {
	defer SetTrace(true)()
	var l *Logger
	l.Trace(Event{Kind: KindScanUnit})
}
