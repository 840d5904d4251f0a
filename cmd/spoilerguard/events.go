package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abelbrown/spoilerguard/internal/otel"
)

func runEvents() {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	day := fs.String("day", "", "Day to read (YYYY-MM-DD); defaults to today")
	tail := fs.Int("tail", 50, "Number of recent events to show")
	kind := fs.String("kind", "", "Filter by event kind prefix (e.g. 'mask.')")
	level := fs.String("level", "", "Minimum level: debug, info, warn, error")
	title := fs.String("title", "", "Filter by title id")
	rawJSON := fs.Bool("json", false, "Output raw JSON lines")
	fs.Parse(os.Args[1:])

	at := time.Now()
	if *day != "" {
		parsed, err := time.ParseInLocation("2006-01-02", *day, time.Local)
		if err != nil {
			fatalf("bad -day %q: %v", *day, err)
		}
		at = parsed
	}

	path := otel.EventsPath(dataDir(), at)
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		fmt.Fprintf(os.Stderr, "  Event log not found at %s\n", path)
		fmt.Fprintf(os.Stderr, "  Run 'spoilerguard mask' or 'spoilerguard serve' first to generate events.\n")
		os.Exit(1)
	}
	defer f.Close()

	evs, bad, err := otel.ReadEvents(f, otel.Filter{KindPrefix: *kind, TitleID: *title, MinLevel: otel.Level(*level)})
	if err != nil {
		fatalf("%v", err)
	}
	if *tail > 0 && len(evs) > *tail {
		evs = evs[len(evs)-*tail:]
	}
	if err := printEvents(os.Stdout, evs, *rawJSON); err != nil {
		fatalf("%v", err)
	}
	if bad > 0 {
		fmt.Fprintf(os.Stderr, "(%d malformed lines skipped)\n", bad)
	}
}

func printEvents(w io.Writer, evs []otel.Event, raw bool) error {
	for _, ev := range evs {
		if raw {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
			continue
		}
		fmt.Fprintln(w, formatEvent(ev))
	}
	return nil
}

// formatEvent renders one event as a single human-readable line.
func formatEvent(ev otel.Event) string {
	lvl := strings.ToUpper(string(ev.Level))
	if lvl == "" {
		lvl = "?"
	}
	parts := []string{fmt.Sprintf("%s %-5s [%-7s] %-18s", ev.Time.Format("15:04:05.000"), lvl, ev.Comp, ev.Kind)}

	if ev.Msg != "" {
		parts = append(parts, ev.Msg)
	}
	if ev.Doc != "" {
		parts = append(parts, "doc="+ev.Doc)
	}
	if ev.TitleID != "" {
		parts = append(parts, fmt.Sprintf("title=%s conf=%.2f", ev.TitleID, ev.Confidence))
	}
	if ev.DurMs > 0 {
		parts = append(parts, fmt.Sprintf("(%.*fms)", durPrecision(ev.DurMs), ev.DurMs))
	}
	if ev.Count > 0 {
		parts = append(parts, fmt.Sprintf("n=%d", ev.Count))
	}
	if ev.Version > 0 {
		parts = append(parts, fmt.Sprintf("v=%d", ev.Version))
	}
	if ev.Err != "" {
		parts = append(parts, "err="+ev.Err)
	}
	return strings.Join(parts, " ")
}

// durPrecision returns decimal places for a duration in ms.
func durPrecision(ms float64) int {
	if ms < 10 {
		return 1
	}
	return 0
}
