package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/spoilerguard/internal/config"
	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/enrich"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/session"
	"github.com/abelbrown/spoilerguard/internal/stats"
)

// maskJob is one input file and its path relative to its pattern's base.
type maskJob struct {
	path string
	rel  string
}

// maskResult is the outcome of one file.
type maskResult struct {
	job    maskJob
	report session.ScanReport
	events []session.MaskEvent
	err    error
}

func runMask() {
	fs := flag.NewFlagSet("mask", flag.ExitOnError)
	titles := fs.String("titles", "", "Titles file (YAML or JSON); defaults to the config's titles_file")
	out := fs.String("out", "", "Write masked files under this directory, mirroring the input layout")
	inplace := fs.Bool("inplace", false, "Overwrite input files")
	mode := fs.String("mode", "", "Override detection mode: basic or semantic")
	record := fs.Bool("record", true, "Record mask counts in the stats database")
	quiet := fs.Bool("q", false, "Suppress the summary table")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: spoilerguard mask [flags] <glob>...")
		fmt.Fprintln(os.Stderr, "  Globs support ** (e.g. 'site/**/*.html'). With one input and")
		fmt.Fprintln(os.Stderr, "  neither -out nor -inplace, the masked page goes to stdout.")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	if *mode != "" {
		cfg.Detection.Mode = *mode
	}
	reg := loadRegistry(cfg, *titles)

	jobs, err := expandGlobs(fs.Args())
	if err != nil {
		fatalf("%v", err)
	}
	if len(jobs) == 0 {
		fatalf("no files match %v", fs.Args())
	}
	toStdout := *out == "" && !*inplace
	if toStdout && len(jobs) > 1 {
		fatalf("%d files matched; use -out or -inplace", len(jobs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events := openEvents()
	defer events.Close()

	emb := newEmbedder(cfg)
	if emb != nil {
		if n, err := enrich.New(reg, emb, events).EnrichAll(ctx); err == nil && n > 0 {
			fmt.Fprintf(os.Stderr, "embedded references for %d titles\n", n)
		}
	}

	var rec *stats.Recorder
	if *record {
		st := openStats(cfg)
		defer st.Close()
		rec = stats.NewRecorder(st)
		defer rec.Close()
	}

	writeOut := func(job maskJob, html []byte) error {
		switch {
		case toStdout:
			_, err := os.Stdout.Write(html)
			return err
		case *inplace:
			return os.WriteFile(job.path, html, 0644)
		default:
			dst := filepath.Join(*out, job.rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			return os.WriteFile(dst, html, 0644)
		}
	}

	results := maskAll(ctx, jobs, reg, cfg, emb, events, rec, writeOut)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.job.path, r.err)
		}
	}
	if !*quiet {
		fmt.Fprintln(os.Stderr, summaryTable(results))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// expandGlobs resolves doublestar patterns into unique files, sorted.
func expandGlobs(patterns []string) ([]maskJob, error) {
	seen := make(map[string]bool)
	var jobs []maskJob
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(p))
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			rel, err := filepath.Rel(filepath.FromSlash(base), m)
			if err != nil || rel == "." {
				rel = filepath.Base(m)
			}
			jobs = append(jobs, maskJob{path: m, rel: rel})
		}
	}
	slices.SortFunc(jobs, func(a, b maskJob) int { return strings.Compare(a.path, b.path) })
	return jobs, nil
}

// maskAll masks every job with bounded concurrency. Results keep job order.
func maskAll(ctx context.Context, jobs []maskJob, reg *registry.Registry, cfg *config.Config, emb embed.Embedder,
	events *otel.Logger, rec *stats.Recorder, write func(maskJob, []byte) error) []maskResult {
	results := make([]maskResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	var writeMu sync.Mutex
	for i, job := range jobs {
		g.Go(func() error {
			results[i].job = job
			if ctx.Err() != nil {
				results[i].err = ctx.Err()
				return nil
			}
			f, err := os.Open(job.path)
			if err != nil {
				results[i].err = err
				return nil
			}
			html, rep, evs, err := maskDocument(ctx, f, job.rel, reg, cfg, emb, events)
			f.Close()
			results[i].report, results[i].events = rep, evs
			if err != nil {
				results[i].err = err
				return nil
			}
			if rec != nil {
				for _, e := range evs {
					rec.Record(stats.Hit{TitleID: e.TitleID, Time: e.Time})
				}
			}
			writeMu.Lock()
			results[i].err = write(job, html)
			writeMu.Unlock()
			return nil // never fail the group; errors are per file
		})
	}
	_ = g.Wait()
	return results
}

// maskDocument runs one synchronous session over r and renders the result.
func maskDocument(ctx context.Context, r io.Reader, name string, reg *registry.Registry, cfg *config.Config,
	emb embed.Embedder, events *otel.Logger) ([]byte, session.ScanReport, []session.MaskEvent, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return nil, session.ScanReport{}, nil, err
	}
	var evs []session.MaskEvent
	sess := session.New(doc, reg, session.Options{
		Config:   cfg,
		Embedder: emb,
		Events:   events,
		Name:     name,
		Notify:   func(e session.MaskEvent) { evs = append(evs, e) },
	})
	rep := sess.ScanOnce(ctx)

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return nil, rep, evs, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), rep, evs, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Padding(0, 1)
)

// summaryTable renders one row per file plus a totals row.
func summaryTable(results []maskResult) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("FILE", "UNITS", "SENTENCES", "MASKS", "TIME")

	var units, sents, masks int
	var dur time.Duration
	failed := map[int]bool{}
	for i, r := range results {
		if r.err != nil {
			failed[i] = true
			t.Row(r.job.rel, "-", "-", "-", "error")
			continue
		}
		units += r.report.Units
		sents += r.report.Sentences
		masks += r.report.Masks
		dur += r.report.Dur
		t.Row(r.job.rel, fmt.Sprint(r.report.Units), fmt.Sprint(r.report.Sentences), fmt.Sprint(r.report.Masks),
			r.report.Dur.Round(time.Millisecond).String())
	}
	totalRow := len(results)
	t.Row(fmt.Sprintf("%d files", len(results)), fmt.Sprint(units), fmt.Sprint(sents), fmt.Sprint(masks),
		dur.Round(time.Millisecond).String())

	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle.Padding(0, 1)
		case failed[row]:
			return errStyle
		case row == totalRow:
			return dimStyle
		}
		return cellStyle
	})
	return t.Render()
}
