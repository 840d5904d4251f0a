// Package enrich turns title plots into embedded reference sentences for
// the semantic layer. It runs off the session loop and talks to it only
// through registry snapshots.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/logging"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/segment"
)

const (
	maxConcurrentTitles = 4
	titleTimeout        = 60 * time.Second

	// Plot sentences are often short ("Cobb dies."), so the floor is lower
	// than the page segmenter's.
	referenceMinLength = 12
)

// Enricher embeds reference sentences for registry titles.
type Enricher struct {
	reg      *registry.Registry
	embedder embed.Embedder
	events   *otel.Logger
	seg      segment.Segmenter
	logger   *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates an enricher. A nil embedder makes every call a no-op.
func New(reg *registry.Registry, e embed.Embedder, events *otel.Logger) *Enricher {
	return &Enricher{
		reg:      reg,
		embedder: e,
		events:   events,
		seg:      segment.Segmenter{MinLength: referenceMinLength},
		logger:   logging.WithPrefix("enrich"),
		inFlight: make(map[string]bool),
	}
}

// Pending returns the enabled titles that still need vectors.
func Pending(snap registry.Snapshot) []registry.TrackedTitle {
	var out []registry.TrackedTitle
	for _, t := range snap.Enabled() {
		if needsWork(t) {
			out = append(out, t)
		}
	}
	return out
}

func needsWork(t registry.TrackedTitle) bool {
	if len(t.References) == 0 {
		return t.Plot != ""
	}
	for _, r := range t.References {
		if len(r.Embedding) == 0 {
			return true
		}
	}
	return false
}

// References returns t's reference sentences, deriving them from the plot
// when none are set. Existing vectors are kept.
func (e *Enricher) References(t registry.TrackedTitle) []registry.Reference {
	if len(t.References) > 0 {
		out := make([]registry.Reference, len(t.References))
		copy(out, t.References)
		return out
	}
	var out []registry.Reference
	for _, s := range e.seg.Segment(t.Plot) {
		out = append(out, registry.Reference{Text: s.Text})
	}
	return out
}

// EnrichAll embeds every pending title of the current snapshot and returns
// how many titles were updated. Per-title failures are logged and skipped.
func (e *Enricher) EnrichAll(ctx context.Context) (int, error) {
	if e.embedder == nil || !e.embedder.Available() {
		return 0, nil
	}
	pending := Pending(e.reg.Snapshot())
	if len(pending) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentTitles)

	var mu sync.Mutex
	updated := 0
	for _, t := range pending {
		if !e.claim(t.ID) {
			continue
		}
		g.Go(func() error {
			defer e.release(t.ID)
			if ctx.Err() != nil {
				return nil
			}
			if err := e.enrichTitle(ctx, t); err != nil {
				e.logger.Warn("title failed", "title", t.ID, "error", err)
				e.events.Error(otel.KindEmbedError, "enrich", err)
				return nil // never fail the group; errors are per title
			}
			mu.Lock()
			updated++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return updated, ctx.Err()
}

func (e *Enricher) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[id] {
		return false
	}
	e.inFlight[id] = true
	return true
}

func (e *Enricher) release(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

func (e *Enricher) enrichTitle(ctx context.Context, t registry.TrackedTitle) error {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	refs := e.References(t)
	var idx []int
	var texts []string
	for i, r := range refs {
		if len(r.Embedding) == 0 {
			idx = append(idx, i)
			texts = append(texts, r.Text)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	start := time.Now()
	vecs, err := embed.EmbedAll(ctx, e.embedder, texts)
	if err != nil {
		return fmt.Errorf("enrich: embed %s: %w", t.ID, err)
	}
	for j, i := range idx {
		refs[i].Embedding = vecs[j]
	}
	if !e.reg.SetReferences(t.ID, refs) {
		return fmt.Errorf("enrich: title %s no longer registered", t.ID)
	}
	e.logger.Info("references embedded", "title", t.ID, "count", len(texts), "dur", time.Since(start))
	e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindEmbedBatch, Comp: "enrich",
		TitleID: t.ID, Count: len(texts), Dur: time.Since(start)})
	return nil
}

// Run enriches on start and after every registry change until ctx is done.
// Its own SetReferences updates come back as snapshots with nothing pending.
func (e *Enricher) Run(ctx context.Context) {
	if e.embedder == nil {
		return
	}
	updates, unsubscribe := e.reg.Subscribe()
	defer unsubscribe()

	e.EnrichAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if len(Pending(snap)) > 0 {
				e.EnrichAll(ctx)
			}
		}
	}
}
