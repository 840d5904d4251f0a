// Package session runs the masking engine over one live document.
//
// A Session owns its document, the current registry snapshot and the
// processed-marks set, and touches them only from the goroutine running
// Run. Host-page changes arrive as tasks (Do), registry changes through a
// subscription, and user input through Interact. Mutation records written
// by the renderer carry OriginRenderer and never schedule a scan.
//
// Scheduler states:
//
//	Idle          -> ScanScheduled  host mutation (debounced, capped by MaxWait)
//	ScanScheduled -> Scanning       timer fires
//	Scanning      -> Idle           pipeline done
//	Scanning      -> ScanScheduled  host mutations arrived mid-scan
//	Scanning      -> Paused         EmptyScans scheduled scans in a row masked nothing
//	Paused        -> Idle           user interaction
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"github.com/abelbrown/spoilerguard/internal/classify"
	"github.com/abelbrown/spoilerguard/internal/config"
	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/logging"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/registry"
	"github.com/abelbrown/spoilerguard/internal/render"
	"github.com/abelbrown/spoilerguard/internal/scan"
	"github.com/abelbrown/spoilerguard/internal/segment"
)

// State is the scheduler state.
type State int32

const (
	Idle State = iota
	ScanScheduled
	Scanning
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ScanScheduled:
		return "scheduled"
	case Scanning:
		return "scanning"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// MaskEvent is emitted once per applied mask.
type MaskEvent struct {
	TitleID    string
	Confidence float64
	Time       time.Time
}

// ScanReport summarizes one pipeline pass.
type ScanReport struct {
	Full      bool
	Scheduled bool // timer-driven, counts toward the pause guard
	Roots     int
	Units     int // units classified (not skipped as already processed)
	Sentences int
	Matches   int
	Masks     int
	Semantic  bool // embeddings were used
	Dur       time.Duration
}

// Options wires optional collaborators.
type Options struct {
	Config   *config.Config
	Embedder embed.Embedder   // nil disables the semantic layer
	Events   *otel.Logger     // nil-safe
	Notify   func(MaskEvent)  // called on the loop goroutine; must not block
	OnScan   func(ScanReport) // called on the loop goroutine after every pass
	Name     string           // document label for events
}

type task struct {
	fn   func(*dom.Document)
	done chan struct{}
}

type interaction struct {
	node  *html.Node
	in    render.Interaction
	reply chan render.State
}

// Session is the per-document engine.
type Session struct {
	doc      *dom.Document
	reg      *registry.Registry
	opts     Options
	cfg      *config.Config
	scanner  *scan.Scanner
	renderer *render.Renderer
	marks    *dom.Marks
	seg      segment.Segmenter
	logger   *log.Logger

	tasks    chan task
	interact chan interaction
	state    atomic.Int32
	scans    atomic.Int64
	masked   atomic.Int64

	// Owned by the loop goroutine.
	snap        registry.Snapshot
	index       *classify.Index
	classifier  *classify.Classifier
	semanticOff bool
	suspended   bool // Settings.Enabled is false
	started     bool // first full scan done
	dirty       []*html.Node
	firstDirty  time.Time
	timer       *time.Timer
	timerC      <-chan time.Time
	emptyScans  int
	heldDirty   bool // mutations seen while paused; roots are not kept
	rescanAll   bool // next scheduled scan covers the whole body
	midScan     bool // host mutations arrived during the current scan
}

// New creates a session for doc. Run must be called to start it.
func New(doc *dom.Document, reg *registry.Registry, opts Options) *Session {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Session{
		doc:      doc,
		reg:      reg,
		opts:     opts,
		cfg:      cfg,
		scanner:  scan.New(cfg.Detection.MinNodeText, cfg.Detection.MinSentenceLength, cfg.Detection.HighlightTags),
		renderer: render.New(doc, render.RevealMode(cfg.Reveal.Mode)),
		marks:    dom.NewMarks(),
		seg:      segment.Segmenter{MinLength: cfg.Detection.MinSentenceLength},
		logger:   logging.WithPrefix("session"),
		tasks:    make(chan task),
		interact: make(chan interaction),
	}
	s.load(reg.Snapshot())
	return s
}

// State returns the scheduler state. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Scans returns how many pipeline passes ran.
func (s *Session) Scans() int64 { return s.scans.Load() }

// Masked returns how many masks the session applied.
func (s *Session) Masked() int64 { return s.masked.Load() }

// Renderer exposes the renderer, for callers that own the loop (ScanOnce).
func (s *Session) Renderer() *render.Renderer { return s.renderer }

// Run drives the event loop until ctx is done. The first pass scans the
// whole body.
func (s *Session) Run(ctx context.Context) error {
	updates, unsubscribe := s.reg.Subscribe()
	defer unsubscribe()
	defer s.disarm()

	// A change between New and Subscribe would otherwise be missed.
	if cur := s.reg.Snapshot(); cur.Version != s.snap.Version {
		s.onSnapshot(ctx, cur)
	} else if !s.suspended {
		s.runScan(ctx, true, true)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-s.tasks:
			s.runTask(t)
		case snap := <-updates:
			if snap.Version > s.snap.Version {
				s.onSnapshot(ctx, snap)
			}
		case in := <-s.interact:
			in.reply <- s.onInteract(in)
		case <-s.timerC:
			s.timerC = nil
			s.runScan(ctx, false, true)
		}
	}
}

// Do runs fn on the loop goroutine as host-page code and waits for it.
// Mutations fn makes through the document are observed afterwards.
func (s *Session) Do(ctx context.Context, fn func(*dom.Document)) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interact delivers user input. Any interaction resumes a paused
// scheduler; when node is inside a mask the renderer handles the reveal.
func (s *Session) Interact(ctx context.Context, node *html.Node, in render.Interaction) (render.State, error) {
	req := interaction{node: node, in: in, reply: make(chan render.State, 1)}
	select {
	case s.interact <- req:
	case <-ctx.Done():
		return render.StateMasked, ctx.Err()
	}
	select {
	case st := <-req.reply:
		return st, nil
	case <-ctx.Done():
		return render.StateMasked, ctx.Err()
	}
}

// ScanOnce runs one synchronous full pass on the caller's goroutine. It
// must not be used while Run is active.
func (s *Session) ScanOnce(ctx context.Context) ScanReport {
	if s.suspended {
		return ScanReport{Full: true}
	}
	return s.runScan(ctx, true, false)
}

func (s *Session) runTask(t task) {
	t.fn(s.doc)
	s.observe()
	close(t.done)
}

// observe drains mutation records and schedules on host changes.
func (s *Session) observe() {
	var roots []*html.Node
	for _, rec := range s.doc.TakeRecords() {
		if rec.Origin == dom.OriginRenderer {
			continue
		}
		switch rec.Kind {
		case dom.ChildList:
			roots = append(roots, rec.Target)
		case dom.CharacterData:
			if rec.Target.Parent != nil {
				roots = append(roots, rec.Target.Parent)
			}
		case dom.Attributes:
			// Class changes can expose text, e.g. a host removing our marker.
			if rec.Attr == "class" {
				roots = append(roots, rec.Target)
			}
		}
	}
	if len(roots) > 0 {
		s.onMutation(roots)
	}
}

func (s *Session) onMutation(roots []*html.Node) {
	if s.suspended {
		return
	}
	if s.State() == Paused {
		s.heldDirty = true
		return
	}
	s.dirty = append(s.dirty, roots...)

	switch s.State() {
	case Scanning:
		s.midScan = true
	case Idle:
		s.firstDirty = time.Now()
		s.setState(ScanScheduled)
		s.arm(s.cfg.Scheduler.Debounce())
	case ScanScheduled:
		// Re-arm, but never past MaxWait from the first mutation.
		left := s.cfg.Scheduler.MaxWait() - time.Since(s.firstDirty)
		if left > 0 {
			s.arm(min(s.cfg.Scheduler.Debounce(), left))
		}
	}
}

func (s *Session) onInteract(in interaction) render.State {
	st := render.StateMasked
	if mask := dom.ClosestWithClass(in.node, render.MaskClass); mask != nil {
		st = s.renderer.Interact(mask, in.in)
		s.observe()
	}
	if s.State() == Paused {
		s.emptyScans = 0
		s.setState(Idle)
		s.logger.Debug("resumed by interaction", "doc", s.opts.Name)
		if s.heldDirty {
			s.heldDirty = false
			s.rescanAll = true
			s.firstDirty = time.Now()
			s.setState(ScanScheduled)
			s.arm(s.cfg.Scheduler.Debounce())
		}
	}
	return st
}

func (s *Session) arm(d time.Duration) {
	if s.timer == nil {
		s.timer = time.NewTimer(d)
	} else {
		s.timer.Reset(d)
	}
	s.timerC = s.timer.C
}

func (s *Session) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerC = nil
}

// load installs snap as the working set without touching the document.
func (s *Session) load(snap registry.Snapshot) {
	s.snap = snap
	s.index = classify.NewIndex(snap)
	threshold := s.cfg.Detection.SimilarityThreshold
	if threshold <= 0 {
		threshold = config.SimilarityThreshold(snap.Settings.Sensitivity)
	}
	s.classifier = classify.New(classify.Options{
		Mode:              classify.Mode(s.cfg.Detection.Mode),
		MinSentenceLength: s.cfg.Detection.MinSentenceLength,
		ProximitySteps:    s.cfg.Detection.ProximitySteps,
		ProximityMention:  s.cfg.Detection.ProximityMention,
		RequireMention:    s.cfg.Detection.RequireMention,
		Blackout:          snap.Settings.Blackout,
		Threshold:         threshold,
	})
	s.semanticOff = false
	s.suspended = !snap.Settings.Enabled
}

// onSnapshot re-derives the working set from a new registry snapshot.
func (s *Session) onSnapshot(ctx context.Context, snap registry.Snapshot) {
	prev := s.snap
	s.load(snap)
	s.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindRegistryUpdate, Comp: "session",
		Doc: s.opts.Name, Version: snap.Version, Count: len(s.index.Titles())})

	s.disarm()
	s.dirty = nil
	s.emptyScans = 0
	s.heldDirty = false
	s.rescanAll = false
	s.midScan = false
	s.marks.Reset()

	if s.suspended {
		if n := s.renderer.RemoveAll(); n > 0 {
			s.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindMaskRemoved, Comp: "session", Doc: s.opts.Name, Count: n})
		}
		s.observe()
		s.setState(Idle)
		return
	}

	if withdrawn := registry.Withdrawn(prev, snap); len(withdrawn) > 0 {
		n := s.renderer.RemoveAllMasksFor(withdrawn)
		s.logger.Debug("targeted unmask", "doc", s.opts.Name, "titles", withdrawn, "removed", n)
		if n > 0 {
			s.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindMaskRemoved, Comp: "session",
				Doc: s.opts.Name, Count: n, Extra: map[string]any{"titles": withdrawn}})
		}
	}
	s.setState(Idle)
	s.runScan(ctx, true, false)
}
