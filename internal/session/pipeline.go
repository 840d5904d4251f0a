package session

import (
	"context"
	"time"

	"golang.org/x/net/html"

	"github.com/abelbrown/spoilerguard/internal/classify"
	"github.com/abelbrown/spoilerguard/internal/dom"
	"github.com/abelbrown/spoilerguard/internal/embed"
	"github.com/abelbrown/spoilerguard/internal/otel"
	"github.com/abelbrown/spoilerguard/internal/render"
	"github.com/abelbrown/spoilerguard/internal/scan"
	"github.com/abelbrown/spoilerguard/internal/segment"
)

// runScan is one Scanner -> Segmenter -> Classifier -> Renderer pass.
// full scans the whole body; otherwise only the minimal dirty subtrees.
// scheduled passes count toward the pause guard.
func (s *Session) runScan(ctx context.Context, full, scheduled bool) ScanReport {
	start := time.Now()
	s.disarm()
	s.setState(Scanning)
	s.midScan = false
	s.scans.Add(1)

	var roots []*html.Node
	if full || !s.started || s.rescanAll {
		roots = []*html.Node{s.doc.Body()}
		full = true
	} else {
		roots = s.minimalRoots(s.dirty)
	}
	s.dirty = nil
	s.started = true
	s.rescanAll = false

	rep := ScanReport{Full: full, Scheduled: scheduled, Roots: len(roots)}
	s.opts.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindScanStart, Comp: "session", Doc: s.opts.Name, Count: len(roots)})

	// Units are collected up front: the renderer and yielded host tasks
	// both change the tree while batches are processed.
	var units []scan.CandidateUnit
	if !s.index.Empty() {
		for _, root := range roots {
			for u := range s.scanner.Scan(root) {
				units = append(units, u)
			}
		}
	}

	batch := max(s.cfg.Scheduler.BatchSize, 1)
	for i := 0; i < len(units); i += batch {
		if ctx.Err() != nil {
			break
		}
		s.processBatch(ctx, units[i:min(i+batch, len(units))], &rep)
		s.yield()
	}

	// Our own writes are never observed; drop them so a session without
	// host tasks does not accumulate records.
	s.observe()
	rep.Dur = time.Since(start)
	s.finishScan(rep)
	return rep
}

// yield runs host tasks that queued up during a batch.
func (s *Session) yield() {
	for {
		select {
		case t := <-s.tasks:
			s.runTask(t)
		default:
			return
		}
	}
}

func (s *Session) finishScan(rep ScanReport) {
	s.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindScanComplete, Comp: "session", Doc: s.opts.Name,
		Dur: rep.Dur, Count: rep.Masks, Extra: map[string]any{"units": rep.Units, "sentences": rep.Sentences, "full": rep.Full}})
	s.logger.Debug("scan complete", "doc", s.opts.Name, "full", rep.Full, "units", rep.Units, "masks", rep.Masks, "dur", rep.Dur)
	if rep.Scheduled {
		if rep.Matches == 0 {
			s.emptyScans++
		} else {
			s.emptyScans = 0
		}
	}

	switch {
	case rep.Scheduled && s.emptyScans >= s.cfg.Scheduler.EmptyScans:
		s.setState(Paused)
		s.heldDirty = s.midScan || len(s.dirty) > 0
		s.dirty = nil
		s.opts.Events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindSchedulerPause, Comp: "session", Doc: s.opts.Name, Count: s.emptyScans})
	case s.midScan || len(s.dirty) > 0:
		s.firstDirty = time.Now()
		s.setState(ScanScheduled)
		s.arm(s.cfg.Scheduler.Debounce())
	default:
		s.setState(Idle)
	}
	s.midScan = false
	if s.opts.OnScan != nil {
		s.opts.OnScan(rep)
	}
}

// processBatch classifies and masks one batch of units.
func (s *Session) processBatch(ctx context.Context, units []scan.CandidateUnit, rep *ScanReport) {
	type work struct {
		unit      scan.CandidateUnit
		sentences []segment.Sentence
		vec       []int // index into texts per sentence, -1 when not embedded
	}
	var jobs []work
	var texts []string
	for _, u := range units {
		if !s.doc.Attached(u.Parent) || u.Current() != u.Text {
			continue
		}
		// One mask per unit; a masked unit is done.
		if dom.ContainsClass(u.Parent, render.MaskClass) {
			continue
		}
		if s.marks.Seen(u.Parent, u.Text) {
			continue
		}
		sents := s.seg.Segment(u.Text)
		j := work{unit: u, sentences: sents, vec: make([]int, len(sents))}
		for i, st := range sents {
			j.vec[i] = -1
			if s.classifier.Semantic() && s.classifier.NeedsEmbedding(classify.Input{Sentence: st, Context: u.Parent}, s.index) {
				j.vec[i] = len(texts)
				texts = append(texts, st.Text)
			}
		}
		jobs = append(jobs, j)
		rep.Units++
		rep.Sentences += len(sents)
		s.opts.Events.Trace(otel.Event{Kind: otel.KindScanUnit, Comp: "session", Doc: s.opts.Name, Count: len(sents)})
	}
	if len(jobs) == 0 {
		return
	}

	vecs := s.embed(ctx, texts)
	if vecs != nil {
		rep.Semantic = true
	}

	for _, j := range jobs {
		var matches []classify.Match
		for i, st := range j.sentences {
			in := classify.Input{Sentence: st, Context: j.unit.Parent}
			if vecs != nil && j.vec[i] >= 0 {
				in.Embedding = vecs[j.vec[i]]
			}
			if m, ok := s.classifier.Classify(in, s.index); ok {
				matches = append(matches, m)
			}
		}
		rep.Matches += len(matches)
		for _, a := range s.renderer.ApplyMasks(j.unit, matches) {
			rep.Masks++
			s.masked.Add(1)
			s.emitMask(a.Match)
		}
		s.marks.Mark(j.unit.Parent, j.unit.Text)
	}
}

// embed returns one vector per text, or nil when the semantic layer is
// unavailable. A failure disables the layer until the next snapshot.
func (s *Session) embed(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 || s.semanticOff || s.opts.Embedder == nil || !s.classifier.Semantic() || !s.index.HasSemantic() {
		return nil
	}
	ectx, cancel := context.WithTimeout(ctx, s.cfg.Detection.SemanticTimeout())
	defer cancel()

	start := time.Now()
	vecs, err := embed.EmbedAll(ectx, s.opts.Embedder, texts)
	if err != nil {
		s.semanticOff = true
		s.logger.Warn("semantic layer disabled", "doc", s.opts.Name, "error", err)
		s.opts.Events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindSemanticDisabled, Comp: "session", Doc: s.opts.Name, Err: err.Error()})
		return nil
	}
	s.opts.Events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindEmbedBatch, Comp: "session", Doc: s.opts.Name, Count: len(texts), Dur: time.Since(start)})
	return vecs
}

func (s *Session) emitMask(m classify.Match) {
	ev := MaskEvent{TitleID: m.TitleID, Confidence: m.Confidence, Time: time.Now()}
	s.opts.Events.Mask(s.opts.Name, ev.TitleID, ev.Confidence)
	if s.opts.Notify != nil {
		s.opts.Notify(ev)
	}
}

// minimalRoots drops detached nodes and nodes inside another root.
func (s *Session) minimalRoots(nodes []*html.Node) []*html.Node {
	body := s.doc.Body()
	var live []*html.Node
	seen := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		if n.Type == html.TextNode {
			n = n.Parent
		}
		if n == nil || seen[n] || !s.doc.Attached(n) {
			continue
		}
		seen[n] = true
		// Changes above the body (html, head) rescan the body.
		if !dom.Contains(body, n) {
			n = body
		}
		live = append(live, n)
	}
	var out []*html.Node
	for i, n := range live {
		covered := false
		for j, o := range live {
			if i != j && dom.Contains(o, n) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, n)
		}
	}
	return out
}
