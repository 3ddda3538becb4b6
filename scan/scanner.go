// Package scan walks a live timeline, fingerprints each post, and
// resolves verification badges against the authority.
//
// A pass is the unit of work: enumerate the posts currently mounted in
// the timeline, admit the ones never seen under their element identity,
// and resolve each admitted post's fingerprint concurrently. Admission
// is synchronous so a pass observes a consistent snapshot; resolution
// and badge rendering happen on goroutines so a slow authority never
// stalls enumeration.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verifily/vigil/badge"
	"github.com/verifily/vigil/fingerprint"
	"github.com/verifily/vigil/idgen"
	"github.com/verifily/vigil/scan/internal/extract"
	"github.com/verifily/vigil/scan/internal/ledger"
	"github.com/verifily/vigil/verify"
)

// ElementID identifies one live timeline element.
type ElementID = ledger.ElementID

// Post is one element currently mounted in the timeline.
type Post interface {
	badge.Surface
	// Element is the post's live node identity.
	Element() ElementID
	// Fragment returns the element's outer HTML.
	Fragment(ctx context.Context) (string, error)
}

// Timeline enumerates the posts currently in the document.
type Timeline interface {
	Posts(ctx context.Context) ([]Post, error)
}

// Stats are cumulative scanner counters.
type Stats struct {
	Passes   int64 `json:"passes"`
	Seen     int64 `json:"seen"`
	Admitted int64 `json:"admitted"`
	Skipped  int64 `json:"skipped"`
	Resolved int64 `json:"resolved"`
	Failed   int64 `json:"failed"`
	Human    int64 `json:"human"`
	AI       int64 `json:"ai"`
	Mixed    int64 `json:"mixed"`
}

// Scanner runs verification passes over a timeline.
type Scanner struct {
	cfg      Config
	timeline Timeline
	cache    *verify.Cache
	renderer *badge.Renderer
	ledger   *ledger.Ledger
	out      Sink
	logger   *slog.Logger

	newPassID  idgen.Generator
	newEventID idgen.Generator

	// activity, when set, brackets each pass (true at start, false at
	// end) with a stats snapshot for the in-page status indicator.
	activity func(active bool, st Stats)

	passes   atomic.Int64
	seen     atomic.Int64
	admitted atomic.Int64
	skipped  atomic.Int64
	resolved atomic.Int64
	failed   atomic.Int64
	human    atomic.Int64
	ai       atomic.Int64
	mixed    atomic.Int64
}

// New creates a Scanner. out may be nil to discard events.
func New(cfg Config, timeline Timeline, cache *verify.Cache, out Sink, logger *slog.Logger) *Scanner {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cfg:        cfg,
		timeline:   timeline,
		cache:      cache,
		renderer:   badge.NewRenderer(logger),
		ledger:     ledger.New(cfg.LedgerCapacity),
		out:        out,
		logger:     logger,
		newPassID:  idgen.Prefixed("pass_", idgen.Default),
		newEventID: idgen.Prefixed("evt_", idgen.Default),
	}
}

// OnActivity registers the pass activity callback. Call before Run.
func (s *Scanner) OnActivity(fn func(active bool, st Stats)) {
	s.activity = fn
}

// Stats returns a snapshot of the counters.
func (s *Scanner) Stats() Stats {
	return Stats{
		Passes:   s.passes.Load(),
		Seen:     s.seen.Load(),
		Admitted: s.admitted.Load(),
		Skipped:  s.skipped.Load(),
		Resolved: s.resolved.Load(),
		Failed:   s.failed.Load(),
		Human:    s.human.Load(),
		AI:       s.ai.Load(),
		Mixed:    s.mixed.Load(),
	}
}

// Run executes passes whenever trigger fires, until ctx is cancelled.
// The trigger's own loop must be started by the caller.
func (s *Scanner) Run(ctx context.Context, trigger *Trigger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger.C():
			if _, err := s.RunPass(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scan: pass failed", "error", err)
			}
		}
	}
}

// RunPass performs one pass and reports its summary. Enumeration
// failures abort the pass; per-post failures are counted and the pass
// continues.
func (s *Scanner) RunPass(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{PassID: s.newPassID(), Started: start.UTC()}

	if s.activity != nil {
		s.activity(true, s.Stats())
		defer func() { s.activity(false, s.Stats()) }()
	}

	posts, err := s.timeline.Posts(ctx)
	if err != nil {
		return sum, err
	}

	var wg sync.WaitGroup
	var resolved, failed atomic.Int64

	for _, post := range posts {
		sum.Seen++

		fragment, err := post.Fragment(ctx)
		if err != nil {
			// Node left the DOM between enumeration and read.
			sum.Skipped++
			continue
		}
		extracted, err := extract.FromFragment(fragment)
		if errors.Is(err, extract.ErrNoContent) {
			sum.Skipped++
			continue
		}
		if err != nil {
			sum.Skipped++
			s.logger.Debug("scan: extract failed", "element", post.Element(), "error", err)
			continue
		}
		if len(fingerprint.Canonicalize(extracted.Text)) < s.cfg.MinContentLength {
			sum.Skipped++
			continue
		}

		fp := fingerprint.Hash(extracted.Text)
		if !s.ledger.Admit(post.Element(), fp) {
			sum.Skipped++
			continue
		}
		sum.Admitted++

		wg.Add(1)
		go func(post Post, ex *extract.Post, fp fingerprint.Identity) {
			defer wg.Done()
			if s.resolveOne(ctx, sum.PassID, post, ex, fp) {
				resolved.Add(1)
			} else {
				failed.Add(1)
			}
		}(post, extracted, fp)
	}

	wg.Wait()
	sum.Resolved = int(resolved.Load())
	sum.Failed = int(failed.Load())
	sum.Duration = time.Since(start)

	s.passes.Add(1)
	s.seen.Add(int64(sum.Seen))
	s.admitted.Add(int64(sum.Admitted))
	s.skipped.Add(int64(sum.Skipped))
	s.resolved.Add(int64(sum.Resolved))
	s.failed.Add(int64(sum.Failed))

	if s.out != nil {
		if err := s.out.SendSummary(ctx, sum); err != nil {
			s.logger.Warn("scan: summary sink failed", "error", err)
		}
	}
	s.logger.Debug("scan: pass complete",
		"pass", sum.PassID, "seen", sum.Seen, "admitted", sum.Admitted,
		"resolved", sum.Resolved, "failed", sum.Failed, "duration", sum.Duration)
	return sum, nil
}

func (s *Scanner) resolveOne(ctx context.Context, passID string, post Post, ex *extract.Post, fp fingerprint.Identity) bool {
	ev := Event{
		ID:          s.newEventID(),
		PassID:      passID,
		Element:     post.Element(),
		Fingerprint: fp,
		Handle:      ex.Handle,
		Permalink:   ex.Permalink,
		At:          time.Now().UTC(),
	}

	rec, src, err := s.cache.Resolve(ctx, fp, verify.CreateRequest{
		Content:   ex.Text,
		Platform:  s.cfg.Platform,
		PostID:    ex.NativeID,
		Permalink: ex.Permalink,
	})
	if err != nil {
		ev.Error = err.Error()
		s.emit(ctx, ev)
		s.logger.Warn("scan: resolve failed", "element", post.Element(), "fingerprint", fp, "error", err)
		return false
	}

	ev.Classification = rec.Classification
	ev.AIProbability = rec.AIProbability
	ev.ViewCount = rec.ViewCount
	ev.Source = src

	switch rec.Classification {
	case verify.ClassHuman:
		s.human.Add(1)
	case verify.ClassMixed:
		s.mixed.Add(1)
	default:
		s.ai.Add(1)
	}

	if err := s.renderer.Render(ctx, post.Element(), post, rec); err != nil {
		ev.Error = err.Error()
		s.emit(ctx, ev)
		return false
	}
	s.emit(ctx, ev)
	return true
}

func (s *Scanner) emit(ctx context.Context, ev Event) {
	if s.out == nil {
		return
	}
	if err := s.out.Send(ctx, ev); err != nil {
		s.logger.Warn("scan: event sink failed", "error", err)
	}
}
