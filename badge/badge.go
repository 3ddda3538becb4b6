// Package badge turns verification records into the visual markers
// attached to timeline posts.
//
// The package owns presentation only: what a record looks like (label,
// tone, tooltip) and the rule that a live element carries at most one
// badge, updated in place when its record changes. How a badge is
// physically injected is behind the Surface interface, implemented by
// the browser layer.
package badge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/verifily/vigil/verify"
)

// ElementID identifies one live timeline element by its CDP backend
// node ID. Stable for the lifetime of a node, never reused within a
// page session.
type ElementID int64

// ErrDetached is returned by a Surface whose element left the DOM
// between scan and render. The renderer treats it as routine: the
// content will be re-admitted if the timeline mounts it again.
var ErrDetached = errors.New("badge: element detached from document")

// Tone selects the badge's visual treatment.
type Tone string

const (
	ToneHuman Tone = "human" // green
	ToneAI    Tone = "ai"    // red
	ToneMixed Tone = "mixed" // amber
)

// Badge is the rendered form of a verification record.
type Badge struct {
	Tone    Tone
	Label   string
	Tooltip string
}

// FromRecord maps an authority record to its badge.
func FromRecord(rec *verify.Record) Badge {
	b := Badge{}
	switch rec.Classification {
	case verify.ClassHuman:
		b.Tone = ToneHuman
		b.Label = "✓ Verified Human"
	case verify.ClassMixed:
		b.Tone = ToneMixed
		b.Label = fmt.Sprintf("⚠ Mixed Origin (%.0f%% AI)", rec.AIProbability*100)
	default:
		b.Tone = ToneAI
		b.Label = fmt.Sprintf("🤖 AI Detected (%.0f%%)", rec.AIProbability*100)
	}

	switch {
	case rec.ViewCount > 1:
		b.Tooltip = fmt.Sprintf("Seen by %d viewers · confidence %.0f%%", rec.ViewCount, rec.Confidence*100)
	default:
		b.Tooltip = fmt.Sprintf("Confidence %.0f%%", rec.Confidence*100)
	}
	return b
}

// Surface is one post element's badge slot.
type Surface interface {
	// ApplyBadge injects the badge into the element, replacing any
	// badge already present. Implementations return ErrDetached when
	// the element no longer exists.
	ApplyBadge(ctx context.Context, b Badge) error
}

// Renderer tracks the badge each element currently carries. Rendering
// the same record again is a no-op; a changed record updates the badge
// in place.
type Renderer struct {
	mu      sync.Mutex
	applied map[ElementID]Badge
	logger  *slog.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		applied: make(map[ElementID]Badge),
		logger:  logger,
	}
}

// Render applies the record's badge to the surface. An element already
// carrying this badge is left alone; one carrying a different badge
// (the node was recycled for new content) is updated in place.
// Detachment is not an error to the caller.
func (r *Renderer) Render(ctx context.Context, id ElementID, s Surface, rec *verify.Record) error {
	b := FromRecord(rec)

	r.mu.Lock()
	if prev, ok := r.applied[id]; ok && prev == b {
		r.mu.Unlock()
		return nil
	}
	r.applied[id] = b
	r.mu.Unlock()

	err := s.ApplyBadge(ctx, b)
	if errors.Is(err, ErrDetached) {
		r.mu.Lock()
		delete(r.applied, id)
		r.mu.Unlock()
		r.logger.Debug("badge: element detached before render", "element", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("badge: render element %d: %w", id, err)
	}
	r.logger.Debug("badge: rendered", "element", id, "tone", b.Tone, "label", b.Label)
	return nil
}

// Rendered returns how many elements carry a badge.
func (r *Renderer) Rendered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}
