// Package sink defines output backends for scan events: verification
// outcomes and per-pass summaries delivered to stdout, a webhook, or an
// in-process callback.
package sink

import (
	"context"
	"time"

	"github.com/verifily/vigil/fingerprint"
	"github.com/verifily/vigil/scan/internal/ledger"
	"github.com/verifily/vigil/verify"
)

// Event records one element's verification outcome during a pass.
type Event struct {
	ID             string                `json:"id"`
	PassID         string                `json:"pass_id"`
	Element        ledger.ElementID      `json:"element"`
	Fingerprint    fingerprint.Identity  `json:"fingerprint"`
	Handle         string                `json:"handle,omitempty"`
	Permalink      string                `json:"permalink,omitempty"`
	Classification verify.Classification `json:"classification,omitempty"`
	AIProbability  float64               `json:"ai_probability,omitempty"`
	ViewCount      int                   `json:"view_count,omitempty"`
	Source         verify.Source         `json:"source,omitempty"`
	Error          string                `json:"error,omitempty"`
	At             time.Time             `json:"at"`
}

// Summary describes one completed scan pass.
type Summary struct {
	PassID   string        `json:"pass_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Seen     int           `json:"seen"`
	Admitted int           `json:"admitted"`
	Skipped  int           `json:"skipped"`
	Resolved int           `json:"resolved"`
	Failed   int           `json:"failed"`
}

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	SendSummary(ctx context.Context, sum Summary) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
