// Package verify talks to the verification authority and caches its
// decisions for the lifetime of a session.
//
// The authority is the single source of truth: it classifies content,
// persists verification records, and counts views. This package never
// computes a classification itself — it resolves fingerprints against
// the authority (check, then create) and keeps a local read-mostly
// snapshot so content seen twice in a session costs zero network calls.
package verify

import (
	"time"

	"github.com/verifily/vigil/fingerprint"
)

// Classification is the authority's verdict on a piece of content.
type Classification string

const (
	ClassHuman Classification = "human"
	ClassAI    Classification = "ai"
	ClassMixed Classification = "mixed"
)

// Record is a verification decision owned by the authority, cached
// locally as a snapshot. The authority increments ViewCount on every
// successful lookup; the client never mutates a record.
type Record struct {
	Fingerprint   fingerprint.Identity `json:"content_hash"`
	Classification Classification      `json:"classification"`
	AIProbability float64              `json:"ai_probability"`
	Confidence    float64              `json:"confidence"`
	ViewCount     int                  `json:"view_count"`
	VerifiedAt    time.Time            `json:"first_seen"`
	AuthorHandle  string               `json:"user_handle,omitempty"`
	ShareURL      string               `json:"shareable_url,omitempty"`
}

// Human reports whether the record certifies human authorship.
func (r *Record) Human() bool { return r.Classification == ClassHuman }

// CreateRequest is the passive-detection payload sent when a fingerprint
// is unknown to the authority.
type CreateRequest struct {
	Content   string `json:"content"`
	Platform  string `json:"platform,omitempty"`
	PostID    string `json:"post_id,omitempty"`
	Permalink string `json:"post_url,omitempty"`
}

// HumanRequest is the explicit author self-certification payload.
type HumanRequest struct {
	Content   string `json:"content"`
	Platform  string `json:"platform,omitempty"`
	PostID    string `json:"post_id,omitempty"`
	Permalink string `json:"post_url,omitempty"`
	Handle    string `json:"username"`
	Consent   bool   `json:"consent_training_data"`
}
