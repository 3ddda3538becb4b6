package selfverify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/verifily/vigil/fingerprint"
	"github.com/verifily/vigil/verify"
)

// State is the workflow's current phase.
type State string

const (
	StateIdle           State = "idle"
	StateGateCheck      State = "gate_check"
	StateContactCapture State = "contact_capture"
	StateConfirm        State = "confirm"
	StateSubmitting     State = "submitting"
	StateVerified       State = "verified"
	StateFailed         State = "failed"
)

var (
	// ErrCancelled means the author dismissed the flow.
	ErrCancelled = errors.New("selfverify: cancelled by author")
	// ErrConsentRequired means the author declined the data-use consent,
	// without which the authority rejects the submission.
	ErrConsentRequired = errors.New("selfverify: consent required")
	// ErrNotAuthor means the viewer is not the post's author, or the
	// viewer's identity could not be established.
	ErrNotAuthor = errors.New("selfverify: viewer is not the author")
	// ErrBusy means another verification flow is already running. A
	// double-click on the trigger button lands here instead of opening
	// a second set of modals.
	ErrBusy = errors.New("selfverify: verification already in progress")
)

// Subject is the post being self-certified.
type Subject struct {
	Content   string
	Handle    string
	PostID    string
	Permalink string
	Platform  string
}

// Preview is what the confirmation prompt shows the author.
type Preview struct {
	Excerpt     string
	Handle      string
	Fingerprint fingerprint.Identity
}

// Decision is the author's answer to the confirmation prompt.
type Decision struct {
	Proceed bool
	Consent bool
}

// Outcome is the terminal result shown to the author.
type Outcome struct {
	Verified        bool
	AlreadyVerified bool
	ShareURL        string
	Err             error
}

// Prompter is the UI half of the workflow: modals rendered in the page.
type Prompter interface {
	CaptureContact(ctx context.Context) (email string, err error)
	ConfirmSubmission(ctx context.Context, p Preview) (Decision, error)
	ShowResult(ctx context.Context, o Outcome) error
}

// ControlState is the trigger button's visual state.
type ControlState string

const (
	// ControlBusy disables the button while a submission is in flight.
	ControlBusy ControlState = "busy"
	// ControlVerified marks the button done; it stays disabled.
	ControlVerified ControlState = "verified"
	// ControlIdle re-enables the button after a failed or abandoned flow.
	ControlIdle ControlState = "idle"
)

// Control drives the trigger button for the post under verification.
type Control interface {
	SetState(ctx context.Context, st ControlState) error
}

// Submitter is the authority half. *verify.Client satisfies it.
type Submitter interface {
	VerifyAsHuman(ctx context.Context, req verify.HumanRequest) (*verify.Record, bool, error)
	JoinWaitlist(ctx context.Context, email, source string) (bool, error)
}

// Workflow runs one self-verification at a time.
type Workflow struct {
	gate           *Gate
	prompter       Prompter
	submitter      Submitter
	cache          *verify.Cache
	logger         *slog.Logger
	waitlistSource string

	mu    sync.Mutex
	state State
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWaitlistSource sets the source tag sent on waitlist enrollment.
// Default: "vigil".
func WithWaitlistSource(source string) WorkflowOption {
	return func(w *Workflow) {
		if source != "" {
			w.waitlistSource = source
		}
	}
}

// NewWorkflow wires the workflow. cache may be nil when there is no
// passive scanner to write back into.
func NewWorkflow(gate *Gate, prompter Prompter, submitter Submitter, cache *verify.Cache, logger *slog.Logger, opts ...WorkflowOption) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		gate:           gate,
		prompter:       prompter,
		submitter:      submitter,
		cache:          cache,
		logger:         logger,
		waitlistSource: "vigil",
		state:          StateIdle,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// State returns the current phase.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.logger.Debug("selfverify: state", "state", s)
}

// tryBegin claims the workflow for one flow. Terminal and idle states
// may begin; anything mid-flight refuses.
func (w *Workflow) tryBegin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateIdle, StateVerified, StateFailed, "":
		w.state = StateGateCheck
		return true
	default:
		return false
	}
}

// Eligible reports whether the viewer may self-verify the subject.
// Fail-closed: an empty viewer handle (identity detection failed) never
// qualifies. The comparison ignores case, matching how platforms treat
// handles.
func Eligible(viewerHandle, authorHandle string) bool {
	if viewerHandle == "" || authorHandle == "" {
		return false
	}
	return strings.EqualFold(viewerHandle, authorHandle)
}

// Run drives the full flow for one subject: gate check (with contact
// capture on first use), confirmation, submission, result. ctl may be
// nil when there is no trigger button to drive. The viewer handle must
// already have been checked with Eligible; Run re-checks and refuses
// otherwise. Only one flow runs at a time; a concurrent call returns
// ErrBusy.
func (w *Workflow) Run(ctx context.Context, viewerHandle string, sub Subject, ctl Control) (*verify.Record, error) {
	if !Eligible(viewerHandle, sub.Handle) {
		return nil, ErrNotAuthor
	}
	if !w.tryBegin() {
		return nil, ErrBusy
	}

	rec, err := w.run(ctx, sub, ctl)
	if err != nil {
		w.setControl(ctx, ctl, ControlIdle)
		if !errors.Is(err, ErrCancelled) {
			w.setState(StateFailed)
			_ = w.prompter.ShowResult(ctx, Outcome{Err: err})
		} else {
			w.setState(StateIdle)
		}
		return nil, err
	}
	w.setControl(ctx, ctl, ControlVerified)
	w.setState(StateVerified)
	return rec, nil
}

func (w *Workflow) run(ctx context.Context, sub Subject, ctl Control) (*verify.Record, error) {
	captured, err := w.gate.Captured(ctx)
	if err != nil {
		return nil, err
	}
	if !captured {
		w.setState(StateContactCapture)
		email, err := w.prompter.CaptureContact(ctx)
		if err != nil {
			return nil, err
		}
		if _, err := w.submitter.JoinWaitlist(ctx, email, w.waitlistSource); err != nil {
			// The authority being unreachable for the waitlist does not
			// block verification; the gate still closes locally.
			w.logger.Warn("selfverify: waitlist submission failed", "error", err)
		}
		if err := w.gate.MarkCaptured(ctx, email); err != nil {
			return nil, err
		}
	}

	fp := fingerprint.Hash(sub.Content)
	w.setState(StateConfirm)
	decision, err := w.prompter.ConfirmSubmission(ctx, Preview{
		Excerpt:     excerpt(sub.Content),
		Handle:      sub.Handle,
		Fingerprint: fp,
	})
	if err != nil {
		return nil, err
	}
	if !decision.Proceed {
		return nil, ErrCancelled
	}
	if !decision.Consent {
		return nil, ErrConsentRequired
	}

	w.setState(StateSubmitting)
	w.setControl(ctx, ctl, ControlBusy)
	rec, already, err := w.submitter.VerifyAsHuman(ctx, verify.HumanRequest{
		Content:   sub.Content,
		Platform:  sub.Platform,
		PostID:    sub.PostID,
		Permalink: sub.Permalink,
		Handle:    sub.Handle,
		Consent:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("selfverify: submit: %w", err)
	}

	if w.cache != nil {
		w.cache.Put(fp, rec, verify.SourceAuthor)
	}

	_ = w.prompter.ShowResult(ctx, Outcome{
		Verified:        true,
		AlreadyVerified: already,
		ShareURL:        rec.ShareURL,
	})
	w.logger.Info("selfverify: verified",
		"fingerprint", fp, "handle", sub.Handle, "already", already)
	return rec, nil
}

func (w *Workflow) setControl(ctx context.Context, ctl Control, st ControlState) {
	if ctl == nil {
		return
	}
	if err := ctl.SetState(ctx, st); err != nil {
		w.logger.Warn("selfverify: control state", "state", st, "error", err)
	}
}

const excerptLen = 120

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= excerptLen {
		return s
	}
	cut := s[:excerptLen]
	if i := strings.LastIndexByte(cut, ' '); i > excerptLen/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
