package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/verifily/vigil/selfverify"
)

// Prompter drives the in-page self-verification modals. It implements
// selfverify.Prompter.
type Prompter struct {
	t *Timeline
}

// NewPrompter creates a Prompter over the timeline page.
func NewPrompter(t *Timeline) *Prompter { return &Prompter{t: t} }

// CaptureContact shows the contact modal and waits for input. A
// dismissed modal maps to selfverify.ErrCancelled.
func (p *Prompter) CaptureContact(ctx context.Context) (string, error) {
	res, err := p.t.currentPage().Context(ctx).Evaluate(
		rod.Eval(`() => window.__vigilModals.captureContact()`).ByPromise())
	if err != nil {
		return "", fmt.Errorf("browser: contact modal: %w", err)
	}
	if res.Value.Nil() {
		return "", selfverify.ErrCancelled
	}
	return res.Value.Str(), nil
}

// ConfirmSubmission shows the confirmation modal with the preview and
// returns the author's decision.
func (p *Prompter) ConfirmSubmission(ctx context.Context, pv selfverify.Preview) (selfverify.Decision, error) {
	res, err := p.t.currentPage().Context(ctx).Evaluate(
		rod.Eval(`(preview) => window.__vigilModals.confirmSubmission(preview)`, map[string]any{
			"excerpt":     pv.Excerpt,
			"handle":      pv.Handle,
			"fingerprint": pv.Fingerprint.String(),
		}).ByPromise())
	if err != nil {
		return selfverify.Decision{}, fmt.Errorf("browser: confirm modal: %w", err)
	}
	return selfverify.Decision{
		Proceed: res.Value.Get("proceed").Bool(),
		Consent: res.Value.Get("consent").Bool(),
	}, nil
}

// ShowResult shows the terminal outcome modal.
func (p *Prompter) ShowResult(ctx context.Context, o selfverify.Outcome) error {
	payload := map[string]any{
		"verified":         o.Verified,
		"already_verified": o.AlreadyVerified,
		"share_url":        o.ShareURL,
	}
	if o.Err != nil {
		payload["error"] = o.Err.Error()
	}
	_, err := p.t.currentPage().Context(ctx).Evaluate(
		rod.Eval(`(outcome) => window.__vigilModals.showResult(outcome)`, payload).ByPromise())
	if err != nil {
		return fmt.Errorf("browser: result modal: %w", err)
	}
	return nil
}
