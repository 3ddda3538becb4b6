package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/verifily/vigil/badge"
	"github.com/verifily/vigil/scan"
	"github.com/verifily/vigil/selfverify"
)

//go:embed observe.js
var observeJS []byte

//go:embed modals.js
var modalsJS []byte

const bindingName = "__vigil_binding"

// postSelector matches mounted timeline post elements.
const postSelector = `article[data-testid="tweet"]`

// SelfVerifyRequest is the payload of a "Verify as me" click, extracted
// in-page from the clicked post.
type SelfVerifyRequest struct {
	Content string `json:"content"`
	Handle  string `json:"handle"`
	PostID  string `json:"post_id"`
	PostURL string `json:"post_url"`
}

// TimelineConfig configures the observed timeline page.
type TimelineConfig struct {
	// URL is the timeline to open.
	URL string
	// OnActivity fires on scroll and timeline mutations (rate-limited
	// in-page). Wire it to the scan trigger's Notify.
	OnActivity func()
	// OnSelfVerify fires when the viewer clicks a "Verify as me"
	// button on one of their own posts.
	OnSelfVerify func(ctx context.Context, req SelfVerifyRequest)
	Logger       *slog.Logger
}

// Timeline is the live page vigil scans. It implements scan.Timeline.
// The page handle is swappable so the timeline survives a Chrome
// recycle via Reattach.
type Timeline struct {
	mgr    *Manager
	cfg    TimelineConfig
	logger *slog.Logger

	mu     sync.RWMutex
	page   *rod.Page
	cancel context.CancelFunc
}

// OpenTimeline opens the timeline in a stealth tab, injects the
// activity observer, and starts listening for in-page signals.
func OpenTimeline(ctx context.Context, mgr *Manager, cfg TimelineConfig) (*Timeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &Timeline{mgr: mgr, cfg: cfg, logger: cfg.Logger}
	if err := t.attach(ctx); err != nil {
		return nil, err
	}
	t.logger.Info("browser: timeline open", "url", cfg.URL)
	return t, nil
}

// attach opens a fresh tab on the manager's current browser, sets up
// the binding and injected scripts, and swaps it in as the live page.
func (t *Timeline) attach(ctx context.Context) error {
	b := t.mgr.Browser()
	if b == nil {
		return fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("browser: create tab: %w", err)
	}

	if len(t.mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, t.mgr.cfg.ResourceBlocking); err != nil {
			t.logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancelNav := context.WithTimeout(ctx, 30*time.Second)
	defer cancelNav()
	if err := page.Context(navCtx).Navigate(t.cfg.URL); err != nil {
		page.Close()
		return fmt.Errorf("browser: navigate %s: %w", t.cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		t.logger.Warn("browser: wait load timeout", "url", t.cfg.URL, "error", err)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		t.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}

	if _, err := page.Eval(string(observeJS)); err != nil {
		page.Close()
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	if _, err := page.Eval(string(modalsJS)); err != nil {
		t.logger.Warn("browser: inject modals failed", "error", err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	go t.listenBinding(listenCtx, page)

	t.mu.Lock()
	oldCancel := t.cancel
	t.page = page
	t.cancel = cancel
	t.mu.Unlock()
	if oldCancel != nil {
		oldCancel()
	}
	return nil
}

// Reattach reopens the timeline after the manager recycled Chrome. The
// previous page died with the old process; pending element handles go
// stale and the next pass re-admits whatever is mounted.
func (t *Timeline) Reattach(ctx context.Context) error {
	t.logger.Info("browser: reattaching timeline", "url", t.cfg.URL)
	return t.attach(ctx)
}

func (t *Timeline) currentPage() *rod.Page {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.page
}

// Page exposes the underlying rod page.
func (t *Timeline) Page() *rod.Page { return t.currentPage() }

// Close tears down the tab.
func (t *Timeline) Close() error {
	t.mu.Lock()
	cancel, page := t.cancel, t.page
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return page.Close()
}

// Posts enumerates the post elements currently mounted, identified by
// their CDP backend node IDs.
func (t *Timeline) Posts(ctx context.Context) ([]scan.Post, error) {
	els, err := t.currentPage().Context(ctx).Elements(postSelector)
	if err != nil {
		return nil, fmt.Errorf("browser: enumerate posts: %w", err)
	}
	posts := make([]scan.Post, 0, len(els))
	for _, el := range els {
		node, err := el.Describe(0, false)
		if err != nil {
			// Unmounted between query and describe; next pass catches it.
			continue
		}
		posts = append(posts, &Post{
			el: el,
			id: scan.ElementID(node.BackendNodeID),
		})
	}
	return posts, nil
}

// ViewerHandle detects the logged-in account's handle. It tries the
// nav profile link, then the account switcher. An empty result means
// detection failed and self-verification stays hidden.
func (t *Timeline) ViewerHandle(ctx context.Context) (string, error) {
	res, err := t.currentPage().Context(ctx).Eval(`() => {
		const link = document.querySelector('a[data-testid="AppTabBar_Profile_Link"]');
		if (link) {
			const href = link.getAttribute('href');
			if (href && href.startsWith('/')) return href.slice(1);
		}
		const sw = document.querySelector('div[data-testid="SideNav_AccountSwitcher_Button"]');
		if (sw) {
			const m = sw.innerText.match(/@([A-Za-z0-9_]+)/);
			if (m) return m[1];
		}
		return '';
	}`)
	if err != nil {
		return "", fmt.Errorf("browser: viewer handle: %w", err)
	}
	return res.Value.Str(), nil
}

// SetViewer tells the page whose posts get "Verify as me" buttons.
func (t *Timeline) SetViewer(ctx context.Context, handle string) error {
	_, err := t.currentPage().Context(ctx).Eval(`(h) => window.__vigilSetViewer(h)`, handle)
	if err != nil {
		return fmt.Errorf("browser: set viewer: %w", err)
	}
	return nil
}

// SetActivity updates the fixed status indicator: scanning/idle plus
// the running outcome counters.
func (t *Timeline) SetActivity(ctx context.Context, active bool, st scan.Stats) error {
	_, err := t.currentPage().Context(ctx).Eval(`(s) => window.__vigilStatus(s)`, map[string]any{
		"active":  active,
		"scanned": st.Seen,
		"human":   st.Human,
		"ai":      st.AI,
	})
	if err != nil {
		return fmt.Errorf("browser: set activity: %w", err)
	}
	return nil
}

// Control returns the verify-button control for one post, addressed by
// its native post ID.
func (t *Timeline) Control(postID string) selfverify.Control {
	return &buttonControl{t: t, postID: postID}
}

type buttonControl struct {
	t      *Timeline
	postID string
}

func (c *buttonControl) SetState(ctx context.Context, st selfverify.ControlState) error {
	_, err := c.t.currentPage().Context(ctx).Eval(
		`(id, state) => window.__vigilButtonState(id, state)`, c.postID, string(st))
	if err != nil {
		return fmt.Errorf("browser: button state: %w", err)
	}
	return nil
}

func (t *Timeline) listenBinding(ctx context.Context, page *rod.Page) {
	page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			t.logger.Warn("browser: bad binding payload", "error", err)
			return
		}
		switch msg.Type {
		case "activity":
			if t.cfg.OnActivity != nil {
				t.cfg.OnActivity()
			}
		case "selfverify":
			var req SelfVerifyRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				t.logger.Warn("browser: bad selfverify payload", "error", err)
				return
			}
			if t.cfg.OnSelfVerify != nil {
				go t.cfg.OnSelfVerify(ctx, req)
			}
		}
	})()
}

// Post is one mounted timeline element. It implements scan.Post.
type Post struct {
	el *rod.Element
	id scan.ElementID
}

// Element returns the post's backend node identity.
func (p *Post) Element() scan.ElementID { return p.id }

// Fragment returns the element's outer HTML.
func (p *Post) Fragment(ctx context.Context) (string, error) {
	html, err := p.el.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: read fragment: %w", err)
	}
	return html, nil
}

const applyBadgeJS = `(label, tooltip, tone) => {
	const colors = { human: '#00ba7c', ai: '#f4212e', mixed: '#ffad1f' };
	let span = this.querySelector('.vigil-badge');
	if (!span) {
		span = document.createElement('span');
		span.className = 'vigil-badge';
		span.style.cssText =
			'display:inline-block;margin:4px 0;padding:1px 8px;border-radius:10px;' +
			'font-size:12px;color:#fff;';
		const anchor = this.querySelector('[data-testid="tweetText"]');
		(anchor ? anchor.parentNode : this).appendChild(span);
	}
	span.textContent = label;
	span.title = tooltip;
	span.style.background = colors[tone] || '#536471';
}`

// ApplyBadge injects the badge into the element, updating an existing
// badge in place. A node that left the DOM reports badge.ErrDetached.
func (p *Post) ApplyBadge(ctx context.Context, b badge.Badge) error {
	_, err := p.el.Context(ctx).Eval(applyBadgeJS, b.Label, b.Tooltip, string(b.Tone))
	if err != nil {
		// Eval on a gone node fails with an object/context error; the
		// distinction does not matter here.
		return badge.ErrDetached
	}
	return nil
}
