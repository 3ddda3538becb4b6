package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/verifily/vigil/badge"
	"github.com/verifily/vigil/fingerprint"
	"github.com/verifily/vigil/verify"
)

// fakePost is one mounted timeline element.
type fakePost struct {
	id      ElementID
	html    string
	applies atomic.Int32
	gone    bool
}

func (p *fakePost) Element() ElementID { return p.id }

func (p *fakePost) Fragment(context.Context) (string, error) {
	if p.gone {
		return "", errors.New("node detached")
	}
	return p.html, nil
}

func (p *fakePost) ApplyBadge(_ context.Context, b badge.Badge) error {
	if p.gone {
		return badge.ErrDetached
	}
	p.applies.Add(1)
	return nil
}

type fakeTimeline struct {
	mu    sync.Mutex
	posts []Post
	err   error
}

func (f *fakeTimeline) Posts(context.Context) ([]Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]Post(nil), f.posts...), nil
}

// fakeAuthority counts round trips and can fail creates.
type fakeAuthority struct {
	mu         sync.Mutex
	known      map[fingerprint.Identity]*verify.Record
	checks     atomic.Int64
	creates    atomic.Int64
	failCreate bool
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{known: map[fingerprint.Identity]*verify.Record{}}
}

func (f *fakeAuthority) Check(_ context.Context, fp fingerprint.Identity) (*verify.Record, error) {
	f.checks.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.known[fp]; ok {
		return rec, nil
	}
	return nil, verify.ErrNotFound
}

func (f *fakeAuthority) Create(_ context.Context, req verify.CreateRequest) (*verify.Record, error) {
	f.creates.Add(1)
	if f.failCreate {
		return nil, errors.New("connection refused")
	}
	fp := fingerprint.Hash(req.Content)
	rec := &verify.Record{Fingerprint: fp, Classification: verify.ClassAI, AIProbability: 0.9, ViewCount: 1}
	f.mu.Lock()
	f.known[fp] = rec
	f.mu.Unlock()
	return rec, nil
}

func tweetHTML(handle, nativeID, text string) string {
	return fmt.Sprintf(`
<article data-testid="tweet">
  <div data-testid="User-Name">
    <a href="/%s"><span>@%s</span></a>
    <a href="/%s/status/%s"><time>1h</time></a>
  </div>
  <div data-testid="tweetText">%s</div>
</article>`, handle, handle, handle, nativeID, text)
}

func testScanner(tl Timeline, auth verify.Authority, out Sink) *Scanner {
	cache := verify.NewCache(auth, nil)
	return New(Defaults(), tl, cache, out, nil)
}

func TestRunPass_BadgesNewPosts(t *testing.T) {
	posts := []*fakePost{
		{id: 1, html: tweetHTML("alice", "100", "The first long enough post body.")},
		{id: 2, html: tweetHTML("bob", "200", "A second, different post body here.")},
		{id: 3, html: tweetHTML("carol", "300", "Third post with plenty of content.")},
	}
	tl := &fakeTimeline{posts: []Post{posts[0], posts[1], posts[2]}}
	auth := newFakeAuthority()
	s := testScanner(tl, auth, nil)

	sum, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if sum.Seen != 3 || sum.Admitted != 3 || sum.Resolved != 3 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	for _, p := range posts {
		if p.applies.Load() != 1 {
			t.Errorf("element %d applies = %d, want 1", p.id, p.applies.Load())
		}
	}
	if auth.creates.Load() != 3 {
		t.Errorf("creates = %d, want 3", auth.creates.Load())
	}
}

func TestRunPass_SecondPassSkipsProcessedElements(t *testing.T) {
	p := &fakePost{id: 1, html: tweetHTML("alice", "100", "Content that stays mounted on screen.")}
	tl := &fakeTimeline{posts: []Post{p}}
	auth := newFakeAuthority()
	s := testScanner(tl, auth, nil)
	ctx := context.Background()

	if _, err := s.RunPass(ctx); err != nil {
		t.Fatal(err)
	}
	sum, err := s.RunPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Admitted != 0 || sum.Skipped != 1 {
		t.Fatalf("second pass summary = %+v", sum)
	}
	if p.applies.Load() != 1 {
		t.Fatalf("applies = %d, want 1", p.applies.Load())
	}
	if auth.checks.Load() != 1 {
		t.Errorf("checks = %d, want 1 (no network on second pass)", auth.checks.Load())
	}
}

func TestRunPass_DuplicateContentOneRoundTrip(t *testing.T) {
	text := "Exactly the same viral copypasta in two posts."
	tl := &fakeTimeline{posts: []Post{
		&fakePost{id: 1, html: tweetHTML("alice", "100", text)},
		&fakePost{id: 2, html: tweetHTML("bob", "200", text)},
	}}
	auth := newFakeAuthority()
	s := testScanner(tl, auth, nil)

	sum, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Admitted != 2 || sum.Resolved != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if auth.creates.Load() != 1 {
		t.Errorf("creates = %d, want 1 (coalesced)", auth.creates.Load())
	}
	for _, p := range tl.posts {
		if p.(*fakePost).applies.Load() != 1 {
			t.Error("each element gets its own badge even with shared content")
		}
	}
}

func TestRunPass_ShortContentSkipped(t *testing.T) {
	tl := &fakeTimeline{posts: []Post{
		&fakePost{id: 1, html: tweetHTML("alice", "100", "ok")},
	}}
	auth := newFakeAuthority()
	s := testScanner(tl, auth, nil)

	sum, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || sum.Admitted != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if auth.checks.Load() != 0 {
		t.Error("short content must not reach the network")
	}
}

func TestRunPass_RemountedElementResolvesFromCache(t *testing.T) {
	text := "Recycled node content stays verified across remounts."
	first := &fakePost{id: 1, html: tweetHTML("alice", "100", text)}
	tl := &fakeTimeline{posts: []Post{first}}
	auth := newFakeAuthority()

	var events []Event
	var mu sync.Mutex
	out := NewCallbackSink(func(_ context.Context, ev Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	}, nil)

	s := testScanner(tl, auth, out)
	ctx := context.Background()

	if _, err := s.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	// The timeline recycles the slot: same content, fresh identity.
	remounted := &fakePost{id: 2, html: first.html}
	tl.mu.Lock()
	tl.posts = []Post{remounted}
	tl.mu.Unlock()

	sum, err := s.RunPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Admitted != 1 || sum.Resolved != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if remounted.applies.Load() != 1 {
		t.Error("remounted element should be badged")
	}
	if auth.creates.Load() != 1 {
		t.Errorf("creates = %d, want 1 (cache hit on remount)", auth.creates.Load())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Source != verify.SourceCreate || events[1].Source != verify.SourceCache {
		t.Errorf("sources = %s, %s; want create then cache", events[0].Source, events[1].Source)
	}
}

func TestRunPass_RecycledNodeNewContentReverified(t *testing.T) {
	newText := "Entirely different content in the reused node."
	p := &fakePost{id: 1, html: tweetHTML("alice", "100", "The slot's original content, long enough.")}
	tl := &fakeTimeline{posts: []Post{p}}
	auth := newFakeAuthority()
	auth.known[fingerprint.Hash(newText)] = &verify.Record{
		Fingerprint:    fingerprint.Hash(newText),
		Classification: verify.ClassHuman,
		Confidence:     0.95,
		ViewCount:      3,
	}
	s := testScanner(tl, auth, nil)
	ctx := context.Background()

	if _, err := s.RunPass(ctx); err != nil {
		t.Fatal(err)
	}

	// Virtualized timeline reuses the live node for a different post:
	// same backend ID, new content, new (element, fingerprint) pair.
	p.html = tweetHTML("bob", "200", newText)
	sum, err := s.RunPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Admitted != 1 || sum.Resolved != 1 {
		t.Fatalf("second pass summary = %+v (new pair must be admitted)", sum)
	}
	if auth.checks.Load() != 2 {
		t.Errorf("checks = %d, want 2 (new content verified)", auth.checks.Load())
	}
	if p.applies.Load() != 2 {
		t.Errorf("applies = %d, want 2 (badge updated for new content)", p.applies.Load())
	}
}

func TestRunPass_TransportFailure(t *testing.T) {
	tl := &fakeTimeline{posts: []Post{
		&fakePost{id: 1, html: tweetHTML("alice", "100", "Content the authority never hears about.")},
	}}
	auth := newFakeAuthority()
	auth.failCreate = true

	var events []Event
	var mu sync.Mutex
	out := NewCallbackSink(func(_ context.Context, ev Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	}, nil)

	s := testScanner(tl, auth, out)
	sum, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.Resolved != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	p := tl.posts[0].(*fakePost)
	if p.applies.Load() != 0 {
		t.Error("failed resolution must not badge")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Error == "" {
		t.Fatalf("events = %+v", events)
	}
}

func TestRunPass_EnumerationErrorAborts(t *testing.T) {
	tl := &fakeTimeline{err: errors.New("page crashed")}
	s := testScanner(tl, newFakeAuthority(), nil)
	if _, err := s.RunPass(context.Background()); err == nil {
		t.Fatal("expected enumeration error")
	}
}

func TestRunPass_DetachedBetweenScanAndRead(t *testing.T) {
	p := &fakePost{id: 1, html: tweetHTML("alice", "100", "Vanishes before the fragment read."), gone: true}
	tl := &fakeTimeline{posts: []Post{p}}
	s := testScanner(tl, newFakeAuthority(), nil)

	sum, err := s.RunPass(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || sum.Admitted != 0 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestStats_Accumulate(t *testing.T) {
	tl := &fakeTimeline{posts: []Post{
		&fakePost{id: 1, html: tweetHTML("alice", "100", "Some content long enough to pass.")},
	}}
	s := testScanner(tl, newFakeAuthority(), nil)
	ctx := context.Background()

	s.RunPass(ctx)
	s.RunPass(ctx)

	st := s.Stats()
	if st.Passes != 2 || st.Seen != 2 || st.Admitted != 1 || st.Skipped != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.AI != 1 || st.Human != 0 {
		t.Fatalf("classification counters = human %d / ai %d, want 0/1", st.Human, st.AI)
	}
}

func TestRunPass_ActivityBracketsPass(t *testing.T) {
	tl := &fakeTimeline{posts: []Post{
		&fakePost{id: 1, html: tweetHTML("alice", "100", "Some content long enough to pass.")},
	}}
	s := testScanner(tl, newFakeAuthority(), nil)

	var calls []bool
	var last Stats
	s.OnActivity(func(active bool, st Stats) {
		calls = append(calls, active)
		last = st
	})

	if _, err := s.RunPass(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Fatalf("activity calls = %v, want [true false]", calls)
	}
	if last.Seen != 1 {
		t.Fatalf("final snapshot seen = %d, want 1", last.Seen)
	}
}
