package extract

import (
	"errors"
	"strings"
	"testing"
)

const sampleTweet = `
<article data-testid="tweet">
  <div data-testid="User-Name">
    <a href="/alice"><span>Alice</span></a>
    <a href="/alice"><span>@alice</span></a>
    <a href="/alice/status/1234567890123456789"><time>2h</time></a>
  </div>
  <div data-testid="tweetText">
    <span>Shipping the new release today </span><img alt="🚀" src="emoji.svg">
  </div>
</article>`

func TestFromFragment(t *testing.T) {
	p, err := FromFragment(sampleTweet)
	if err != nil {
		t.Fatalf("FromFragment: %v", err)
	}
	if p.Text != "Shipping the new release today 🚀" {
		t.Errorf("Text = %q", p.Text)
	}
	if p.Handle != "alice" {
		t.Errorf("Handle = %q", p.Handle)
	}
	if p.Permalink != "/alice/status/1234567890123456789" {
		t.Errorf("Permalink = %q", p.Permalink)
	}
	if p.NativeID != "1234567890123456789" {
		t.Errorf("NativeID = %q", p.NativeID)
	}
}

func TestFromFragment_NoAuthorBlock(t *testing.T) {
	p, err := FromFragment(`<article data-testid="tweet"><div data-testid="tweetText">just text</div></article>`)
	if err != nil {
		t.Fatalf("FromFragment: %v", err)
	}
	if p.Handle != "" || p.NativeID != "" {
		t.Errorf("expected empty handle and native ID, got %q / %q", p.Handle, p.NativeID)
	}
	if p.Text != "just text" {
		t.Errorf("Text = %q", p.Text)
	}
}

func TestFromFragment_FallbackStrip(t *testing.T) {
	// No tweetText container; the whole fragment degrades to stripped text.
	p, err := FromFragment(`<div><b>bold</b> and <i>italic</i> words</div>`)
	if err != nil {
		t.Fatalf("FromFragment: %v", err)
	}
	if !strings.Contains(p.Text, "bold") || !strings.Contains(p.Text, "italic") {
		t.Errorf("fallback text = %q", p.Text)
	}
	if strings.ContainsAny(p.Text, "<>") {
		t.Errorf("markup leaked into fallback text: %q", p.Text)
	}
}

func TestFromFragment_Empty(t *testing.T) {
	_, err := FromFragment(`<div><img src="pic.jpg"></div>`)
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestFindHandle_SkipsStatusLinks(t *testing.T) {
	frag := `
<article>
  <div data-testid="User-Name">
    <a href="/bob/status/42"><time>1h</time></a>
    <a href="/bob"><span>@bob</span></a>
  </div>
  <div data-testid="tweetText">hi</div>
</article>`
	p, err := FromFragment(frag)
	if err != nil {
		t.Fatal(err)
	}
	if p.Handle != "bob" {
		t.Errorf("Handle = %q, want bob", p.Handle)
	}
}
