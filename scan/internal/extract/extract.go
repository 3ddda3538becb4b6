// Package extract pulls post fields out of a timeline element's HTML
// fragment: body text, author handle, permalink, and the platform's
// native post ID.
package extract

import (
	"errors"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoContent is returned when the fragment has no extractable text.
var ErrNoContent = errors.New("extract: no content in fragment")

// Post is the extracted view of one timeline element.
type Post struct {
	// Text is the post body with whitespace preserved as rendered.
	Text string
	// Handle is the author's handle without the leading "@". Empty when
	// the fragment carries no author block (e.g. a promoted placeholder).
	Handle string
	// Permalink is the post's /status/ URL path or absolute URL.
	Permalink string
	// NativeID is the platform's numeric post ID from the permalink.
	NativeID string
}

var (
	statusRe = regexp.MustCompile(`/status/(\d+)`)
	stripper = bluemonday.StrictPolicy()
)

// FromFragment parses one post element's outer HTML and extracts its
// fields. The body is read from the platform's text container; when the
// container is absent (layout changes, quoted-only posts) the whole
// fragment is stripped to text as a fallback.
func FromFragment(fragment string) (*Post, error) {
	root, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return nil, err
	}

	p := &Post{}
	for _, n := range root {
		if t := findByTestID(n, "tweetText"); t != nil && p.Text == "" {
			p.Text = collectText(t)
		}
		if p.Handle == "" {
			p.Handle = findHandle(n)
		}
		if p.Permalink == "" {
			p.Permalink = findPermalink(n)
		}
	}

	if p.Text == "" {
		// Fallback: strip markup from the whole fragment.
		p.Text = strings.TrimSpace(stripper.Sanitize(fragment))
	}
	if p.Text == "" {
		return nil, ErrNoContent
	}

	if m := statusRe.FindStringSubmatch(p.Permalink); m != nil {
		p.NativeID = m[1]
	}
	return p, nil
}

// findByTestID returns the first element whose data-testid equals id.
func findByTestID(root *html.Node, id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && getAttr(n, "data-testid") == id {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// findHandle locates the author block and reads the handle from its
// profile link ("/alice" → "alice").
func findHandle(root *html.Node) string {
	userName := findByTestID(root, "User-Name")
	if userName == nil {
		return ""
	}
	var handle string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if handle != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href := getAttr(n, "href")
			// Profile links are a bare "/handle" path.
			if strings.HasPrefix(href, "/") && !strings.Contains(href[1:], "/") && len(href) > 1 {
				handle = href[1:]
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(userName)
	return handle
}

// findPermalink returns the first /status/ link in the fragment.
func findPermalink(root *html.Node) string {
	var link string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if link != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := getAttr(n, "href"); statusRe.MatchString(href) {
				link = href
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return link
}

// collectText concatenates text nodes. Inline images contribute their
// alt text, which is how the platform renders emoji.
func collectText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Img:
			sb.WriteString(getAttr(n, "alt"))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.TrimSpace(sb.String())
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
