package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/verifily/vigil/fingerprint"
)

// DefaultBaseURL is the production authority endpoint, overridable via
// persisted settings.
const DefaultBaseURL = "https://verifily.io/api/v1"

// Client is the HTTP client for the verification authority.
//
// The base URL is swappable at runtime so a settings change can be
// hot-applied without restarting the scanner.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	http   *http.Client
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

/// WithHTTPClient sets a custom http.Client. Default: 15s timeout.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithClientLogger sets a custom logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates an authority client. Empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the current authority base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL swaps the authority base URL. Safe for concurrent use;
// in-flight requests keep the URL they started with.
func (c *Client) SetBaseURL(u string) {
	c.mu.Lock()
	c.baseURL = strings.TrimRight(u, "/")
	c.mu.Unlock()
}

// Check looks up a fingerprint. Returns ErrNotFound when the authority
// has never seen it; any other failure is a transport error. A found
// record increments the authority's view counter as a side effect.
func (c *Client) Check(ctx context.Context, fp fingerprint.Identity) (*Record, error) {
	var rec Record
	err := c.do(ctx, http.MethodGet, "/check/"+fp.String(), nil, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create submits content for classification and persistence. The
// authority always returns a complete record — its classifier fallback
// produces a low-confidence human verdict rather than an error — so the
// only failure mode here is transport.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodPost, "/verify", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// humanResponse is the verify-as-human envelope: the record travels
// nested, with share metadata alongside.
type humanResponse struct {
	Success         bool    `json:"success"`
	AlreadyVerified bool    `json:"already_verified"`
	Verification    Record  `json:"verification"`
	ShareURL        string  `json:"shareable_url"`
	Fingerprint     string  `json:"content_hash"`
	Message         string  `json:"message"`
}

// VerifyAsHuman submits an explicit author self-certification.
// Idempotent by content fingerprint: a repeated submission returns the
// existing record with alreadyVerified=true instead of creating a
// duplicate.
func (c *Client) VerifyAsHuman(ctx context.Context, req HumanRequest) (rec *Record, alreadyVerified bool, err error) {
	var resp humanResponse
	if err := c.do(ctx, http.MethodPost, "/verify/human", req, &resp); err != nil {
		return nil, false, err
	}
	r := resp.Verification
	if r.ShareURL == "" {
		r.ShareURL = resp.ShareURL
	}
	if r.Fingerprint.Zero() && resp.Fingerprint != "" {
		r.Fingerprint = fingerprint.Identity(resp.Fingerprint)
	}
	return &r, resp.AlreadyVerified, nil
}

// JoinWaitlist registers a contact email. Idempotent per email: the
// authority reports alreadyExists instead of erroring on a duplicate.
func (c *Client) JoinWaitlist(ctx context.Context, email, source string) (alreadyExists bool, err error) {
	req := struct {
		Email  string `json:"email"`
		Source string `json:"source"`
	}{Email: email, Source: source}

	var resp struct {
		Success       bool `json:"success"`
		AlreadyExists bool `json:"already_exists"`
	}
	if err := c.do(ctx, http.MethodPost, "/waitlist", req, &resp); err != nil {
		return false, err
	}
	return resp.AlreadyExists, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("verify: marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, body)
	if err != nil {
		return fmt.Errorf("verify: new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("verify: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("verify: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("verify: decode %s: %w", path, err)
		}
	}
	return nil
}
