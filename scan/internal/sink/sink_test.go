package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verifily/vigil/fingerprint"
	"github.com/verifily/vigil/verify"
)

func sampleEvent() Event {
	return Event{
		ID:             "evt_1",
		PassID:         "pass_1",
		Element:        42,
		Fingerprint:    fingerprint.Hash("hello"),
		Classification: verify.ClassAI,
		AIProbability:  0.9,
		At:             time.Now().UTC(),
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)

	if err := s.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if err := s.SendSummary(context.Background(), Summary{PassID: "pass_1", Seen: 3}); err != nil {
		t.Fatal(err)
	}

	dec := json.NewDecoder(&buf)
	var first, second envelope
	if err := dec.Decode(&first); err != nil {
		t.Fatal(err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatal(err)
	}
	if first.Type != "event" || second.Type != "summary" {
		t.Errorf("types = %s, %s", first.Type, second.Type)
	}
}

func TestWebhook(t *testing.T) {
	var got atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode: %v", err)
		}
		got.Add(1)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL)
	if err := w.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatal(err)
	}
	if got.Load() != 1 {
		t.Fatalf("deliveries = %d", got.Load())
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(2))
	if err := w.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCallback(t *testing.T) {
	var events, summaries int
	c := NewCallback(
		func(_ context.Context, ev Event) error { events++; return nil },
		func(_ context.Context, sum Summary) error { summaries++; return nil },
	)
	c.Send(context.Background(), sampleEvent())
	c.SendSummary(context.Background(), Summary{})
	if events != 1 || summaries != 1 {
		t.Fatalf("events=%d summaries=%d", events, summaries)
	}
}

func TestRouter_FanOutAndErrorIsolation(t *testing.T) {
	var delivered int
	failing := NewCallback(func(context.Context, Event) error {
		return errors.New("sink down")
	}, nil)
	working := NewCallback(func(context.Context, Event) error {
		delivered++
		return nil
	}, nil)

	r := NewRouter(nil, failing, working)
	err := r.Send(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected first error to propagate")
	}
	if delivered != 1 {
		t.Fatalf("working sink deliveries = %d, want 1", delivered)
	}
}
