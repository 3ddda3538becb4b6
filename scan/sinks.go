package scan

import (
	"context"
	"io"
	"log/slog"

	"github.com/verifily/vigil/scan/internal/sink"
)

// Sink is the output interface for scan events.
type Sink = sink.Sink

// Event records one element's verification outcome.
type Event = sink.Event

// Summary describes one completed pass.
type Summary = sink.Summary

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(
	onEvent func(ctx context.Context, ev Event) error,
	onSummary func(ctx context.Context, sum Summary) error,
) Sink {
	return sink.NewCallback(onEvent, onSummary)
}

// BuildSinks constructs the configured sinks behind a fan-out router.
// An empty config yields a stdout sink.
func BuildSinks(cfgs []SinkConfig, logger *slog.Logger) Sink {
	if len(cfgs) == 0 {
		return sink.NewStdout(nil)
	}
	sinks := make([]Sink, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Type {
		case "webhook":
			sinks = append(sinks, NewWebhookSink(c.URL, logger))
		default:
			sinks = append(sinks, sink.NewStdout(nil))
		}
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return sink.NewRouter(logger, sinks...)
}
