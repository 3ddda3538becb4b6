package sink

import "context"

// EventFunc is called for each event.
type EventFunc func(ctx context.Context, ev Event) error

// SummaryFunc is called for each pass summary.
type SummaryFunc func(ctx context.Context, sum Summary) error

// Callback is an in-process sink with zero serialisation.
type Callback struct {
	onEvent   EventFunc
	onSummary SummaryFunc
}

// NewCallback creates a Callback sink. Nil funcs are ignored.
func NewCallback(onEvent EventFunc, onSummary SummaryFunc) *Callback {
	return &Callback{onEvent: onEvent, onSummary: onSummary}
}

func (c *Callback) Send(ctx context.Context, ev Event) error {
	if c.onEvent == nil {
		return nil
	}
	return c.onEvent(ctx, ev)
}

func (c *Callback) SendSummary(ctx context.Context, sum Summary) error {
	if c.onSummary == nil {
		return nil
	}
	return c.onSummary(ctx, sum)
}

func (c *Callback) Close() error { return nil }
