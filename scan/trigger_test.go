package scan

import (
	"context"
	"testing"
	"time"
)

func drain(c <-chan struct{}) {
	for {
		select {
		case <-c:
		default:
			return
		}
	}
}

func TestTrigger_PeriodicFire(t *testing.T) {
	tr := NewTrigger(30*time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	select {
	case <-tr.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("no periodic fire")
	}
}

func TestTrigger_NotifyDebounced(t *testing.T) {
	tr := NewTrigger(time.Hour, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	drain(tr.C())

	// A burst of notifications collapses to one fire after the window.
	for i := 0; i < 10; i++ {
		tr.Notify()
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-tr.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("debounced fire never arrived")
	}

	// No further fire without further activity.
	select {
	case <-tr.C():
		t.Fatal("unexpected second fire")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestTrigger_NotifyNeverBlocks(t *testing.T) {
	tr := NewTrigger(time.Hour, time.Hour)
	// No Run loop consuming: Notify must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			tr.Notify()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}
