package streamutil

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestForwardDeliversInOrderAndClosesOnce(t *testing.T) {
	closed := 0
	closer := func() error {
		closed++
		return nil
	}
	out, cancel := Forward(context.Background(), closer, func(ctx context.Context, yield YieldFunc[int]) {
		for i := 0; i < 3; i++ {
			if !yield(i) {
				return
			}
		}
	})

	var got []int
	for v := range out {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("unexpected elements %v", got)
	}
	_ = cancel()
	if closed != 1 {
		t.Fatalf("expected closer to run once, ran %d times", closed)
	}
}

func TestForwardStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	out, _ := Forward(ctx, nil, func(ctx context.Context, yield YieldFunc[string]) {
		defer close(done)
		for yield("frame") {
		}
	})

	<-out
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop after cancellation")
	}
	for range out {
	}
}

func TestForwardCancelReportsCloserError(t *testing.T) {
	boom := errors.New("connection reset")
	done := make(chan struct{})
	out, cancel := Forward(context.Background(), func() error { return boom }, func(ctx context.Context, yield YieldFunc[int]) {
		defer close(done)
		for i := 0; yield(i); i++ {
		}
	})

	<-out
	if err := cancel(); !errors.Is(err, boom) {
		t.Fatalf("expected closer error, got %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop after cancel")
	}
	if err := cancel(); !errors.Is(err, boom) {
		t.Fatalf("second cancel should report the same error, got %v", err)
	}
}
