package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/docdex/docdex/pkg/fn"
)

func TestLimiterAllowRespectsBurst(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 2})

	if !l.Allow() || !l.Allow() {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected third immediate call to be limited")
	}
}

func TestLimiterWaitRefills(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 100, Burst: 1})
	if !l.Allow() {
		t.Fatal("expected first token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("expected refill within deadline: %v", err)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.01, Burst: 1})
	if !l.Allow() {
		t.Fatal("expected first token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected wait to fail under a short deadline")
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	ctx := context.Background()

	called := false
	if err := l.Call(ctx, func(context.Context) error { called = true; return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !called {
		t.Fatal("expected f to run")
	}

	err := l.Call(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	for i := 0; i < DefaultLimiterOpts.Burst; i++ {
		if !l.Allow() {
			t.Fatalf("expected default burst of %d, limited at %d", DefaultLimiterOpts.Burst, i)
		}
	}
}

func TestLimiterStage(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	stage := LimiterStage(l, func(_ context.Context, in string) fn.Result[string] {
		return fn.Ok(in + "!")
	})

	v, err := stage(context.Background(), "ok").Unwrap()
	if err != nil || v != "ok!" {
		t.Fatalf("got (%q, %v)", v, err)
	}

	r := stage(context.Background(), "again")
	if r.IsOk() {
		t.Fatal("expected rate limited")
	}
	_, err = r.Unwrap()
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterStageWait(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 100, Burst: 1})
	stage := LimiterStageWait(l, func(_ context.Context, in int) fn.Result[int] {
		return fn.Ok(in * 2)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Second call has to wait for a refill but still succeeds.
	for want := 1; want <= 2; want++ {
		v, err := stage(ctx, want).Unwrap()
		if err != nil || v != want*2 {
			t.Fatalf("call %d: got (%d, %v)", want, v, err)
		}
	}
}
