package delivery

import (
	"errors"
	"testing"
	"time"

	"github.com/user/clawgate/internal/subscriber"
)

func fastRetry(attempts int) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func TestDeliverRoutesBySurface(t *testing.T) {
	d := NewDispatcher(fastRetry(1))
	var got []string
	d.Register("telegram", func(to string, b subscriber.Block) error {
		got = append(got, to+":"+b.Text)
		return nil
	})

	if err := d.Deliver("telegram:42", "telegram", "42", subscriber.Block{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "42:hi" {
		t.Errorf("got %v", got)
	}
}

func TestDeliverFallsBackToKeyPrefix(t *testing.T) {
	d := NewDispatcher(fastRetry(1))
	called := false
	d.Register("telegram", func(string, subscriber.Block) error {
		called = true
		return nil
	})

	if err := d.Deliver("telegram:hooks", "", "42", subscriber.Block{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("key prefix should route to the telegram handler")
	}
}

func TestDeliverUnknownSurface(t *testing.T) {
	d := NewDispatcher(fastRetry(1))
	if err := d.Deliver("signal:1", "signal", "1", subscriber.Block{Text: "hi"}); err == nil {
		t.Error("expected error for unregistered surface")
	}
}

func TestDeliverRetriesTransientFailure(t *testing.T) {
	d := NewDispatcher(fastRetry(3))
	calls := 0
	d.Register("telegram", func(string, subscriber.Block) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err := d.Deliver("telegram:1", "telegram", "1", subscriber.Block{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDeliverPermanentFailureNotRetried(t *testing.T) {
	d := NewDispatcher(fastRetry(3))
	calls := 0
	var notices []string
	d.Register("telegram", func(_ string, b subscriber.Block) error {
		calls++
		if b.Text == deliveryFailedNotice {
			notices = append(notices, b.Text)
			return nil
		}
		return errors.New("unauthorized")
	})

	if err := d.Deliver("telegram:1", "telegram", "1", subscriber.Block{Text: "hi"}); err == nil {
		t.Fatal("expected delivery error")
	}
	// one failed attempt plus the downgrade notice
	if calls != 2 || len(notices) != 1 {
		t.Errorf("calls = %d, notices = %v", calls, notices)
	}
}

func TestNextDelayCapped(t *testing.T) {
	p := &RetryPolicy{InitialDelay: time.Second, Multiplier: 10, MaxDelay: 5 * time.Second}
	if p.NextDelay(1) != time.Second {
		t.Errorf("first delay = %v", p.NextDelay(1))
	}
	if p.NextDelay(4) != 5*time.Second {
		t.Errorf("delay should cap at MaxDelay, got %v", p.NextDelay(4))
	}
}
