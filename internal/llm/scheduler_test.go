package llm

import (
	"context"
	"errors"
	"testing"
)

func TestSchedulerDeliversOnLaterTick(t *testing.T) {
	s := NewScheduler[int](context.Background(), "test", 12, nil)
	if !s.Request("a", 5, func(context.Context) (int, error) { return 7, nil }) {
		t.Fatal("request refused")
	}
	if s.Request("a", 5, func(context.Context) (int, error) { return 8, nil }) {
		t.Error("duplicate key should be refused while pending")
	}
	s.Wait()

	out := s.Collect(6)
	if len(out) != 1 || out[0].Value != 7 || out[0].Err != nil || out[0].RequestedTick != 5 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if s.Pending() != 0 {
		t.Error("collected jobs should be removed")
	}
}

func TestSchedulerTimesOutInTicks(t *testing.T) {
	s := NewScheduler[string](context.Background(), "test", 12, nil)
	t.Cleanup(s.Close)

	s.Request("slow", 10, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if out := s.Collect(21); len(out) != 0 {
		t.Fatalf("job abandoned early: %+v", out)
	}
	out := s.Collect(22)
	if len(out) != 1 || !errors.Is(out[0].Err, ErrTimeout) {
		t.Fatalf("expected a timeout outcome, got %+v", out)
	}
}

func TestBreakerCooldown(t *testing.T) {
	b := NewBreaker(2, 50)
	s := NewScheduler[int](context.Background(), "test", 1, b)
	fail := func(context.Context) (int, error) { return 0, errors.New("bad payload") }

	s.Request("a", 1, fail)
	s.Wait()
	s.Collect(1)
	if !b.Allow(2) {
		t.Fatal("one failure should not trip the breaker")
	}

	s.Request("b", 2, fail)
	s.Wait()
	s.Collect(2)
	if b.Allow(3) {
		t.Error("breaker should be open after two consecutive failures")
	}
	if s.Request("c", 3, fail) {
		t.Error("requests must be refused during cooldown")
	}
	if !b.Allow(52) {
		t.Error("breaker should close after the cooldown")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker(2, 50)
	b.Failure(1)
	b.Success()
	b.Failure(2)
	if !b.Allow(3) {
		t.Error("a success should reset the failure streak")
	}
}
