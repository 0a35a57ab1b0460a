package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAcker struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.acks++
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

type fakeTxn struct {
	commits   int
	rollbacks int
}

func (f *fakeTxn) Commit() error {
	f.commits++
	return nil
}

func (f *fakeTxn) Rollback() error {
	f.rollbacks++
	return nil
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 3 * time.Second,
		Multiplier:      3,
		MaxInterval:     10 * time.Second,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 3 * time.Second},
		{1, 3 * time.Second},
		{2, 9 * time.Second},
		{3, 10 * time.Second},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDispatch(t *testing.T) {
	fastPolicy := RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		Multiplier:      3,
		MaxInterval:     5 * time.Millisecond,
	}

	tests := []struct {
		name         string
		failures     int
		panics       bool
		wantCalls    int
		wantAcks     int
		wantNacks    int
		wantRequeued bool
	}{
		{name: "success on first attempt", failures: 0, wantCalls: 1, wantAcks: 1},
		{name: "success after two failures", failures: 2, wantCalls: 3, wantAcks: 1},
		{name: "dropped after three failures", failures: 3, wantCalls: 3, wantNacks: 1},
		{name: "panic counts as failure", failures: 3, panics: true, wantCalls: 3, wantNacks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			handler := func(ctx context.Context, d amqp.Delivery) error {
				calls++
				if calls <= tt.failures {
					if tt.panics {
						panic("boom")
					}
					return errors.New("transient")
				}
				return nil
			}

			c := NewConsumer(nil, "keyword", fastPolicy, handler)
			acker := &fakeAcker{}
			tx := &fakeTxn{}

			c.dispatch(context.Background(), tx, amqp.Delivery{Acknowledger: acker, DeliveryTag: 1})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if acker.acks != tt.wantAcks || acker.nacks != tt.wantNacks {
				t.Errorf("acks/nacks = %d/%d, want %d/%d", acker.acks, acker.nacks, tt.wantAcks, tt.wantNacks)
			}
			if acker.requeued != tt.wantRequeued {
				t.Errorf("requeued = %v, want %v", acker.requeued, tt.wantRequeued)
			}
			if tx.commits != 1 {
				t.Errorf("commits = %d, want 1", tx.commits)
			}
		})
	}
}

func TestDispatchRequeuesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Hour, Multiplier: 3, MaxInterval: time.Hour}
	handler := func(ctx context.Context, d amqp.Delivery) error {
		cancel()
		return ctx.Err()
	}

	c := NewConsumer(nil, "keyword", policy, handler)
	acker := &fakeAcker{}
	tx := &fakeTxn{}

	done := make(chan struct{})
	go func() {
		c.dispatch(ctx, tx, amqp.Delivery{Acknowledger: acker, DeliveryTag: 7})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after shutdown")
	}

	if acker.nacks != 1 || !acker.requeued {
		t.Errorf("expected one requeueing nack, got nacks=%d requeued=%v", acker.nacks, acker.requeued)
	}
	if tx.commits != 1 {
		t.Errorf("commits = %d, want 1", tx.commits)
	}
}

func TestDispatchRunsExhaustedHook(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, Multiplier: 1}
	failure := errors.New("broken")

	var hookErr error
	var hookTag uint64
	c := NewConsumer(nil, "keyword", policy, func(ctx context.Context, d amqp.Delivery) error {
		return failure
	}).OnExhausted(func(ctx context.Context, d amqp.Delivery, err error) {
		hookErr = err
		hookTag = d.DeliveryTag
	})

	acker := &fakeAcker{}
	c.dispatch(context.Background(), &fakeTxn{}, amqp.Delivery{Acknowledger: acker, DeliveryTag: 9})

	if !errors.Is(hookErr, failure) || hookTag != 9 {
		t.Errorf("hook got err=%v tag=%d", hookErr, hookTag)
	}
	if acker.nacks != 1 || acker.requeued {
		t.Errorf("expected one dropping nack, got nacks=%d requeued=%v", acker.nacks, acker.requeued)
	}
}

type countedFailure struct {
	attempt int
}

func (e countedFailure) Error() string { return "phase failed" }
func (e countedFailure) Attempt() int  { return e.attempt }

func TestDispatchUsesHandlerAttemptCount(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, Multiplier: 1}

	tests := []struct {
		name      string
		failures  []int
		wantCalls int
		wantAcks  int
		wantNacks int
	}{
		{name: "count resets between phases", failures: []int{1, 1, 2}, wantCalls: 4, wantAcks: 1},
		{name: "handler count reaches limit", failures: []int{1, 3}, wantCalls: 2, wantNacks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			exhausted := false
			c := NewConsumer(nil, "keyword", policy, func(ctx context.Context, d amqp.Delivery) error {
				calls++
				if calls <= len(tt.failures) {
					return fmt.Errorf("render: %w", countedFailure{attempt: tt.failures[calls-1]})
				}
				return nil
			}).OnExhausted(func(ctx context.Context, d amqp.Delivery, err error) {
				exhausted = true
			})

			acker := &fakeAcker{}
			c.dispatch(context.Background(), &fakeTxn{}, amqp.Delivery{Acknowledger: acker, DeliveryTag: 3})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if acker.acks != tt.wantAcks || acker.nacks != tt.wantNacks {
				t.Errorf("acks/nacks = %d/%d, want %d/%d", acker.acks, acker.nacks, tt.wantAcks, tt.wantNacks)
			}
			if exhausted != (tt.wantNacks == 1) {
				t.Errorf("exhausted hook ran = %v", exhausted)
			}
		})
	}
}
