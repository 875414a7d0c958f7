package memory

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/internal/storetest"
	"github.com/xraph/backlog/queue"
)

func TestQueueStore(t *testing.T) {
	storetest.QueueStore(t, func(_ *testing.T) queue.Store { return New() })
}

func TestFailedStore(t *testing.T) {
	storetest.FailedStore(t, func(_ *testing.T) dlq.Store { return New() })
}

func TestLifecycle(t *testing.T) {
	s := New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReserveKeepsUnknownFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	raw := []byte(`{"id":"a","attempts":2,"runningTimeoutSec":5,"extra":{"k":[1,2]}}`)
	if err := s.Push(ctx, "default", raw); err != nil {
		t.Fatalf("Push: %v", err)
	}
	_, reserved, err := s.Reserve(ctx, "default", storetest.Epoch)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	want := `{"attempts":3,"extra":{"k":[1,2]},"id":"a","runningTimeoutSec":5}`
	if string(reserved) != want {
		t.Fatalf("reserved = %s, want %s", reserved, want)
	}

	_, _, held := s.Members("default")
	if len(held) != 1 || string(held[0]) != want {
		t.Fatalf("reserved set = %q", held)
	}
}

func TestPushCopiesPayload(t *testing.T) {
	s := New()
	ctx := context.Background()

	payload := storetest.Record(t, "a", 60)
	if err := s.Push(ctx, "default", payload); err != nil {
		t.Fatalf("Push: %v", err)
	}
	payload[0] = 'X'

	ready, _, _ := s.Members("default")
	if len(ready) != 1 || ready[0][0] != '{' {
		t.Fatalf("stored payload was mutated through the caller's slice: %s", ready[0])
	}
}

func TestWaitCanceled(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := s.Wait(ctx, "default", time.Minute)
	if ok || err == nil {
		t.Fatalf("Wait on canceled context = %v, %v", ok, err)
	}
}

func TestCronLock(t *testing.T) {
	now := storetest.Epoch
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ok, err := s.AcquireCronLock(ctx, "nightly:1", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = s.AcquireCronLock(ctx, "nightly:1", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want held", ok, err)
	}

	now = now.Add(time.Minute)
	ok, err = s.AcquireCronLock(ctx, "nightly:1", "b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry = %v, %v", ok, err)
	}
}
