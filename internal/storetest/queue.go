// Package storetest holds the behavioral tests every store backend must
// pass. Backends call QueueStore and FailedStore from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// Epoch is the fixed "now" used by the suites.
var Epoch = time.Unix(1_700_000_000, 0)

// Record encodes a wire record with the given id and running timeout.
func Record(t *testing.T, id string, runningTimeoutSec int64) []byte {
	t.Helper()
	data, err := job.EncodeRecord(&job.Record{
		ID:                id,
		Name:              "test-job",
		MaxAttempts:       3,
		RunningTimeoutSec: runningTimeoutSec,
		Target:            []byte(`{"type":"noop"}`),
	})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	return data
}

func decode(t *testing.T, data []byte) *job.Record {
	t.Helper()
	rec, err := job.DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord(%s): %v", data, err)
	}
	return rec
}

func mustReserve(t *testing.T, s queue.Store, name string, now time.Time) (raw, reserved []byte) {
	t.Helper()
	raw, reserved, err := s.Reserve(context.Background(), name, now)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reserved == nil {
		t.Fatal("Reserve: expected a record, got none")
	}
	return raw, reserved
}

func assertStats(t *testing.T, s queue.Store, name string, want queue.Stats) {
	t.Helper()
	got, err := s.Size(context.Background(), name)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got != want {
		t.Fatalf("Size(%q) = %+v, want %+v", name, got, want)
	}
}

// QueueStore runs the queue.Store behavior suite. newStore must return an
// empty store.
func QueueStore(t *testing.T, newStore func(t *testing.T) queue.Store) {
	ctx := context.Background()

	t.Run("ReserveEmpty", func(t *testing.T) {
		s := newStore(t)
		raw, reserved, err := s.Reserve(ctx, "default", Epoch)
		if err != nil || raw != nil || reserved != nil {
			t.Fatalf("Reserve on empty queue = %q, %q, %v", raw, reserved, err)
		}
	})

	t.Run("FIFO", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b", "c"} {
			if err := s.Push(ctx, "default", Record(t, id, 60)); err != nil {
				t.Fatalf("Push: %v", err)
			}
		}
		for _, want := range []string{"a", "b", "c"} {
			_, reserved := mustReserve(t, s, "default", Epoch)
			if got := decode(t, reserved).ID; got != want {
				t.Fatalf("reserved %q, want %q", got, want)
			}
		}
	})

	t.Run("QueuesAreIsolated", func(t *testing.T) {
		s := newStore(t)
		if err := s.Push(ctx, "emails", Record(t, "a", 60)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		_, reserved, err := s.Reserve(ctx, "reports", Epoch)
		if err != nil || reserved != nil {
			t.Fatalf("Reserve(reports) = %q, %v; want nothing", reserved, err)
		}
		assertStats(t, s, "emails", queue.Stats{Ready: 1})
	})

	t.Run("ReserveIncrementsAttempts", func(t *testing.T) {
		s := newStore(t)
		pushed := Record(t, "a", 60)
		if err := s.Push(ctx, "default", pushed); err != nil {
			t.Fatalf("Push: %v", err)
		}

		raw, reserved := mustReserve(t, s, "default", Epoch)
		if string(raw) != string(pushed) {
			t.Errorf("raw = %s, want the pushed record %s", raw, pushed)
		}
		rec := decode(t, reserved)
		if rec.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", rec.Attempts)
		}
		if rec.ID != "a" || rec.MaxAttempts != 3 || rec.RunningTimeoutSec != 60 {
			t.Errorf("reserved record lost fields: %+v", rec)
		}
		if string(rec.Target) != `{"type":"noop"}` {
			t.Errorf("Target = %s", rec.Target)
		}
		assertStats(t, s, "default", queue.Stats{Reserved: 1})
	})

	t.Run("ReserveCorruptRecord", func(t *testing.T) {
		s := newStore(t)
		if err := s.Push(ctx, "default", []byte("{not json")); err != nil {
			t.Fatalf("Push: %v", err)
		}
		_, _, err := s.Reserve(ctx, "default", Epoch)

		var corrupt *queue.CorruptRecordError
		if !errors.As(err, &corrupt) {
			t.Fatalf("expected *CorruptRecordError, got %v", err)
		}
		if !errors.Is(err, backlog.ErrCorruptRecord) {
			t.Error("corrupt record error should match ErrCorruptRecord")
		}
		if string(corrupt.Payload) != "{not json" {
			t.Errorf("Payload = %q", corrupt.Payload)
		}
		assertStats(t, s, "default", queue.Stats{})
	})

	t.Run("DelayedPromotion", func(t *testing.T) {
		s := newStore(t)
		if err := s.Later(ctx, "default", Record(t, "a", 60), Epoch.Add(10*time.Second)); err != nil {
			t.Fatalf("Later: %v", err)
		}

		n, err := s.PromoteMatured(ctx, queue.SetDelayed, "default", Epoch.Add(9*time.Second))
		if err != nil || n != 0 {
			t.Fatalf("early promote = %d, %v; want 0", n, err)
		}
		assertStats(t, s, "default", queue.Stats{Delayed: 1})

		n, err = s.PromoteMatured(ctx, queue.SetDelayed, "default", Epoch.Add(10*time.Second))
		if err != nil || n != 1 {
			t.Fatalf("promote = %d, %v; want 1", n, err)
		}
		_, reserved := mustReserve(t, s, "default", Epoch.Add(10*time.Second))
		if decode(t, reserved).ID != "a" {
			t.Error("promoted job not reserved")
		}
	})

	t.Run("PromotionOrderAndBatches", func(t *testing.T) {
		s := newStore(t)
		const total = 250
		for i := range total {
			// Later ids mature earlier.
			at := Epoch.Add(time.Duration(total-i) * time.Second)
			if err := s.Later(ctx, "default", Record(t, fmt.Sprintf("job-%03d", i), 60), at); err != nil {
				t.Fatalf("Later: %v", err)
			}
		}

		n, err := s.PromoteMatured(ctx, queue.SetDelayed, "default", Epoch.Add(time.Hour))
		if err != nil || n != total {
			t.Fatalf("promote = %d, %v; want %d", n, err, total)
		}
		assertStats(t, s, "default", queue.Stats{Ready: total})

		_, first := mustReserve(t, s, "default", Epoch)
		if got := decode(t, first).ID; got != fmt.Sprintf("job-%03d", total-1) {
			t.Errorf("first promoted = %q, want the earliest maturity", got)
		}
	})

	t.Run("ReservationReclaimedAfterTimeout", func(t *testing.T) {
		s := newStore(t)
		if err := s.Push(ctx, "default", Record(t, "a", 60)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		mustReserve(t, s, "default", Epoch)

		n, err := s.PromoteMatured(ctx, queue.SetReserved, "default", Epoch.Add(59*time.Second))
		if err != nil || n != 0 {
			t.Fatalf("reclaim before timeout = %d, %v; want 0", n, err)
		}
		n, err = s.PromoteMatured(ctx, queue.SetReserved, "default", Epoch.Add(60*time.Second))
		if err != nil || n != 1 {
			t.Fatalf("reclaim at timeout = %d, %v; want 1", n, err)
		}

		_, reserved := mustReserve(t, s, "default", Epoch.Add(61*time.Second))
		if got := decode(t, reserved).Attempts; got != 2 {
			t.Errorf("Attempts after reclaim = %d, want 2", got)
		}
	})

	t.Run("SubSecondTimesNeverMatureEarly", func(t *testing.T) {
		s := newStore(t)
		start := Epoch.Add(900 * time.Millisecond)

		if err := s.Later(ctx, "default", Record(t, "delayed", 60), start.Add(10*time.Second)); err != nil {
			t.Fatalf("Later: %v", err)
		}
		n, err := s.PromoteMatured(ctx, queue.SetDelayed, "default", start.Add(9200*time.Millisecond))
		if err != nil || n != 0 {
			t.Fatalf("promote 0.8s early = %d, %v; want 0", n, err)
		}
		n, err = s.PromoteMatured(ctx, queue.SetDelayed, "default", start.Add(10*time.Second))
		if err != nil || n != 1 {
			t.Fatalf("promote on time = %d, %v; want 1", n, err)
		}
		mustReserve(t, s, "default", start)

		if err := s.Push(ctx, "default", Record(t, "held", 5)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		_, reserved := mustReserve(t, s, "default", start)
		n, err = s.PromoteMatured(ctx, queue.SetReserved, "default", start.Add(4200*time.Millisecond))
		if err != nil || n != 0 {
			t.Fatalf("reclaim after 4.2s of 5s = %d, %v; want 0", n, err)
		}

		held, err := s.Reschedule(ctx, "default", reserved, start.Add(2*time.Second))
		if err != nil || !held {
			t.Fatalf("Reschedule = %v, %v; want true", held, err)
		}
		n, err = s.PromoteMatured(ctx, queue.SetDelayed, "default", start.Add(1999*time.Millisecond))
		if err != nil || n != 0 {
			t.Fatalf("promote retry 1ms early = %d, %v; want 0", n, err)
		}
		n, err = s.PromoteMatured(ctx, queue.SetDelayed, "default", start.Add(2*time.Second))
		if err != nil || n != 1 {
			t.Fatalf("promote retry on time = %d, %v; want 1", n, err)
		}
	})

	t.Run("RescheduleOnlyWhenHeld", func(t *testing.T) {
		s := newStore(t)
		if err := s.Push(ctx, "default", Record(t, "a", 60)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		_, reserved := mustReserve(t, s, "default", Epoch)

		held, err := s.Reschedule(ctx, "default", reserved, Epoch.Add(30*time.Second))
		if err != nil || !held {
			t.Fatalf("Reschedule = %v, %v; want true", held, err)
		}
		held, err = s.Reschedule(ctx, "default", reserved, Epoch.Add(30*time.Second))
		if err != nil || held {
			t.Fatalf("second Reschedule = %v, %v; want false", held, err)
		}
		assertStats(t, s, "default", queue.Stats{Delayed: 1})

		n, err := s.PromoteMatured(ctx, queue.SetDelayed, "default", Epoch.Add(30*time.Second))
		if err != nil || n != 1 {
			t.Fatalf("promote rescheduled = %d, %v", n, err)
		}
	})

	t.Run("DeleteReservedIdempotent", func(t *testing.T) {
		s := newStore(t)
		if err := s.Push(ctx, "default", Record(t, "a", 60)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		_, reserved := mustReserve(t, s, "default", Epoch)

		for range 2 {
			if err := s.DeleteReserved(ctx, "default", reserved); err != nil {
				t.Fatalf("DeleteReserved: %v", err)
			}
		}
		assertStats(t, s, "default", queue.Stats{})
	})

	t.Run("WaitTimesOut", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.Wait(ctx, "default", 10*time.Millisecond)
		if err != nil || ok {
			t.Fatalf("Wait on empty queue = %v, %v", ok, err)
		}
	})

	t.Run("WaitWakesOnPush", func(t *testing.T) {
		s := newStore(t)
		done := make(chan bool, 1)
		go func() {
			ok, err := s.Wait(ctx, "default", 5*time.Second)
			if err != nil {
				t.Errorf("Wait: %v", err)
			}
			done <- ok
		}()

		time.Sleep(50 * time.Millisecond)
		if err := s.Push(ctx, "default", Record(t, "a", 60)); err != nil {
			t.Fatalf("Push: %v", err)
		}

		select {
		case ok := <-done:
			if !ok {
				t.Fatal("Wait returned without a token")
			}
		case <-time.After(4 * time.Second):
			t.Fatal("Wait did not wake on push")
		}
	})

	t.Run("RestartSignal", func(t *testing.T) {
		s := newStore(t)
		got, err := s.RestartSignal(ctx)
		if err != nil || !got.IsZero() {
			t.Fatalf("initial RestartSignal = %v, %v", got, err)
		}

		at := Epoch.Add(1234 * time.Millisecond)
		if err := s.SetRestartSignal(ctx, at); err != nil {
			t.Fatalf("SetRestartSignal: %v", err)
		}
		got, err = s.RestartSignal(ctx)
		if err != nil || !got.Equal(at) {
			t.Fatalf("RestartSignal = %v, %v; want %v", got, err, at)
		}
	})

	t.Run("SizeAndClear", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"a", "b"} {
			if err := s.Push(ctx, "default", Record(t, id, 60)); err != nil {
				t.Fatalf("Push: %v", err)
			}
		}
		if err := s.Later(ctx, "default", Record(t, "c", 60), Epoch.Add(time.Minute)); err != nil {
			t.Fatalf("Later: %v", err)
		}
		mustReserve(t, s, "default", Epoch)
		assertStats(t, s, "default", queue.Stats{Ready: 1, Delayed: 1, Reserved: 1})

		n, err := s.Clear(ctx, "default")
		if err != nil || n != 3 {
			t.Fatalf("Clear = %d, %v; want 3", n, err)
		}
		assertStats(t, s, "default", queue.Stats{})
	})

	t.Run("ConcurrentReserveHandsOutEachJobOnce", func(t *testing.T) {
		s := newStore(t)
		const jobs, workers = 60, 8
		for i := range jobs {
			if err := s.Push(ctx, "default", Record(t, fmt.Sprintf("job-%02d", i), 60)); err != nil {
				t.Fatalf("Push: %v", err)
			}
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					_, reserved, err := s.Reserve(ctx, "default", Epoch)
					if err != nil {
						t.Errorf("Reserve: %v", err)
						return
					}
					if reserved == nil {
						return
					}
					rec, err := job.DecodeRecord(reserved)
					if err != nil {
						t.Errorf("DecodeRecord: %v", err)
						return
					}
					mu.Lock()
					seen[rec.ID]++
					if rec.Attempts != 1 {
						t.Errorf("job %s attempts = %d, want 1", rec.ID, rec.Attempts)
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != jobs {
			t.Fatalf("reserved %d distinct jobs, want %d", len(seen), jobs)
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("job %s reserved %d times", id, n)
			}
		}
		assertStats(t, s, "default", queue.Stats{Reserved: jobs})
	})
}
