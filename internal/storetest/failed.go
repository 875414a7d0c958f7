package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/dlq"
)

// Entry builds a failed job entry that happened offset after Epoch.
// Times are kept at microsecond precision so SQL backends round-trip them.
func Entry(id, queueName string, offset time.Duration) *dlq.Entry {
	return &dlq.Entry{
		ID:       id,
		Queue:    queueName,
		Name:     "send-email",
		Payload:  []byte(`{"id":"` + id + `","name":"send-email","attempts":2}`),
		Attempts: 3,
		Exception: dlq.Exception{
			Class:   "*errors.errorString",
			Message: "smtp: connection refused",
			Trace:   "goroutine 1 [running]:",
		},
		HappenedAt: Epoch.Add(offset).UTC(),
	}
}

func ids(entries []*dlq.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equalIDs(got []*dlq.Entry, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

// FailedStore runs the dlq.Store behavior suite. newStore must return an
// empty store.
func FailedStore(t *testing.T, newStore func(t *testing.T) dlq.Store) {
	ctx := context.Background()

	seed := func(t *testing.T, s dlq.Store) {
		t.Helper()
		for _, e := range []*dlq.Entry{
			Entry("job-b", "emails", 2*time.Second),
			Entry("job-a", "emails", 1*time.Second),
			Entry("job-c", "reports", 3*time.Second),
		} {
			if err := s.PushDLQ(ctx, e); err != nil {
				t.Fatalf("PushDLQ(%s): %v", e.ID, err)
			}
		}
	}

	t.Run("RoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := Entry("job-a", "emails", time.Second)
		if err := s.PushDLQ(ctx, want); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}

		got, err := s.GetDLQ(ctx, "job-a")
		if err != nil {
			t.Fatalf("GetDLQ: %v", err)
		}
		if got.ID != want.ID || got.Queue != want.Queue || got.Name != want.Name || got.Attempts != want.Attempts {
			t.Errorf("entry = %+v, want %+v", got, want)
		}
		if string(got.Payload) != string(want.Payload) {
			t.Errorf("Payload = %s, want %s", got.Payload, want.Payload)
		}
		if got.Exception != want.Exception {
			t.Errorf("Exception = %+v, want %+v", got.Exception, want.Exception)
		}
		if !got.HappenedAt.Equal(want.HappenedAt) {
			t.Errorf("HappenedAt = %v, want %v", got.HappenedAt, want.HappenedAt)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetDLQ(ctx, "nope"); !errors.Is(err, backlog.ErrFailedNotFound) {
			t.Fatalf("GetDLQ missing = %v, want ErrFailedNotFound", err)
		}
	})

	t.Run("PushReplacesSameID", func(t *testing.T) {
		s := newStore(t)
		first := Entry("job-a", "emails", time.Second)
		if err := s.PushDLQ(ctx, first); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
		second := Entry("job-a", "emails", 5*time.Second)
		second.Attempts = 5
		if err := s.PushDLQ(ctx, second); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}

		n, err := s.CountDLQ(ctx)
		if err != nil || n != 1 {
			t.Fatalf("CountDLQ = %d, %v; want 1", n, err)
		}
		got, err := s.GetDLQ(ctx, "job-a")
		if err != nil || got.Attempts != 5 {
			t.Fatalf("GetDLQ = %+v, %v; want the replacement", got, err)
		}
	})

	t.Run("ListOrderAndFilter", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		all, err := s.ListDLQ(ctx, dlq.ListOpts{})
		if err != nil {
			t.Fatalf("ListDLQ: %v", err)
		}
		if !equalIDs(all, "job-a", "job-b", "job-c") {
			t.Errorf("ListDLQ = %v, want oldest first", ids(all))
		}

		emails, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: "emails"})
		if err != nil {
			t.Fatalf("ListDLQ(emails): %v", err)
		}
		if !equalIDs(emails, "job-a", "job-b") {
			t.Errorf("ListDLQ(emails) = %v", ids(emails))
		}

		page, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListDLQ(page): %v", err)
		}
		if !equalIDs(page, "job-b") {
			t.Errorf("ListDLQ(limit 1 offset 1) = %v, want [job-b]", ids(page))
		}

		past, err := s.ListDLQ(ctx, dlq.ListOpts{Offset: 10})
		if err != nil || len(past) != 0 {
			t.Errorf("ListDLQ past the end = %v, %v", ids(past), err)
		}
	})

	t.Run("Forget", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		if err := s.ForgetDLQ(ctx, "job-b"); err != nil {
			t.Fatalf("ForgetDLQ: %v", err)
		}
		if err := s.ForgetDLQ(ctx, "job-b"); !errors.Is(err, backlog.ErrFailedNotFound) {
			t.Fatalf("second ForgetDLQ = %v, want ErrFailedNotFound", err)
		}
		all, err := s.ListDLQ(ctx, dlq.ListOpts{})
		if err != nil || !equalIDs(all, "job-a", "job-c") {
			t.Fatalf("ListDLQ after forget = %v, %v", ids(all), err)
		}
	})

	t.Run("Purge", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		n, err := s.PurgeDLQ(ctx, Epoch.Add(2500*time.Millisecond))
		if err != nil || n != 2 {
			t.Fatalf("PurgeDLQ = %d, %v; want 2", n, err)
		}
		all, err := s.ListDLQ(ctx, dlq.ListOpts{})
		if err != nil || !equalIDs(all, "job-c") {
			t.Fatalf("ListDLQ after purge = %v, %v", ids(all), err)
		}
	})

	t.Run("FlushAndCount", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		n, err := s.CountDLQ(ctx)
		if err != nil || n != 3 {
			t.Fatalf("CountDLQ = %d, %v; want 3", n, err)
		}
		n, err = s.FlushDLQ(ctx)
		if err != nil || n != 3 {
			t.Fatalf("FlushDLQ = %d, %v; want 3", n, err)
		}
		n, err = s.CountDLQ(ctx)
		if err != nil || n != 0 {
			t.Fatalf("CountDLQ after flush = %d, %v", n, err)
		}
	})
}
