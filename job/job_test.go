package job_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/job"
)

func TestRecord_EncodeDecode(t *testing.T) {
	rec := &job.Record{
		ID:                "job_1",
		Name:              "send-email",
		Attempts:          2,
		MaxAttempts:       5,
		RetryAfterSec:     30,
		RunningTimeoutSec: 60,
		Target:            []byte(`{"type":"send-email"}`),
		Backoff:           "exponential",
	}

	data, err := job.EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	got, err := job.DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.ID != rec.ID || got.Attempts != 2 || got.MaxAttempts != 5 || got.Backoff != "exponential" {
		t.Errorf("decoded record mismatch: %+v", got)
	}
	if string(got.Target) != string(rec.Target) {
		t.Errorf("Target = %q, want %q", got.Target, rec.Target)
	}
	if got.RetryAfter() != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", got.RetryAfter())
	}
	if got.RunningTimeout() != time.Minute {
		t.Errorf("RunningTimeout = %v, want 1m", got.RunningTimeout())
	}
}

func TestRecord_WireFieldNames(t *testing.T) {
	data, err := job.EncodeRecord(&job.Record{ID: "job_1", Name: "n", MaxAttempts: 3, RunningTimeoutSec: 60})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	want := `{"id":"job_1","name":"n","attempts":0,"maxAttempts":3,"retryAfterSec":0,"runningTimeoutSec":60,"target":null}`
	if string(data) != want {
		t.Errorf("wire = %s\nwant  %s", data, want)
	}
}

func TestDecodeRecord_Corrupt(t *testing.T) {
	for _, input := range []string{"", "{", `{"name":"no-id"}`, `[1,2]`} {
		_, err := job.DecodeRecord([]byte(input))
		if !errors.Is(err, backlog.ErrCorruptRecord) {
			t.Errorf("DecodeRecord(%q): expected ErrCorruptRecord, got %v", input, err)
		}
	}
}

func TestRecord_CanRetry(t *testing.T) {
	tests := []struct {
		attempts, max int
		want          bool
	}{
		{1, 3, true},
		{2, 3, true},
		{3, 3, false},
		{4, 3, false},
		{100, 0, true},
		{1, -1, true},
	}
	for _, tt := range tests {
		r := job.Record{Attempts: tt.attempts, MaxAttempts: tt.max}
		if got := r.CanRetry(); got != tt.want {
			t.Errorf("CanRetry(attempts=%d, max=%d) = %v, want %v", tt.attempts, tt.max, got, tt.want)
		}
	}
}

func TestNewSpec_Defaults(t *testing.T) {
	s := job.NewSpec(nil)
	if s.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", s.MaxAttempts)
	}
	if s.RunningTimeout != job.DefaultRunningTimeout {
		t.Errorf("RunningTimeout = %v, want %v", s.RunningTimeout, job.DefaultRunningTimeout)
	}
	if s.Queue != "" {
		t.Errorf("Queue = %q, want empty", s.Queue)
	}
}

func TestDefinition_SpecAppliesOptions(t *testing.T) {
	def := job.NewDefinition("report", func(_ context.Context, _ int) error { return nil },
		job.WithQueue("reports"),
		job.WithMaxAttempts(7),
	)

	s := def.Spec(42, job.WithRetryAfter(time.Minute), job.WithName("monthly report"))
	if s.Queue != "reports" {
		t.Errorf("Queue = %q, want reports", s.Queue)
	}
	if s.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", s.MaxAttempts)
	}
	if s.RetryAfter != time.Minute {
		t.Errorf("RetryAfter = %v, want 1m", s.RetryAfter)
	}
	if s.Name != "monthly report" {
		t.Errorf("Name = %q, want %q", s.Name, "monthly report")
	}
	if s.Target == nil {
		t.Fatal("expected target")
	}

	// Definition defaults are untouched by per-spec options.
	if def.Opts.RetryAfter != 0 {
		t.Errorf("definition RetryAfter mutated to %v", def.Opts.RetryAfter)
	}
}

func TestSpec_EligibleAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := job.NewSpec(nil).EligibleAt(now); !got.Equal(now) {
		t.Errorf("immediate: got %v, want %v", got, now)
	}
	if got := job.NewSpec(nil, job.WithDelay(10*time.Second)).EligibleAt(now); !got.Equal(now.Add(10 * time.Second)) {
		t.Errorf("delay: got %v", got)
	}
	at := now.Add(time.Hour)
	if got := job.NewSpec(nil, job.WithDelay(time.Second), job.WithAvailableAt(at)).EligibleAt(now); !got.Equal(at) {
		t.Errorf("availableAt: got %v, want %v", got, at)
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("invalid address")

	if job.Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}

	err := fmt.Errorf("send: %w", job.Permanent(base))
	if !job.IsPermanent(err) {
		t.Error("expected wrapped permanent error to be detected")
	}
	if !errors.Is(err, base) {
		t.Error("permanent error should unwrap to its cause")
	}
	if job.IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
}

func TestPanicError(t *testing.T) {
	err := &job.PanicError{Value: "boom", Stack: []byte("goroutine 1")}
	if err.Error() != "panic: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
