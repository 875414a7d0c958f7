package worker

import (
	"syscall"
	"testing"
)

type recordingTarget struct {
	stops, kills int
}

func (r *recordingTarget) Stop() { r.stops++ }
func (r *recordingTarget) Kill() { r.kills++ }

func TestDispatchSignal(t *testing.T) {
	r := &recordingTarget{}
	dispatchSignal(syscall.SIGINT, r)
	dispatchSignal(syscall.SIGTERM, r)
	dispatchSignal(syscall.SIGQUIT, r)

	if r.stops != 2 || r.kills != 1 {
		t.Fatalf("stops = %d kills = %d, want 2 and 1", r.stops, r.kills)
	}
}
