package bridge

import (
	"context"
	"testing"
)

func TestNewCall(t *testing.T) {
	t.Parallel()
	a := NewCall(context.Background())
	b := NewCall(context.Background())

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("call ids %q and %q should be non-empty and distinct", a.ID, b.ID)
	}
	if got := a.Stats().Turn; got != 1 {
		t.Fatalf("Turn = %d, want 1", got)
	}
	if !a.Flag.Running() {
		t.Fatal("new call should be running")
	}
}

func TestCall_StopAndInfo(t *testing.T) {
	t.Parallel()
	c := NewCall(context.Background())
	c.setStream("SID1", "CA1", "+91100", "+91200")
	c.Counters().ChunksSent.Add(3)

	info := c.Info()
	if info.StreamSID != "SID1" || info.CallSID != "CA1" || info.From != "+91100" || info.To != "+91200" {
		t.Fatalf("Info = %+v", info)
	}
	if !info.Running || info.Stats.ChunksSent != 3 {
		t.Fatalf("Info = %+v", info)
	}

	if !c.Stop() {
		t.Fatal("Stop should report true the first time")
	}
	if c.Stop() {
		t.Fatal("Stop should report false once stopped")
	}
	if c.Info().Running {
		t.Fatal("Info reports running after Stop")
	}
	if c.Flag.Reason() != ReasonStopped {
		t.Fatalf("Reason = %q, want %q", c.Flag.Reason(), ReasonStopped)
	}
}
