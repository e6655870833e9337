package gate

import (
	"testing"
	"time"
)

func newTestGate() *Gate {
	return New(2*time.Second, 3*time.Second, nil)
}

func TestAdmitThenCooldown(t *testing.T) {
	g := newTestGate()
	now := time.Now()

	ok, reason := g.Admit("るくす", now)
	if !ok || reason != ReasonAdmitted {
		t.Fatalf("first admit: ok=%v reason=%v", ok, reason)
	}
	g.EndProcessing()

	// Identical text inside the cooldown is suppressed.
	ok, reason = g.Admit("るくす", now.Add(1*time.Second))
	if ok || reason != ReasonCooldown {
		t.Errorf("within cooldown: ok=%v reason=%v, want cooldown suppression", ok, reason)
	}

	// After the cooldown it fires again.
	ok, reason = g.Admit("るくす", now.Add(4*time.Second))
	if !ok || reason != ReasonAdmitted {
		t.Errorf("after cooldown: ok=%v reason=%v", ok, reason)
	}
}

func TestCooldownOnlyForIdenticalText(t *testing.T) {
	g := newTestGate()
	now := time.Now()

	g.Admit("るくす", now)
	g.EndProcessing()

	ok, reason := g.Admit("るくす今日の天気", now.Add(1*time.Second))
	if !ok {
		t.Errorf("different text within cooldown suppressed: reason=%v", reason)
	}
}

func TestOutputActiveSuppressesEverything(t *testing.T) {
	g := newTestGate()
	g.SetOutputActive(true)

	ok, reason := g.Admit("るくす", time.Now())
	if ok || reason != ReasonOutputActive {
		t.Errorf("admit during output: ok=%v reason=%v", ok, reason)
	}
	if !g.Suppressed() {
		t.Error("Suppressed() false while output active")
	}
}

func TestPostOutputWindow(t *testing.T) {
	g := newTestGate()

	g.SetOutputActive(true)
	g.SetOutputActive(false)

	ok, reason := g.Admit("るくす", time.Now())
	if ok || reason != ReasonOutputWindow {
		t.Errorf("admit inside post-output window: ok=%v reason=%v", ok, reason)
	}
	if !g.Suppressed() {
		t.Error("Suppressed() false inside the post-output echo window")
	}

	ok, _ = g.Admit("るくす", time.Now().Add(3*time.Second))
	if !ok {
		t.Error("admit after window elapsed should succeed")
	}
}

func TestInFlightSuppression(t *testing.T) {
	g := newTestGate()
	now := time.Now()

	if ok, _ := g.Admit("るくす", now); !ok {
		t.Fatal("first admit failed")
	}
	if !g.Suppressed() {
		t.Error("Suppressed() false while a detection is in flight")
	}

	// A different phrase during handling is still rejected.
	ok, reason := g.Admit("おーけー", now.Add(time.Millisecond))
	if ok || reason != ReasonInFlight {
		t.Errorf("admit while in flight: ok=%v reason=%v", ok, reason)
	}

	g.EndProcessing()
	if g.Suppressed() {
		t.Error("Suppressed() true after EndProcessing")
	}
}

func TestStateCounters(t *testing.T) {
	g := newTestGate()
	now := time.Now()

	g.Admit("るくす", now)
	g.EndProcessing()
	g.Admit("るくす", now.Add(time.Second)) // cooldown

	s := g.State()
	if s.AdmittedCount != 1 || s.SuppressedCount != 1 {
		t.Errorf("counters = %+v, want 1 admitted, 1 suppressed", s)
	}
	if s.LastText != "るくす" {
		t.Errorf("last text = %q", s.LastText)
	}
}
