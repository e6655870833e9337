// Package gate serializes detection delivery: one wake word at a time,
// none while the assistant is speaking or just finished speaking.
package gate

import (
	"log/slog"
	"sync"
	"time"
)

// Reason explains why an utterance was not admitted.
type Reason string

const (
	ReasonAdmitted     Reason = "admitted"
	ReasonOutputActive Reason = "output_active"
	ReasonOutputWindow Reason = "output_window"
	ReasonCooldown     Reason = "cooldown"
	ReasonInFlight     Reason = "in_flight"
)

// Snapshot is a point-in-time view of gate state for the stats endpoint.
type Snapshot struct {
	OutputActive    bool      `json:"output_active"`
	InFlight        bool      `json:"in_flight"`
	LastAdmitted    time.Time `json:"last_admitted,omitempty"`
	LastText        string    `json:"last_text,omitempty"`
	AdmittedCount   uint64    `json:"admitted_count"`
	SuppressedCount uint64    `json:"suppressed_count"`
}

// Gate tracks assistant output and recent admissions under one mutex so a
// single decision point orders every suppression rule.
type Gate struct {
	mu sync.Mutex

	outputActive bool
	// outputEnded is when output last transitioned active -> inactive.
	outputEnded time.Time
	inFlight    bool

	lastText     string
	lastAdmitted time.Time

	outputWindow time.Duration
	cooldown     time.Duration

	admitted   uint64
	suppressed uint64

	logger *slog.Logger
}

// New builds a gate. outputWindow is the quiet period after assistant
// output ends; cooldown is the minimum spacing between identical
// transcripts.
func New(outputWindow, cooldown time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		outputWindow: outputWindow,
		cooldown:     cooldown,
		logger:       logger.With("component", "gate"),
	}
}

// Admit decides whether a verified detection may be delivered. Rules are
// checked in order: assistant speaking, post-output window, identical-text
// cooldown, and a detection already being handled. On admission the gate
// marks itself in flight; the caller must call EndProcessing when the
// callback returns.
func (g *Gate) Admit(text string, now time.Time) (bool, Reason) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outputActive {
		g.suppressed++
		return false, ReasonOutputActive
	}
	if !g.outputEnded.IsZero() && now.Sub(g.outputEnded) < g.outputWindow {
		g.suppressed++
		return false, ReasonOutputWindow
	}
	if text == g.lastText && !g.lastAdmitted.IsZero() && now.Sub(g.lastAdmitted) < g.cooldown {
		g.suppressed++
		return false, ReasonCooldown
	}
	if g.inFlight {
		g.suppressed++
		return false, ReasonInFlight
	}

	g.inFlight = true
	g.lastText = text
	g.lastAdmitted = now
	g.admitted++
	return true, ReasonAdmitted
}

// EndProcessing clears the in-flight flag after the detection callback
// finishes, admitting the next wake word.
func (g *Gate) EndProcessing() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}

// SetOutputActive records whether the assistant is currently producing
// audio output. The moment output ends starts the post-output window.
func (g *Gate) SetOutputActive(active bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.outputActive && !active {
		g.outputEnded = time.Now()
	}
	if g.outputActive != active {
		g.logger.Debug("assistant output state changed", "active", active)
	}
	g.outputActive = active
}

// Suppressed reports whether segmentation should discard audio outright:
// while assistant output is active, inside the post-output window (the
// echo of the assistant's own voice), or while a detection is being
// handled.
func (g *Gate) Suppressed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outputActive || g.inFlight {
		return true
	}
	return !g.outputEnded.IsZero() && time.Since(g.outputEnded) < g.outputWindow
}

// State returns a snapshot of the gate for diagnostics.
func (g *Gate) State() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		OutputActive:    g.outputActive,
		InFlight:        g.inFlight,
		LastAdmitted:    g.lastAdmitted,
		LastText:        g.lastText,
		AdmittedCount:   g.admitted,
		SuppressedCount: g.suppressed,
	}
}
