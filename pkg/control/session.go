package control

import "github.com/hyprside/shift/pkg/wire"

// Session is the Control Plane's record of a logical client context,
// distinct from any one connection (§3 "Session"). It is owned exclusively
// by the event-loop goroutine; clients hold only the id.
type Session struct {
	ID          string
	Role        wire.Role
	DisplayName string
	Lifecycle   wire.Lifecycle
}

// Info snapshots the session for a SessionInfo wire payload.
func (s *Session) Info() wire.SessionInfo {
	return wire.SessionInfo{
		ID:          s.ID,
		Role:        s.Role,
		DisplayName: s.DisplayName,
		Lifecycle:   s.Lifecycle,
	}
}

// TransitionState records an in-progress cross-fade between the previous
// active session and the new one (§3 "Transition State", §4 SUPPLEMENTED
// FEATURES #3). elapsed is computed by the caller (the Render Loop owns
// the clock) and passed to Progress.
type TransitionState struct {
	Animation       string
	DurationMs      uint32
	PreviousSession string
}

// Progress clamps elapsed/duration to [0, 1]. A zero or negative duration
// is treated as an instantaneous transition (progress 1 immediately).
func (t *TransitionState) Progress(elapsedMs uint32) float64 {
	if t.DurationMs == 0 {
		return 1
	}
	p := float64(elapsedMs) / float64(t.DurationMs)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
