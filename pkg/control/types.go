package control

import "github.com/hyprside/shift/pkg/wire"

// Command is sent from the Control Plane to the Render Loop over a bounded
// channel the Control Plane owns the writing end of (§5 "Shared-resource
// policy").
type Command interface{ isCommand() }

// LinkFramebuffer forwards a client's framebuffer_link along with the two
// DMA-BUF FDs and the owning session id, so the Render Loop can import both
// slots as GPU textures.
type LinkFramebuffer struct {
	SessionID string
	MonitorID string
	Width     uint32
	Height    uint32
	Stride    uint32
	Offset    uint32
	FourCC    string
	FDs       [2]int
}

func (LinkFramebuffer) isCommand() {}

// SwapRequest asks the Render Loop to promote a slot to current, gated on
// FenceFD (-1 when no acquire fence was attached).
type SwapRequest struct {
	SessionID string
	MonitorID string
	Slot      wire.Slot
	FenceFD   int
}

func (SwapRequest) isCommand() {}

// SetActiveSession changes which session's front buffers are drawn.
// SessionID is empty to clear the active session. Animation/DurationMs/
// PreviousSession are populated when the switch requested a cross-fade
// (§3 "Transition State", Open Question (b)); Animation is empty for an
// instantaneous switch.
type SetActiveSession struct {
	SessionID       string
	Animation       string
	DurationMs      uint32
	PreviousSession string
}

func (SetActiveSession) isCommand() {}

// SessionRemoved tells the Render Loop to destroy every texture and fence
// waiter belonging to a session.
type SessionRemoved struct {
	SessionID string
}

func (SessionRemoved) isCommand() {}

// Event is sent from the Render Loop to the Control Plane over a bounded
// channel the Render Loop owns the writing end of.
type Event interface{ isEvent() }

// Started is emitted once, after the Render Loop has opened the DRM device
// and enumerated the initial monitor set.
type Started struct {
	Monitors []wire.MonitorInfo
}

func (Started) isEvent() {}

// MonitorOnline announces a newly usable connector.
type MonitorOnline struct {
	Monitor wire.MonitorInfo
}

func (MonitorOnline) isEvent() {}

// MonitorOffline announces an unplugged connector.
type MonitorOffline struct {
	MonitorID string
	Name      string
}

func (MonitorOffline) isEvent() {}

// BufferRequestAck reports that a SwapRequest was accepted.
type BufferRequestAck struct {
	SessionID string
	MonitorID string
	Slot      wire.Slot
}

func (BufferRequestAck) isEvent() {}

// BufferRequestRejected reports that a SwapRequest could not be honored.
type BufferRequestRejected struct {
	SessionID string
	MonitorID string
	Slot      wire.Slot
	Reason    string
}

func (BufferRequestRejected) isEvent() {}

// PageFlip reports the set of monitors whose scanout buffer changed in the
// most recent page-flip event.
type PageFlip struct {
	MonitorIDs []string
}

func (PageFlip) isEvent() {}

// FatalError reports an unrecoverable DRM/EGL/GL failure (§7 category 5).
type FatalError struct {
	Reason string
}

func (FatalError) isEvent() {}
