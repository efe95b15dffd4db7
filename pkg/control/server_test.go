package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/wire"
)

// testHarness drives a real Server over a real unixpacket socket, wired to
// channels the test controls directly in place of a Render Loop.
type testHarness struct {
	t        *testing.T
	srv      *Server
	path     string
	cmds     chan Command
	events   chan Event
	cancel   context.CancelFunc
	adminTok string
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shift.sock")
	srv, err := Bind(path, zerolog.Nop(), nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	adminTok := srv.AddInitialAdminSession("admin")

	cmds := make(chan Command, 32)
	events := make(chan Event, 32)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx, cmds, events)

	h := &testHarness{t: t, srv: srv, path: path, cmds: cmds, events: events, cancel: cancel, adminTok: adminTok}
	t.Cleanup(cancel)
	return h
}

func (h *testHarness) dial() *wire.Conn {
	h.t.Helper()
	conn, err := wire.Dial(h.path)
	if err != nil {
		h.t.Fatalf("Dial: %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *testHarness) readMsg(conn *wire.Conn) wire.Message {
	h.t.Helper()
	frame, err := conn.ReadFrame()
	if err != nil {
		h.t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		h.t.Fatalf("Decode: %v", err)
	}
	return msg
}

func (h *testHarness) send(conn *wire.Conn, msg wire.Message) {
	h.t.Helper()
	frame, err := wire.Encode(msg)
	if err != nil {
		h.t.Fatalf("Encode: %v", err)
	}
	if err := conn.WriteFrame(frame); err != nil {
		h.t.Fatalf("WriteFrame: %v", err)
	}
}

func (h *testHarness) waitCommand() Command {
	h.t.Helper()
	select {
	case c := <-h.cmds:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for a render command")
		return nil
	}
}

func (h *testHarness) noCommandPending() {
	h.t.Helper()
	select {
	case c := <-h.cmds:
		h.t.Fatalf("unexpected render command: %#v", c)
	default:
	}
}

// authAsAdmin dials, consumes the hello, authenticates with the preseeded
// admin token, and returns the connection after its auth_ok. The admin
// session becomes active on auth, so the session_active broadcast that
// precedes auth_ok and the SetActiveSession render command are consumed
// and checked here too.
func (h *testHarness) authAsAdmin() (*wire.Conn, wire.AuthOK) {
	h.t.Helper()
	conn := h.dial()
	hello := h.readMsg(conn)
	if _, ok := hello.(wire.Hello); !ok {
		h.t.Fatalf("first frame = %T, want Hello", hello)
	}
	h.send(conn, wire.Auth{Token: h.adminTok})
	active, isActive := h.readMsg(conn).(wire.SessionActive)
	if !isActive {
		h.t.Fatalf("first auth reply = %#v, want SessionActive", active)
	}
	msg := h.readMsg(conn)
	ok, isAuthOK := msg.(wire.AuthOK)
	if !isAuthOK {
		h.t.Fatalf("auth reply = %#v, want AuthOK", msg)
	}
	if active.SessionID != ok.Session.ID {
		h.t.Fatalf("session_active = %q, want admin session %q", active.SessionID, ok.Session.ID)
	}
	setActive, isSet := h.waitCommand().(SetActiveSession)
	if !isSet || setActive.SessionID != ok.Session.ID {
		h.t.Fatalf("SetActiveSession command = %#v, want %q", setActive, ok.Session.ID)
	}
	return conn, ok
}

// expectOccupied reads the session_state frame the server sends when a
// session's first buffer promotion moves it to Occupied.
func (h *testHarness) expectOccupied(conn *wire.Conn) {
	h.t.Helper()
	state, ok := h.readMsg(conn).(wire.SessionState)
	if !ok || state.Session.Lifecycle != wire.LifecycleOccupied {
		h.t.Fatalf("session_state = %#v, want lifecycle occupied", state)
	}
}

func samplePipeFDs(t *testing.T) [2]int {
	t.Helper()
	r0, w0, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	t.Cleanup(func() {
		r0.Close()
		w0.Close()
		r1.Close()
		w1.Close()
	})
	return [2]int{int(r0.Fd()), int(r1.Fd())}
}

// TestHappyPathSingleMonitor drives scenario 1 of §8: link, request slot 0,
// ack it, page-flip with no prior front (no release), then request slot 1
// and observe the release of slot 0 on its page-flip.
func TestHappyPathSingleMonitor(t *testing.T) {
	h := newTestHarness(t)
	conn, _ := h.authAsAdmin()

	h.events <- MonitorOnline{Monitor: wire.MonitorInfo{ID: "mon_M", Width: 1920, Height: 1080, Name: "M"}}
	added, ok := h.readMsg(conn).(wire.MonitorAdded)
	if !ok || added.Monitor.ID != "mon_M" {
		t.Fatalf("monitor_added = %#v", added)
	}

	fds := samplePipeFDs(t)
	h.send(conn, wire.FramebufferLink{MonitorID: "mon_M", Width: 1920, Height: 1080, Stride: 7680, FourCC: "XR24", FDs: fds})
	link, ok := h.waitCommand().(LinkFramebuffer)
	if !ok || link.MonitorID != "mon_M" {
		t.Fatalf("LinkFramebuffer command = %#v", link)
	}
	t.Cleanup(func() { wire.CloseFDs(link.FDs[0], link.FDs[1]) })
	sessionID := link.SessionID

	h.send(conn, wire.BufferRequest{MonitorID: "mon_M", Slot: wire.Slot0, FenceFD: -1})
	swap, ok := h.waitCommand().(SwapRequest)
	if !ok || swap.Slot != wire.Slot0 {
		t.Fatalf("SwapRequest command = %#v", swap)
	}

	h.events <- BufferRequestAck{SessionID: sessionID, MonitorID: "mon_M", Slot: wire.Slot0}
	h.expectOccupied(conn)
	ack, ok := h.readMsg(conn).(wire.BufferRequestAck)
	if !ok || ack.Slot != wire.Slot0 {
		t.Fatalf("buffer_request_ack = %#v", ack)
	}

	h.events <- PageFlip{MonitorIDs: []string{"mon_M"}}

	h.send(conn, wire.BufferRequest{MonitorID: "mon_M", Slot: wire.Slot1, FenceFD: -1})
	swap2, ok := h.waitCommand().(SwapRequest)
	if !ok || swap2.Slot != wire.Slot1 {
		t.Fatalf("second SwapRequest = %#v", swap2)
	}
	h.events <- BufferRequestAck{SessionID: sessionID, MonitorID: "mon_M", Slot: wire.Slot1}
	ack2, ok := h.readMsg(conn).(wire.BufferRequestAck)
	if !ok || ack2.Slot != wire.Slot1 {
		// If the first page-flip had incorrectly emitted a release, it
		// would have arrived here instead, out of order.
		t.Fatalf("second ack = %#v, want buffer_request_ack slot 1", ack2)
	}

	h.events <- PageFlip{MonitorIDs: []string{"mon_M"}}
	release, ok := h.readMsg(conn).(wire.BufferRelease)
	if !ok || release.Slot != wire.Slot0 {
		t.Fatalf("buffer_release = %#v, want slot 0", release)
	}
}

// TestDoubleRequestRejection drives scenario 2 of §8.
func TestDoubleRequestRejection(t *testing.T) {
	h := newTestHarness(t)
	conn, _ := h.authAsAdmin()

	fds := samplePipeFDs(t)
	h.send(conn, wire.FramebufferLink{MonitorID: "mon_M", Width: 1, Height: 1, FourCC: "XR24", FDs: fds})
	link := h.waitCommand().(LinkFramebuffer)
	t.Cleanup(func() { wire.CloseFDs(link.FDs[0], link.FDs[1]) })

	h.send(conn, wire.BufferRequest{MonitorID: "mon_M", Slot: wire.Slot0, FenceFD: -1})
	h.waitCommand() // first SwapRequest

	h.send(conn, wire.BufferRequest{MonitorID: "mon_M", Slot: wire.Slot0, FenceFD: -1})
	errMsg, ok := h.readMsg(conn).(wire.ErrorMessage)
	if !ok || errMsg.Code != "buffer_request_inflight" {
		t.Fatalf("second request reply = %#v, want buffer_request_inflight", errMsg)
	}

	h.events <- BufferRequestAck{SessionID: link.SessionID, MonitorID: "mon_M", Slot: wire.Slot0}
	h.expectOccupied(conn)
	ack, ok := h.readMsg(conn).(wire.BufferRequestAck)
	if !ok || ack.Slot != wire.Slot0 {
		t.Fatalf("first request did not ack normally: %#v", ack)
	}
}

// TestOwnershipViolation drives scenario 3 of §8.
func TestOwnershipViolation(t *testing.T) {
	h := newTestHarness(t)
	conn, _ := h.authAsAdmin()

	fds := samplePipeFDs(t)
	h.send(conn, wire.FramebufferLink{MonitorID: "mon_M", Width: 1, Height: 1, FourCC: "XR24", FDs: fds})
	link := h.waitCommand().(LinkFramebuffer)
	t.Cleanup(func() { wire.CloseFDs(link.FDs[0], link.FDs[1]) })

	h.send(conn, wire.BufferRequest{MonitorID: "mon_M", Slot: wire.Slot0, FenceFD: -1})
	h.waitCommand()
	h.events <- BufferRequestAck{SessionID: link.SessionID, MonitorID: "mon_M", Slot: wire.Slot0}
	h.expectOccupied(conn)
	if ack, ok := h.readMsg(conn).(wire.BufferRequestAck); !ok || ack.Slot != wire.Slot0 {
		t.Fatalf("buffer_request_ack = %#v, want slot 0", ack)
	}

	h.send(conn, wire.BufferRequest{MonitorID: "mon_M", Slot: wire.Slot0, FenceFD: -1})
	errMsg, ok := h.readMsg(conn).(wire.ErrorMessage)
	if !ok || errMsg.Code != "ownership_violation" {
		t.Fatalf("reply = %#v, want ownership_violation", errMsg)
	}
	h.noCommandPending()
}

// TestMonitorHotplug drives scenario 4 of §8.
func TestMonitorHotplug(t *testing.T) {
	h := newTestHarness(t)
	conn, _ := h.authAsAdmin()

	h.events <- MonitorOnline{Monitor: wire.MonitorInfo{ID: "mon_N", Width: 800, Height: 600, Name: "N"}}
	added, ok := h.readMsg(conn).(wire.MonitorAdded)
	if !ok || added.Monitor.ID != "mon_N" {
		t.Fatalf("monitor_added = %#v", added)
	}

	fds := samplePipeFDs(t)
	h.send(conn, wire.FramebufferLink{MonitorID: "mon_N", Width: 800, Height: 600, FourCC: "XR24", FDs: fds})
	link := h.waitCommand().(LinkFramebuffer)
	t.Cleanup(func() { wire.CloseFDs(link.FDs[0], link.FDs[1]) })

	h.events <- MonitorOffline{MonitorID: "mon_N", Name: "N"}
	removed, ok := h.readMsg(conn).(wire.MonitorRemoved)
	if !ok || removed.MonitorID != "mon_N" {
		t.Fatalf("monitor_removed = %#v", removed)
	}

	// A purged (session, monitor) pair is no longer client-owned, so a
	// request against it is reported as an ownership violation rather than
	// silently forwarded.
	h.send(conn, wire.BufferRequest{MonitorID: "mon_N", Slot: wire.Slot0, FenceFD: -1})
	errMsg, ok := h.readMsg(conn).(wire.ErrorMessage)
	if !ok || errMsg.Code != "ownership_violation" {
		t.Fatalf("post-removal request reply = %#v", errMsg)
	}
	h.noCommandPending()
}

// TestDisconnectCleanup drives scenario 5 of §8: disconnecting the active
// session frees its render state and clears the active session.
func TestDisconnectCleanup(t *testing.T) {
	h := newTestHarness(t)
	conn, authOK := h.authAsAdmin()

	conn.Close()

	removed, ok := h.waitCommand().(SessionRemoved)
	if !ok || removed.SessionID != authOK.Session.ID {
		t.Fatalf("SessionRemoved command = %#v", removed)
	}
	setActive, ok := h.waitCommand().(SetActiveSession)
	if !ok || setActive.SessionID != "" {
		t.Fatalf("SetActiveSession command = %#v, want empty", setActive)
	}
}

// TestMonitorAddedIsIdempotent covers the round-trip/idempotence property:
// repeated MONITOR_ADDED with identical info produces no second
// notification.
func TestMonitorAddedIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	conn, _ := h.authAsAdmin()

	mon := wire.MonitorInfo{ID: "mon_M", Width: 1920, Height: 1080, Name: "M"}
	h.events <- MonitorOnline{Monitor: mon}
	h.readMsg(conn)

	h.events <- MonitorOnline{Monitor: mon}

	// Drive a second, distinct monitor through the same event channel; if
	// the duplicate above had produced a second monitor_added it would
	// arrive first, out of order, and fail this type assertion.
	h.events <- MonitorOnline{Monitor: wire.MonitorInfo{ID: "mon_N", Width: 640, Height: 480, Name: "N"}}
	added, ok := h.readMsg(conn).(wire.MonitorAdded)
	if !ok || added.Monitor.ID != "mon_N" {
		t.Fatalf("monitor_added = %#v, want mon_N (duplicate mon_M was not suppressed)", added)
	}
}
