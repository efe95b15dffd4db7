package render

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/control"
	"github.com/hyprside/shift/pkg/drmkms"
	"github.com/hyprside/shift/pkg/gpu"
	"github.com/hyprside/shift/pkg/wire"
)

// fakeTexture is a no-op Texture for tests that never touch real GL state.
type fakeTexture struct {
	id        string
	destroyed bool
}

func (t *fakeTexture) Destroy() error {
	t.destroyed = true
	return nil
}

// fakeContext is a gpuContext that records what was drawn instead of
// issuing real GL calls.
type fakeContext struct {
	makeCurrentCalls int
	clearCalls       int
	flushCalls       int
	destroyed        bool
	drawn            []string
	blended          []string
	lastOpacity      float64
}

func (c *fakeContext) MakeCurrent() error { c.makeCurrentCalls++; return nil }
func (c *fakeContext) Clear() error       { c.clearCalls++; return nil }

func (c *fakeContext) ImportDMABUF(width, height, stride, offset uint32, fourcc string, fd int) (Texture, error) {
	return &fakeTexture{id: fourcc}, nil
}

func (c *fakeContext) Draw(tex Texture, viewport gpu.Rect) error {
	c.drawn = append(c.drawn, tex.(*fakeTexture).id)
	return nil
}

func (c *fakeContext) DrawBlend(tex Texture, viewport gpu.Rect, opacity float64) error {
	c.blended = append(c.blended, tex.(*fakeTexture).id)
	c.lastOpacity = opacity
	return nil
}

func (c *fakeContext) Flush() error   { c.flushCalls++; return nil }
func (c *fakeContext) Destroy() error { c.destroyed = true; return nil }

func (c *fakeContext) CreateScanoutTarget(width, height uint32, fourcc string) (int, uint32, uint32, error) {
	return -1, width * 4, 0, nil
}

// fakeDRM is a drmDevice fake driven entirely by the test, never touching
// real hardware.
type fakeDRM struct {
	monitors       []drmkms.MonitorInfo
	eventFD        int
	nextFBID       uint32
	importErr      error
	setCrtcErr     error
	removedFBs     []uint32
	flipRequests   []uint32
	pageFlipEvents [][]uint32
	closed         bool
}

func (d *fakeDRM) Enumerate() ([]drmkms.MonitorInfo, error) { return d.monitors, nil }

func (d *fakeDRM) ImportScanoutFB(width, height, stride, offset uint32, fourcc string, dmabufFD int) (uint32, error) {
	if d.importErr != nil {
		return 0, d.importErr
	}
	d.nextFBID++
	return d.nextFBID, nil
}

func (d *fakeDRM) RemoveFB(fbID uint32) error {
	d.removedFBs = append(d.removedFBs, fbID)
	return nil
}

func (d *fakeDRM) SetCrtc(monitor drmkms.MonitorInfo, fbID uint32) error { return d.setCrtcErr }

func (d *fakeDRM) RequestPageFlip(monitor drmkms.MonitorInfo, fbID uint32) error {
	d.flipRequests = append(d.flipRequests, monitor.CrtcID)
	return nil
}

func (d *fakeDRM) EventFD() int { return d.eventFD }

func (d *fakeDRM) ReadPageFlipEvents() ([]uint32, error) {
	if len(d.pageFlipEvents) == 0 {
		return nil, nil
	}
	next := d.pageFlipEvents[0]
	d.pageFlipEvents = d.pageFlipEvents[1:]
	return next, nil
}

func (d *fakeDRM) Close() error { d.closed = true; return nil }

func newTestLoop(t *testing.T, drm *fakeDRM) (*Loop, *fakeContext) {
	t.Helper()
	ctx := &fakeContext{}
	l := newLoop(drm, func(int) (gpuContext, error) { return ctx, nil }, zerolog.Nop())
	return l, ctx
}

func pipePair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return r, w
}

func TestHandleLinkImportsBothSlotsAndMarksDirty(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080, Name: "DP-1"}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	l.monitors["mon_1"].dirty = false

	r1, _ := pipePair(t)
	r2, _ := pipePair(t)
	l.handleLink(control.LinkFramebuffer{
		SessionID: "ses_1", MonitorID: "mon_1",
		Width: 1920, Height: 1080, Stride: 7680, Offset: 0, FourCC: "XR24",
		FDs: [2]int{int(r1.Fd()), int(r2.Fd())},
	})

	if len(l.textures) != 2 {
		t.Fatalf("expected 2 textures, got %d", len(l.textures))
	}
	if !l.monitors["mon_1"].dirty {
		t.Fatalf("expected monitor to be marked dirty after link")
	}
}

func TestHandleLinkUnknownMonitorClosesFDs(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	r1, _ := pipePair(t)
	r2, _ := pipePair(t)
	l.handleLink(control.LinkFramebuffer{
		SessionID: "ses_1", MonitorID: "mon_missing",
		Width: 100, Height: 100, FourCC: "XR24",
		FDs: [2]int{int(r1.Fd()), int(r2.Fd())},
	})
	if len(l.textures) != 0 {
		t.Fatalf("expected no textures imported for unknown monitor")
	}
}

func TestHandleSwapUnknownMonitorRejected(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	events := make(chan control.Event, 1)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_missing", Slot: wire.Slot0, FenceFD: -1}, events)

	ev := <-events
	rej, ok := ev.(control.BufferRequestRejected)
	if !ok || rej.Reason != "unknown_monitor" {
		t.Fatalf("expected unknown_monitor rejection, got %#v", ev)
	}
}

func TestHandleSwapUnlinkedBufferRejected(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}

	events := make(chan control.Event, 1)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_1", Slot: wire.Slot0, FenceFD: -1}, events)

	ev := <-events
	rej, ok := ev.(control.BufferRequestRejected)
	if !ok || rej.Reason != "unlinked_buffer" {
		t.Fatalf("expected unlinked_buffer rejection, got %#v", ev)
	}
}

func linkTestBuffers(t *testing.T, l *Loop, sessionID, monitorID string) {
	t.Helper()
	r1, _ := pipePair(t)
	r2, _ := pipePair(t)
	l.handleLink(control.LinkFramebuffer{
		SessionID: sessionID, MonitorID: monitorID,
		Width: 1920, Height: 1080, Stride: 7680, Offset: 0, FourCC: "XR24",
		FDs: [2]int{int(r1.Fd()), int(r2.Fd())},
	})
}

func TestHandleSwapWithoutFencePromotesImmediately(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	linkTestBuffers(t, l, "ses_1", "mon_1")

	events := make(chan control.Event, 1)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_1", Slot: wire.Slot0, FenceFD: -1}, events)

	ev := <-events
	if _, ok := ev.(control.BufferRequestAck); !ok {
		t.Fatalf("expected ack, got %#v", ev)
	}
	slot, ok := l.front[sessionMonitorKey{"ses_1", "mon_1"}]
	if !ok || slot != wire.Slot0 {
		t.Fatalf("expected slot 0 promoted, front=%v ok=%v", slot, ok)
	}
}

func TestFenceGatingDelaysPromotionUntilSignaled(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	linkTestBuffers(t, l, "ses_1", "mon_1")

	fenceR, fenceW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	events := make(chan control.Event, 1)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_1", Slot: wire.Slot1, FenceFD: int(fenceR.Fd())}, events)

	select {
	case ev := <-events:
		if _, ok := ev.(control.BufferRequestAck); !ok {
			t.Fatalf("expected ack, got %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no ack received")
	}

	if _, ok := l.front[sessionMonitorKey{"ses_1", "mon_1"}]; ok {
		t.Fatalf("slot promoted before fence signaled")
	}

	if _, err := fenceW.Write([]byte{1}); err != nil {
		t.Fatalf("fenceW.Write: %v", err)
	}
	defer fenceW.Close()

	select {
	case key := <-l.fenceReady:
		l.onFenceReady(key)
	case <-time.After(2 * time.Second):
		t.Fatal("fence never reported ready")
	}

	slot, ok := l.front[sessionMonitorKey{"ses_1", "mon_1"}]
	if !ok || slot != wire.Slot1 {
		t.Fatalf("expected slot 1 promoted after fence signal, front=%v ok=%v", slot, ok)
	}
}

func TestHandleSessionRemovedPurgesState(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	linkTestBuffers(t, l, "ses_1", "mon_1")
	events := make(chan control.Event, 1)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_1", Slot: wire.Slot0, FenceFD: -1}, events)
	<-events
	l.activeSession = "ses_1"

	l.handleSessionRemoved(control.SessionRemoved{SessionID: "ses_1"})

	if len(l.textures) != 0 {
		t.Fatalf("expected textures purged, got %d", len(l.textures))
	}
	if len(l.front) != 0 {
		t.Fatalf("expected front entries purged, got %d", len(l.front))
	}
	if l.activeSession != "" {
		t.Fatalf("expected active session cleared, got %q", l.activeSession)
	}
}

func TestSyncMonitorsMintsFreshIdentityOnReappearance(t *testing.T) {
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080, Name: "DP-1"}
	drm := &fakeDRM{monitors: []drmkms.MonitorInfo{info}}
	l, _ := newTestLoop(t, drm)

	events := make(chan control.Event, 4)
	l.syncMonitors(events)
	if len(l.monitors) != 1 {
		t.Fatalf("expected 1 monitor after first sync, got %d", len(l.monitors))
	}
	var firstID string
	for id := range l.monitors {
		firstID = id
	}
	online := (<-events).(control.MonitorOnline)
	if online.Monitor.ID != firstID {
		t.Fatalf("monitor online event id mismatch")
	}

	drm.monitors = nil
	l.syncMonitors(events)
	if len(l.monitors) != 0 {
		t.Fatalf("expected monitor removed after unplug, got %d", len(l.monitors))
	}
	offline := (<-events).(control.MonitorOffline)
	if offline.MonitorID != firstID {
		t.Fatalf("monitor offline event id mismatch")
	}

	drm.monitors = []drmkms.MonitorInfo{info}
	l.syncMonitors(events)
	var secondID string
	for id := range l.monitors {
		secondID = id
	}
	online2 := (<-events).(control.MonitorOnline)
	if online2.Monitor.ID != secondID {
		t.Fatalf("monitor online event id mismatch on reappearance")
	}
	if secondID == firstID {
		t.Fatalf("expected a fresh monitor id on reconnection, got the same id twice")
	}
}

func TestHandleSetActiveStartsAndClearsTransition(t *testing.T) {
	drm := &fakeDRM{}
	l, _ := newTestLoop(t, drm)
	l.handleSetActive(control.SetActiveSession{SessionID: "ses_2", Animation: "fade", DurationMs: 200, PreviousSession: "ses_1"})
	if l.transition == nil {
		t.Fatalf("expected transition to be set")
	}
	if l.activeSession != "ses_2" {
		t.Fatalf("expected active session ses_2, got %q", l.activeSession)
	}

	l.handleSetActive(control.SetActiveSession{SessionID: "ses_3"})
	if l.transition != nil {
		t.Fatalf("expected transition cleared on instantaneous switch")
	}
}

func TestDrawAndSubmitSkipsCleanMonitorsAndFlipsDirtyOnes(t *testing.T) {
	drm := &fakeDRM{}
	l, ctx := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	l.monitors["mon_1"].dirty = false

	events := make(chan control.Event, 4)
	l.drawAndSubmit(events)
	if ctx.flushCalls != 0 {
		t.Fatalf("expected no flush on a clean monitor")
	}

	l.monitors["mon_1"].dirty = true
	l.drawAndSubmit(events)
	if ctx.flushCalls != 1 {
		t.Fatalf("expected 1 flush after marking dirty, got %d", ctx.flushCalls)
	}
	if len(drm.flipRequests) != 1 || drm.flipRequests[0] != info.CrtcID {
		t.Fatalf("expected a page flip request for the monitor's crtc")
	}
	if l.monitors["mon_1"].dirty {
		t.Fatalf("expected monitor cleared after successful flip")
	}
}

func TestCompositeDrawsActiveSessionFrontTexture(t *testing.T) {
	drm := &fakeDRM{}
	l, ctx := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	linkTestBuffers(t, l, "ses_1", "mon_1")
	events := make(chan control.Event, 1)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_1", Slot: wire.Slot0, FenceFD: -1}, events)
	<-events
	l.activeSession = "ses_1"
	l.monitors["mon_1"].dirty = true

	l.drawAndSubmit(events)

	if len(ctx.drawn) != 1 {
		t.Fatalf("expected exactly one draw call, got %d", len(ctx.drawn))
	}
}

func TestCompositeBlendsDuringTransition(t *testing.T) {
	drm := &fakeDRM{}
	l, ctx := newTestLoop(t, drm)
	info := drmkms.MonitorInfo{ID: 1, CrtcID: 10, Width: 1920, Height: 1080}
	if err := l.addMonitor("mon_1", info); err != nil {
		t.Fatalf("addMonitor: %v", err)
	}
	linkTestBuffers(t, l, "ses_1", "mon_1")
	linkTestBuffers(t, l, "ses_2", "mon_1")
	events := make(chan control.Event, 2)
	l.handleSwap(control.SwapRequest{SessionID: "ses_1", MonitorID: "mon_1", Slot: wire.Slot0, FenceFD: -1}, events)
	<-events
	l.handleSwap(control.SwapRequest{SessionID: "ses_2", MonitorID: "mon_1", Slot: wire.Slot0, FenceFD: -1}, events)
	<-events

	l.handleSetActive(control.SetActiveSession{SessionID: "ses_2", Animation: "fade", DurationMs: 1000, PreviousSession: "ses_1"})

	l.composite(l.monitors["mon_1"], "mon_1", gpu.Rect{Width: 1920, Height: 1080}, 0)

	if len(ctx.drawn) != 1 {
		t.Fatalf("expected previous session drawn opaque once, got %d", len(ctx.drawn))
	}
	if len(ctx.blended) != 1 {
		t.Fatalf("expected active session drawn blended once, got %d", len(ctx.blended))
	}
	if ctx.lastOpacity != 0 {
		t.Fatalf("expected opacity 0 at elapsed=0, got %v", ctx.lastOpacity)
	}
}
