// Package render is the Render Loop named in spec §4.3: it owns the DRM
// master handle, one GL/EGL context per monitor, the session/monitor/slot
// to GPU-texture map, and drives DMA-BUF import, fence gating, per-monitor
// composition, and page-flip submission/acknowledgement. It is the sole
// consumer of the Control Plane's command channel and the sole producer of
// its event channel (§5 "Shared-resource policy": "DRM master, GL
// contexts, and the texture map are owned exclusively by the Render Loop
// task").
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/control"
	"github.com/hyprside/shift/pkg/drmkms"
	"github.com/hyprside/shift/pkg/gpu"
	"github.com/hyprside/shift/pkg/ident"
	"github.com/hyprside/shift/pkg/wire"
)

// scanoutFourCC is the pixel format every monitor's persistent render
// target is allocated with. The protocol lets clients link buffers of any
// FourCC; the compositor's own scanout target is fixed, matching the
// format used throughout spec §8's worked examples.
const scanoutFourCC = "XR24"

// fenceRetryInterval is how often a fence waiter goroutine re-polls an
// unsignaled fence fd (§4.3 "Acquire-fence handling").
const fenceRetryInterval = 2 * time.Millisecond

// transitionTickInterval drives redraws while a cross-fade is in
// progress, since a transition needs to keep re-rendering with increasing
// opacity even without any new Control Plane command arriving.
const transitionTickInterval = 8 * time.Millisecond

type sessionMonitorKey struct {
	sessionID string
	monitorID string
}

type textureKey struct {
	sessionID string
	monitorID string
	slot      wire.Slot
}

// Texture is the subset of *gpu.Texture the Render Loop depends on; it
// exists so tests can substitute a fake GPU collaborator without linking
// real EGL/GLES2.
type Texture interface {
	Destroy() error
}

type monitorState struct {
	connID uint32 // raw DRM connector id, stable only while the connector stays plugged in
	info   drmkms.MonitorInfo
	ctx    gpuContext
	fbID   uint32
	dirty  bool
}

type fenceWaiter struct {
	fence *gpu.Fence
	done  chan struct{}
}

// Loop is the Render Loop's single cooperatively-scheduled task (§5
// "Scheduling model"). All of its state is touched only from the
// goroutine running Run; callers interact with it exclusively through the
// command/event channels passed to Run.
type Loop struct {
	logger     zerolog.Logger
	drm        drmDevice
	newContext func(drmFD int) (gpuContext, error)

	monitors      map[string]*monitorState  // MonitorId -> state
	connToMonitor map[uint32]string         // raw connector id -> MonitorId, present only while plugged in
	crtcToMonitor map[uint32]string         // CRTC id -> MonitorId, for page-flip event dispatch

	textures map[textureKey]Texture
	front    map[sessionMonitorKey]wire.Slot

	activeSession   string
	transition      *control.TransitionState
	transitionStart time.Time

	fenceWaiters map[textureKey]*fenceWaiter
	fenceReady   chan textureKey
}

// NewLoop opens the DRM device at drmPath and returns a Loop ready to Run.
func NewLoop(drmPath string, logger zerolog.Logger) (*Loop, error) {
	dev, err := drmkms.Open(drmPath)
	if err != nil {
		return nil, fmt.Errorf("render: open drm device: %w", err)
	}
	return newLoop(dev, func(drmFD int) (gpuContext, error) {
		ctx, err := gpu.NewContext(drmFD)
		if err != nil {
			return nil, err
		}
		return realGPUContext{ctx}, nil
	}, logger), nil
}

func newLoop(drm drmDevice, newContext func(int) (gpuContext, error), logger zerolog.Logger) *Loop {
	return &Loop{
		drm:           drm,
		newContext:    newContext,
		logger:        logger,
		monitors:      make(map[string]*monitorState),
		connToMonitor: make(map[uint32]string),
		crtcToMonitor: make(map[uint32]string),
		textures:      make(map[textureKey]Texture),
		front:         make(map[sessionMonitorKey]wire.Slot),
		fenceWaiters:  make(map[textureKey]*fenceWaiter),
		fenceReady:    make(chan textureKey, 32),
	}
}

// Run drives the main loop until ctx is canceled or cmds is closed (§5:
// "The Render Loop has no global cancellation token; it exits when its
// command channel is closed"). It owns the write end of events.
func (l *Loop) Run(ctx context.Context, cmds <-chan control.Command, events chan<- control.Event) error {
	initial, err := l.drm.Enumerate()
	if err != nil {
		return fmt.Errorf("render: initial enumerate: %w", err)
	}
	started := make([]wire.MonitorInfo, 0, len(initial))
	for _, info := range initial {
		monID := ident.NewMonitorID()
		if err := l.addMonitor(monID, info); err != nil {
			l.logger.Warn().Err(err).Str("connector", info.Name).Msg("failed to initialize monitor at startup, skipping")
			continue
		}
		started = append(started, toWireMonitorInfo(monID, info))
	}
	select {
	case events <- control.Started{Monitors: started}:
	case <-ctx.Done():
		l.shutdown()
		return ctx.Err()
	}

	flipNotify := make(chan struct{}, 1)
	go l.watchDRM(ctx, flipNotify)

	ticker := time.NewTicker(transitionTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case cmd, ok := <-cmds:
			if !ok {
				l.shutdown()
				return nil
			}
			l.handleCommand(cmd, events)
			l.drawAndSubmit(events)
		case key := <-l.fenceReady:
			l.onFenceReady(key)
			l.drawAndSubmit(events)
		case <-flipNotify:
			l.onDRMEvent(events)
			l.drawAndSubmit(events)
		case <-ticker.C:
			if l.transition != nil {
				l.markAllDirty()
				l.drawAndSubmit(events)
			}
		}
	}
}

func (l *Loop) shutdown() {
	ids := make([]string, 0, len(l.monitors))
	for id := range l.monitors {
		ids = append(ids, id)
	}
	for _, id := range ids {
		l.removeMonitor(id)
	}
	if err := l.drm.Close(); err != nil {
		l.logger.Warn().Err(err).Msg("drm device close failed during shutdown")
	}
}

func toWireMonitorInfo(id string, info drmkms.MonitorInfo) wire.MonitorInfo {
	return wire.MonitorInfo{ID: id, Width: info.Width, Height: info.Height, RefreshMHz: info.RefreshMHz, Name: info.Name}
}
