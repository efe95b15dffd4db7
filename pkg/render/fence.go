package render

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/gpu"
	"github.com/hyprside/shift/pkg/wire"
)

// awaitFence registers fd as the acquire fence gating key's promotion,
// replacing any waiter already registered for the same slot (the ledger
// guarantees at most one in-flight request per slot, so this is
// defensive, not load-bearing).
func (l *Loop) awaitFence(key textureKey, fd int) {
	l.cancelFenceWaiter(key.sessionID, key.monitorID, key.slot)

	fence := gpu.NewFence(fd)
	done := make(chan struct{})
	l.fenceWaiters[key] = &fenceWaiter{fence: fence, done: done}
	go watchFence(key, fence, done, l.fenceReady, l.logger)
}

// cancelFenceWaiter aborts a pending fence waiter without promoting its
// slot (§5 "Cancellation": "the associated FD is closed and no promotion
// occurs").
func (l *Loop) cancelFenceWaiter(sessionID, monitorID string, slot wire.Slot) {
	key := textureKey{sessionID, monitorID, slot}
	w, ok := l.fenceWaiters[key]
	if !ok {
		return
	}
	close(w.done)
	w.fence.Close()
	delete(l.fenceWaiters, key)
}

// onFenceReady promotes the slot a fence waiter was gating, whether the
// fence actually signaled or the watcher gave up after a poll error
// (§4.3 "on error ... the pending buffer is promoted anyway").
func (l *Loop) onFenceReady(key textureKey) {
	w, ok := l.fenceWaiters[key]
	if !ok {
		// Already canceled (e.g. a re-link raced the fence signaling).
		return
	}
	delete(l.fenceWaiters, key)
	w.fence.Close()
	l.promote(key)
}

// watchFence polls fence in a dedicated goroutine (Fence.Signaled is a
// non-blocking zero-timeout poll, so this never blocks the main select
// loop) and reports key on ready once the fence signals or fails. It
// exits without reporting if done is closed first.
func watchFence(key textureKey, fence *gpu.Fence, done chan struct{}, ready chan<- textureKey, logger zerolog.Logger) {
	for {
		select {
		case <-done:
			return
		default:
		}

		signaled, err := fence.Signaled()
		if err != nil {
			logger.Warn().Err(err).Str("session", key.sessionID).Str("monitor", key.monitorID).
				Msg("fence poll failed, promoting buffer to avoid wedging the session")
			select {
			case ready <- key:
			case <-done:
			}
			return
		}
		if signaled {
			select {
			case ready <- key:
			case <-done:
			}
			return
		}

		select {
		case <-time.After(fenceRetryInterval):
		case <-done:
			return
		}
	}
}
