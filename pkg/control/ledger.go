package control

import "github.com/hyprside/shift/pkg/wire"

// ownership is a buffer slot's current owner (§3 "Buffer Slot").
type ownership int

const (
	ownerClient ownership = iota
	ownerCompositor
)

type slotKey struct {
	session string
	monitor string
	slot    wire.Slot
}

type pairKey struct {
	session string
	monitor string
}

// pendingRequest is an in-flight BUFFER_REQUEST (§3 "Pending Buffer
// Request").
type pendingRequest struct {
	clientID string
	monitor  string
	slot     wire.Slot
	fenceFD  int
}

// ledger is the buffer-ownership ledger: the single source of truth for
// which slots are Client- vs Compositor-owned, which requests are
// in-flight, which slots are mid-flip, and which slot fronts each
// (session, monitor) pair. It is touched only from the Control Plane's
// event-loop goroutine — see §5 "Shared-resource policy" — so it carries
// no internal locking.
type ledger struct {
	owned        map[slotKey]ownership
	pending      map[pairKey]map[wire.Slot]pendingRequest
	waitingFlips map[pairKey][]wire.Slot // FIFO per (session, monitor)
	front        map[pairKey]wire.Slot
	hasFront     map[pairKey]bool
}

func newLedger() *ledger {
	return &ledger{
		owned:        make(map[slotKey]ownership),
		pending:      make(map[pairKey]map[wire.Slot]pendingRequest),
		waitingFlips: make(map[pairKey][]wire.Slot),
		front:        make(map[pairKey]wire.Slot),
		hasFront:     make(map[pairKey]bool),
	}
}

// link resets both slots of (session, monitor) to Client ownership and
// discards any outstanding pending request, waiting-flip, or front-buffer
// entry for the pair — the client has re-linked, invalidating previous
// textures (§4.2 "Framebuffer linking").
func (l *ledger) link(session, monitor string) {
	l.purgePair(pairKey{session, monitor})
	l.owned[slotKey{session, monitor, wire.Slot0}] = ownerClient
	l.owned[slotKey{session, monitor, wire.Slot1}] = ownerClient
}

func (l *ledger) isClientOwned(session, monitor string, slot wire.Slot) bool {
	o, ok := l.owned[slotKey{session, monitor, slot}]
	return ok && o == ownerClient
}

func (l *ledger) hasInFlight(session, monitor string, slot wire.Slot) bool {
	reqs, ok := l.pending[pairKey{session, monitor}]
	if !ok {
		return false
	}
	_, ok = reqs[slot]
	return ok
}

// addPending records a new in-flight BUFFER_REQUEST. The caller must have
// already checked hasInFlight and isClientOwned.
func (l *ledger) addPending(session, monitor string, slot wire.Slot, req pendingRequest) {
	key := pairKey{session, monitor}
	if l.pending[key] == nil {
		l.pending[key] = make(map[wire.Slot]pendingRequest)
	}
	l.pending[key][slot] = req
}

// ackPending moves a slot from pending to Compositor-owned and appends a
// waiting-flip entry, returning the original request so the caller can
// reply to the right client. Reports false if no such pending request
// exists (a stale or duplicate ack from the Render Loop).
func (l *ledger) ackPending(session, monitor string, slot wire.Slot) (pendingRequest, bool) {
	key := pairKey{session, monitor}
	reqs := l.pending[key]
	if reqs == nil {
		return pendingRequest{}, false
	}
	req, ok := reqs[slot]
	if !ok {
		return pendingRequest{}, false
	}
	delete(reqs, slot)
	if len(reqs) == 0 {
		delete(l.pending, key)
	}
	l.owned[slotKey{session, monitor, slot}] = ownerCompositor
	l.waitingFlips[key] = append(l.waitingFlips[key], slot)
	return req, true
}

// rejectPending drops a pending request without changing ownership.
func (l *ledger) rejectPending(session, monitor string, slot wire.Slot) (pendingRequest, bool) {
	key := pairKey{session, monitor}
	reqs := l.pending[key]
	if reqs == nil {
		return pendingRequest{}, false
	}
	req, ok := reqs[slot]
	if !ok {
		return pendingRequest{}, false
	}
	delete(reqs, slot)
	if len(reqs) == 0 {
		delete(l.pending, key)
	}
	return req, true
}

// popWaitingFlip pops the earliest waiting-flip entry for (session,
// monitor), if any — called when a page-flip event arrives for that
// monitor and session is the active session.
func (l *ledger) popWaitingFlip(session, monitor string) (wire.Slot, bool) {
	key := pairKey{session, monitor}
	q := l.waitingFlips[key]
	if len(q) == 0 {
		return 0, false
	}
	slot := q[0]
	l.waitingFlips[key] = q[1:]
	if len(l.waitingFlips[key]) == 0 {
		delete(l.waitingFlips, key)
	}
	return slot, true
}

// setFront installs slot as the new front for (session, monitor), returning
// the previous front slot (if any) so it can be released back to Client
// ownership.
func (l *ledger) setFront(session, monitor string, slot wire.Slot) (previous wire.Slot, hadPrevious bool) {
	key := pairKey{session, monitor}
	previous, hadPrevious = l.front[key], l.hasFront[key]
	l.front[key] = slot
	l.hasFront[key] = true
	if hadPrevious {
		l.owned[slotKey{session, monitor, previous}] = ownerClient
	}
	return previous, hadPrevious
}

// purgePair removes every ledger entry for (session, monitor): ownership,
// pending requests, waiting flips, and front buffer.
func (l *ledger) purgePair(key pairKey) {
	delete(l.owned, slotKey{key.session, key.monitor, wire.Slot0})
	delete(l.owned, slotKey{key.session, key.monitor, wire.Slot1})
	delete(l.pending, key)
	delete(l.waitingFlips, key)
	delete(l.front, key)
	delete(l.hasFront, key)
}

// purgeSession removes every ledger entry belonging to a session, across
// every monitor it was linked against (§3 invariant 4).
func (l *ledger) purgeSession(session string) {
	for key := range l.allPairsFor(session, "") {
		l.purgePair(key)
	}
}

// purgeMonitor removes every ledger entry for a monitor, across every
// session that had linked it (§3 invariant 5).
func (l *ledger) purgeMonitor(monitor string) {
	for key := range l.allPairsFor("", monitor) {
		l.purgePair(key)
	}
}

// allPairsFor collects every pairKey touching the given session and/or
// monitor (empty string matches any value in that position) across all
// ledger maps, so purge operations cover entries regardless of which map
// they currently live in.
func (l *ledger) allPairsFor(session, monitor string) map[pairKey]struct{} {
	out := make(map[pairKey]struct{})
	add := func(k pairKey) {
		if (session == "" || k.session == session) && (monitor == "" || k.monitor == monitor) {
			out[k] = struct{}{}
		}
	}
	for k := range l.owned {
		add(pairKey{k.session, k.monitor})
	}
	for k := range l.pending {
		add(k)
	}
	for k := range l.waitingFlips {
		add(k)
	}
	for k := range l.front {
		add(k)
	}
	return out
}
