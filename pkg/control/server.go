// Package control implements the session/buffer control plane: the local
// socket server that authenticates sessions, tracks per-session
// per-monitor swapchains, and enforces buffer-ownership invariants between
// client and compositor.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/ident"
	"github.com/hyprside/shift/pkg/stats"
	"github.com/hyprside/shift/pkg/wire"
)

const (
	serverName      = "shift"
	protocolVersion = "1"

	// statsTickInterval drives event-loop source (d) in §4.2.
	statsTickInterval = 5 * time.Second
)

var errProtocolViolation = errors.New("control: protocol violation")

// Server owns every session, client, and buffer-ownership record. All of
// its mutable state is touched exclusively by the goroutine running Run —
// the single cooperatively-scheduled event loop named in §4.2 — so none of
// it is guarded by a mutex (§5 "Shared-resource policy").
type Server struct {
	logger zerolog.Logger
	ln     *wire.Listener
	stats  *stats.Collector

	acceptCh  chan *wire.Conn
	inboundCh chan inboundMsg

	renderCmds   chan<- Command
	renderEvents <-chan Event

	sessions      map[string]*Session
	tokens        map[string]string // token -> SessionId, removed on first use
	clients       map[string]*clientHandle
	monitors      map[string]wire.MonitorInfo
	activeSession string
	transition    *TransitionState
	ledger        *ledger
}

// Bind removes any stale socket at path, binds a new listener, and chmods
// it world-accessible (§4.2 "bind(socket_path) -> Server").
func Bind(path string, logger zerolog.Logger, collector *stats.Collector) (*Server, error) {
	ln, err := wire.Listen(path)
	if err != nil {
		return nil, fmt.Errorf("control: bind: %w", err)
	}
	return &Server{
		logger:    logger,
		ln:        ln,
		stats:     collector,
		acceptCh:  make(chan *wire.Conn),
		inboundCh: make(chan inboundMsg, inboundCapacity),
		sessions:  make(map[string]*Session),
		tokens:    make(map[string]string),
		clients:   make(map[string]*clientHandle),
		monitors:  make(map[string]wire.MonitorInfo),
		ledger:    newLedger(),
	}, nil
}

// AddInitialAdminSession mints the privileged admin session's one-shot
// token. It must be called before Run, while the Server is still owned by
// a single goroutine.
func (s *Server) AddInitialAdminSession(displayName string) string {
	id := ident.NewAdminSessionID()
	token := ident.NewToken()
	s.sessions[id] = &Session{ID: id, Role: wire.RoleAdmin, DisplayName: displayName, Lifecycle: wire.LifecyclePending}
	s.tokens[token] = id
	return token
}

// Run drives the event loop until ctx is canceled, multiplexing new
// connections, queued client messages, Render Loop events, and the
// periodic statistics tick (§4.2 "Event loop").
func (s *Server) Run(ctx context.Context, renderCmds chan<- Command, renderEvents <-chan Event) error {
	s.renderCmds = renderCmds
	s.renderEvents = renderEvents

	go s.acceptLoop(ctx)

	ticker := time.NewTicker(statsTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case conn := <-s.acceptCh:
			s.onAccept(conn)
		case m := <-s.inboundCh:
			s.onInbound(m)
		case ev := <-renderEvents:
			s.onRenderEvent(ev)
		case <-ticker.C:
			s.onStatsTick()
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Error().Err(err).Msg("accept error")
				continue
			}
		}
		select {
		case s.acceptCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (s *Server) onAccept(conn *wire.Conn) {
	c := &clientHandle{
		id:   ident.NewClientID(),
		conn: conn,
		out:  make(chan wire.Message, outboundCapacity),
		done: make(chan struct{}),
	}
	s.clients[c.id] = c
	go s.runClientReader(c)
	go s.runClientWriter(c)
	s.send(c, wire.Hello{Server: serverName, Protocol: protocolVersion})
}

func (s *Server) onInbound(m inboundMsg) {
	c, ok := s.clients[m.clientID]
	if !ok {
		return // already disconnected
	}
	if m.err != nil {
		reason := "disconnect"
		if errors.Is(m.err, errProtocolViolation) {
			s.sendError(c, "protocol_violation", m.err.Error())
			reason = "protocol_violation"
		}
		s.disconnectClient(m.clientID, reason)
		return
	}
	s.dispatch(c, m.msg)
}

func (s *Server) dispatch(c *clientHandle, msg wire.Message) {
	switch m := msg.(type) {
	case wire.Auth:
		s.handleAuth(c, m)
	case wire.SessionCreate:
		s.handleSessionCreate(c, m)
	case wire.FramebufferLink:
		s.handleFramebufferLink(c, m)
	case wire.BufferRequest:
		s.handleBufferRequest(c, m)
	case wire.SessionReady:
		s.markOccupied(c.sessionID)
	case wire.SessionSwitch:
		s.handleSessionSwitch(c, m)
	case wire.InputEvent:
		s.handleInputEvent(c, m)
	case wire.Ping:
		s.send(c, wire.Pong{})
	case wire.Pong:
		// liveness only; no reply expected
	default:
		s.sendError(c, "protocol_violation", fmt.Sprintf("unexpected message %T", msg))
	}
}

func (s *Server) handleAuth(c *clientHandle, m wire.Auth) {
	sessionID, matched, ok := s.lookupToken(m.Token)
	if !ok {
		s.send(c, wire.AuthError{Error: "not_found"})
		return
	}
	delete(s.tokens, matched)
	sess := s.sessions[sessionID]
	sess.Lifecycle = wire.LifecycleLoading
	c.sessionID = sessionID

	if sess.Role == wire.RoleAdmin && s.activeSession == "" {
		s.activeSession = sessionID
		s.sendCommand(SetActiveSession{SessionID: sessionID})
		s.broadcast(wire.SessionActive{SessionID: sessionID})
	}

	s.send(c, wire.AuthOK{Session: sess.Info(), Monitors: s.monitorList()})
}

// lookupToken finds the pending session for a bearer token in constant
// time, since token comparison is the one-shot auth security boundary. It
// returns the matching stored token alongside the session id so the caller
// can delete the exact map key.
func (s *Server) lookupToken(token string) (sessionID, matched string, ok bool) {
	for candidate, sid := range s.tokens {
		if ident.Equal(candidate, token) {
			return sid, candidate, true
		}
	}
	return "", "", false
}

func (s *Server) handleSessionCreate(c *clientHandle, m wire.SessionCreate) {
	creator, ok := s.boundSession(c)
	if !ok || creator.Role != wire.RoleAdmin {
		s.sendError(c, "forbidden", "session_create requires an admin session")
		return
	}
	id := ident.NewSessionID()
	token := ident.NewToken()
	sess := &Session{ID: id, Role: m.Role, DisplayName: m.DisplayName, Lifecycle: wire.LifecyclePending}
	s.sessions[id] = sess
	s.tokens[token] = id
	s.send(c, wire.SessionCreated{Session: sess.Info(), Token: token})
}

func (s *Server) handleFramebufferLink(c *clientHandle, m wire.FramebufferLink) {
	if _, ok := s.boundSession(c); !ok {
		wire.CloseFDs(m.FDs[0], m.FDs[1])
		s.sendError(c, "forbidden", "framebuffer_link requires a bound session")
		return
	}
	s.ledger.link(c.sessionID, m.MonitorID)
	ok := s.sendCommand(LinkFramebuffer{
		SessionID: c.sessionID,
		MonitorID: m.MonitorID,
		Width:     m.Width,
		Height:    m.Height,
		Stride:    m.Stride,
		Offset:    m.Offset,
		FourCC:    m.FourCC,
		FDs:       m.FDs,
	})
	if !ok {
		wire.CloseFDs(m.FDs[0], m.FDs[1])
		s.sendError(c, "render_unavailable", "render command queue full")
	}
}

func (s *Server) handleBufferRequest(c *clientHandle, m wire.BufferRequest) {
	if _, ok := s.boundSession(c); !ok {
		if m.FenceFD >= 0 {
			wire.CloseFDs(m.FenceFD)
		}
		s.sendError(c, "forbidden", "buffer_request requires a bound session")
		return
	}
	if !s.ledger.isClientOwned(c.sessionID, m.MonitorID, m.Slot) {
		if m.FenceFD >= 0 {
			wire.CloseFDs(m.FenceFD)
		}
		s.sendError(c, "ownership_violation", "")
		return
	}
	if s.ledger.hasInFlight(c.sessionID, m.MonitorID, m.Slot) {
		if m.FenceFD >= 0 {
			wire.CloseFDs(m.FenceFD)
		}
		s.sendError(c, "buffer_request_inflight", "")
		return
	}
	s.ledger.addPending(c.sessionID, m.MonitorID, m.Slot, pendingRequest{
		clientID: c.id, monitor: m.MonitorID, slot: m.Slot, fenceFD: m.FenceFD,
	})
	s.stats.IncBufferRequests()
	ok := s.sendCommand(SwapRequest{SessionID: c.sessionID, MonitorID: m.MonitorID, Slot: m.Slot, FenceFD: m.FenceFD})
	if !ok {
		// The render command never reached the Render Loop, so it will
		// never ack/reject this slot; undo the optimistic pending entry
		// ourselves so (session, monitor, slot) doesn't stay wedged
		// in-flight forever.
		s.ledger.rejectPending(c.sessionID, m.MonitorID, m.Slot)
		if m.FenceFD >= 0 {
			wire.CloseFDs(m.FenceFD)
		}
		s.sendError(c, "render_unavailable", "render command queue full")
	}
}

func (s *Server) handleSessionSwitch(c *clientHandle, m wire.SessionSwitch) {
	sess, ok := s.boundSession(c)
	if !ok || sess.Role != wire.RoleAdmin {
		s.sendError(c, "forbidden", "session_switch requires an admin session")
		return
	}
	if m.SessionID != "" {
		if _, ok := s.sessions[m.SessionID]; !ok {
			s.sendError(c, "not_found", "")
			return
		}
	}
	s.switchActiveSession(m.SessionID, m.Animation, m.DurationMs)
}

func (s *Server) switchActiveSession(sessionID, animation string, durationMs uint32) {
	previous := s.activeSession
	s.activeSession = sessionID
	cmd := SetActiveSession{SessionID: sessionID}
	if animation != "" {
		s.transition = &TransitionState{Animation: animation, DurationMs: durationMs, PreviousSession: previous}
		cmd.Animation = animation
		cmd.DurationMs = durationMs
		cmd.PreviousSession = previous
	} else {
		s.transition = nil
	}
	s.sendCommand(cmd)
	s.broadcast(wire.SessionActive{SessionID: sessionID})
}

func (s *Server) handleInputEvent(c *clientHandle, m wire.InputEvent) {
	if s.activeSession == "" {
		return
	}
	target, ok := s.clientForSession(s.activeSession)
	if !ok {
		return
	}
	s.send(target, m)
}

func (s *Server) markOccupied(sessionID string) {
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Lifecycle != wire.LifecycleLoading {
		return
	}
	sess.Lifecycle = wire.LifecycleOccupied
	if c, ok := s.clientForSession(sessionID); ok {
		s.send(c, wire.SessionState{Session: sess.Info()})
	}
}

func (s *Server) onRenderEvent(ev Event) {
	switch e := ev.(type) {
	case Started:
		for _, m := range e.Monitors {
			s.monitors[m.ID] = m
		}
	case MonitorOnline:
		s.onMonitorOnline(e.Monitor)
	case MonitorOffline:
		s.onMonitorOffline(e.MonitorID)
	case BufferRequestAck:
		s.onBufferRequestAck(e)
	case BufferRequestRejected:
		s.onBufferRequestRejected(e)
	case PageFlip:
		s.onPageFlip(e)
	case FatalError:
		s.stats.IncFatalErrors()
		s.logger.Error().Str("reason", e.Reason).Msg("render loop reported a fatal error")
	}
}

// onMonitorOnline is a no-op when the monitor is already known with
// identical info, matching the idempotence property in §8.
func (s *Server) onMonitorOnline(m wire.MonitorInfo) {
	if existing, ok := s.monitors[m.ID]; ok && existing == m {
		return
	}
	s.monitors[m.ID] = m
	s.broadcast(wire.MonitorAdded{Monitor: m})
}

func (s *Server) onMonitorOffline(monitorID string) {
	m, ok := s.monitors[monitorID]
	if !ok {
		return
	}
	delete(s.monitors, monitorID)
	s.ledger.purgeMonitor(monitorID)
	s.broadcast(wire.MonitorRemoved{MonitorID: monitorID, Name: m.Name})
}

func (s *Server) onBufferRequestAck(e BufferRequestAck) {
	req, ok := s.ledger.ackPending(e.SessionID, e.MonitorID, e.Slot)
	if !ok {
		return // stale or duplicate ack
	}
	s.markOccupied(e.SessionID)
	s.stats.IncBufferAcks()
	if c, ok := s.clients[req.clientID]; ok {
		s.send(c, wire.BufferRequestAck{MonitorID: e.MonitorID, Slot: e.Slot})
	}
}

func (s *Server) onBufferRequestRejected(e BufferRequestRejected) {
	req, ok := s.ledger.rejectPending(e.SessionID, e.MonitorID, e.Slot)
	if !ok {
		return
	}
	if c, ok := s.clients[req.clientID]; ok {
		s.sendError(c, "buffer_request_rejected", e.Reason)
	}
}

// onPageFlip implements §4.2 "Page-flip handling". The wire contract in §6
// fixes buffer_release's payload to a single (monitor_id, slot) pair, so a
// page-flip touching several monitors is reported as one frame per
// release rather than the single batched frame the prose in §4.2 suggests.
func (s *Server) onPageFlip(e PageFlip) {
	s.stats.IncPageFlips()
	if s.activeSession == "" {
		return
	}
	var releases []wire.BufferRelease
	for _, monitorID := range e.MonitorIDs {
		slot, ok := s.ledger.popWaitingFlip(s.activeSession, monitorID)
		if !ok {
			continue
		}
		previous, had := s.ledger.setFront(s.activeSession, monitorID, slot)
		if had {
			releases = append(releases, wire.BufferRelease{MonitorID: monitorID, Slot: previous})
		}
	}
	if len(releases) == 0 {
		return
	}
	c, ok := s.clientForSession(s.activeSession)
	if !ok {
		return
	}
	clientID := c.id
	for _, r := range releases {
		if _, stillConnected := s.clients[clientID]; !stillConnected {
			// send() dropped the client partway through (full outbound
			// queue); it already closed c.out, so stop before the next
			// send panics on a closed channel.
			return
		}
		s.send(c, r)
		s.stats.IncBufferReleases()
	}
}

func (s *Server) onStatsTick() {
	s.stats.SetCounts(len(s.sessions), len(s.clients), len(s.monitors))
}

// disconnectClient removes a client and, if it was bound, runs the session
// cleanup in §4.2 "Disconnect/cleanup".
func (s *Server) disconnectClient(clientID, reason string) {
	c, ok := s.clients[clientID]
	if !ok {
		return
	}
	delete(s.clients, clientID)
	close(c.done)
	close(c.out)
	c.conn.Close()

	s.logger.Info().Str("client", clientID).Str("reason", reason).Msg("client disconnected")

	sessionID := c.sessionID
	if sessionID == "" {
		return
	}
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Lifecycle = wire.LifecycleConsumed
	}
	delete(s.sessions, sessionID)
	s.ledger.purgeSession(sessionID)
	s.sendCommand(SessionRemoved{SessionID: sessionID})
	if s.activeSession == sessionID {
		s.switchActiveSession("", "", 0)
	}
}

func (s *Server) shutdown() {
	s.ln.Close()
	for id := range s.clients {
		s.disconnectClient(id, "shutdown")
	}
}

func (s *Server) boundSession(c *clientHandle) (*Session, bool) {
	if c.sessionID == "" {
		return nil, false
	}
	sess, ok := s.sessions[c.sessionID]
	return sess, ok
}

func (s *Server) clientForSession(sessionID string) (*clientHandle, bool) {
	for _, c := range s.clients {
		if c.sessionID == sessionID {
			return c, true
		}
	}
	return nil, false
}

// broadcast sends msg to every authenticated (bound) client.
func (s *Server) broadcast(msg wire.Message) {
	for _, c := range s.clients {
		if c.sessionID == "" {
			continue
		}
		s.send(c, msg)
	}
}

func (s *Server) monitorList() []wire.MonitorInfo {
	out := make([]wire.MonitorInfo, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, m)
	}
	return out
}

// sendCommand enqueues cmd for the Render Loop without blocking the event
// loop. It reports whether cmd was actually sent; on a full channel it logs
// and returns false without sending, so a caller whose command carries
// FDs or an optimistic ledger entry must undo that state itself (§8 "no
// leaks").
func (s *Server) sendCommand(cmd Command) bool {
	select {
	case s.renderCmds <- cmd:
		return true
	default:
		s.logger.Warn().Msg("render command channel full, dropping command")
		return false
	}
}
