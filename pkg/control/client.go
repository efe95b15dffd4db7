package control

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/wire"
)

// outboundCapacity and inboundCapacity are the bounded channel capacities
// named in §5 "Backpressure" (documented budget 1000-5000); shift uses the
// low end since a single-host compositor has a small, bounded client count.
const (
	outboundCapacity = 1024
	inboundCapacity  = 2048
)

// inboundMsg is one item on the Control Plane's shared inbound queue: either
// a successfully decoded message from clientID, or err set to signal that
// the client's reader hit a transport-level error and should be treated as
// a disconnect.
type inboundMsg struct {
	clientID string
	msg      wire.Message
	err      error
}

// clientHandle is the Control Plane's record of one connected client. It is
// created and destroyed only by the event-loop goroutine; the reader and
// writer goroutines hold only their own ends of conn and out.
type clientHandle struct {
	id        string
	conn      *wire.Conn
	out       chan wire.Message
	sessionID string // "" until bound
	done      chan struct{}
}

// runClientReader reads frames until the connection errors or closes,
// forwarding every successfully decoded message (or the terminal error) to
// inbound. It never touches clientHandle fields directly — only the event
// loop does — matching §9's "cyclic references... as message passing"
// design note.
func (s *Server) runClientReader(c *clientHandle) {
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			s.inboundCh <- inboundMsg{clientID: c.id, err: err}
			return
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			var expFds *wire.ExpectedFds
			if errors.As(err, &expFds) || errors.Is(err, wire.ErrMalformed) || errors.Is(err, wire.ErrUnknownKind) {
				s.inboundCh <- inboundMsg{clientID: c.id, err: errProtocolViolation}
				return
			}
			s.inboundCh <- inboundMsg{clientID: c.id, err: err}
			return
		}
		select {
		case s.inboundCh <- inboundMsg{clientID: c.id, msg: msg}:
		case <-c.done:
			return
		}
	}
}

// runClientWriter drains c.out and writes frames until out is closed or a
// write fails, in which case it reports the failure as a disconnect.
func (s *Server) runClientWriter(c *clientHandle) {
	for msg := range c.out {
		frame, err := wire.Encode(msg)
		if err != nil {
			s.logger.Error().Err(err).Str("client", c.id).Msg("encode outbound frame failed")
			continue
		}
		if err := c.conn.WriteFrame(frame); err != nil {
			select {
			case s.inboundCh <- inboundMsg{clientID: c.id, err: err}:
			case <-c.done:
			}
			return
		}
	}
}

// send enqueues msg for delivery to c without blocking the event loop. If
// the outbound queue is full the client is dropped with a render_unavailable
// error (§4.2 "Backpressure").
func (s *Server) send(c *clientHandle, msg wire.Message) {
	select {
	case c.out <- msg:
	default:
		s.logger.Warn().Str("client", c.id).Msg("outbound queue full, dropping client")
		s.disconnectClient(c.id, "render_unavailable")
	}
}

func (s *Server) sendError(c *clientHandle, code, message string) {
	s.send(c, wire.ErrorMessage{Code: code, Message: message})
}
