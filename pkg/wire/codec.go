package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/sys/unix"
)

// pingPongSentinel is the exact 4-byte payload for ping/pong frames (§6).
var pingPongSentinel = []byte{0, 0, 0, 0}

// Frame is a decoded-but-undispatched wire frame: a header identifier, its
// raw payload bytes, and any attached file descriptors. Encode/Decode
// convert between Frame and the typed Message sum type.
type Frame struct {
	Header  string
	Payload []byte
	FDs     []int
}

// closeFDs closes every fd in fds, best-effort. Used when a frame fails
// validation and its attached descriptors must not leak (§8 "Every DMA-BUF
// FD received is either closed or transferred").
func closeFDs(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// CloseFDs closes every fd passed, best-effort. Callers that reject a
// message carrying descriptors (e.g. an unbound client's FRAMEBUFFER_LINK)
// use this so the rejected FDs don't leak.
func CloseFDs(fds ...int) {
	closeFDs(fds)
}

func checkFDCount(kind Kind, fds []int) error {
	spec, ok := fdSpecs[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	n := len(fds)
	if n < spec.min {
		closeFDs(fds)
		return &ExpectedFds{Expected: spec.min, Found: n}
	}
	if n > spec.max {
		closeFDs(fds)
		return &ExpectedFds{Expected: spec.max, Found: n}
	}
	return nil
}

// Encode marshals msg into a Frame ready to be written to the wire.
func Encode(msg Message) (Frame, error) {
	kind := msg.Kind()
	switch m := msg.(type) {
	case Hello:
		return jsonFrame(kind, m)
	case Auth:
		return jsonFrame(kind, m)
	case AuthOK:
		return jsonFrame(kind, m)
	case AuthError:
		return jsonFrame(kind, m)
	case FramebufferLink:
		f, err := jsonFrame(kind, m)
		if err != nil {
			return Frame{}, err
		}
		f.FDs = []int{m.FDs[0], m.FDs[1]}
		return f, nil
	case BufferRequest:
		f := Frame{Header: string(kind), Payload: slotLiteral(m.MonitorID, m.Slot)}
		if m.FenceFD >= 0 {
			f.FDs = []int{m.FenceFD}
		}
		return f, nil
	case BufferRequestAck:
		return Frame{Header: string(kind), Payload: slotLiteral(m.MonitorID, m.Slot)}, nil
	case BufferRelease:
		return Frame{Header: string(kind), Payload: slotLiteral(m.MonitorID, m.Slot)}, nil
	case MonitorAdded:
		return jsonFrame(kind, m)
	case MonitorRemoved:
		return jsonFrame(kind, m)
	case SessionCreate:
		return jsonFrame(kind, m)
	case SessionCreated:
		return jsonFrame(kind, m)
	case SessionReady:
		return jsonFrame(kind, m)
	case SessionState:
		return jsonFrame(kind, m)
	case SessionActive:
		return jsonFrame(kind, m)
	case SessionSwitch:
		return jsonFrame(kind, m)
	case ErrorMessage:
		return jsonFrame(kind, m)
	case Ping:
		return Frame{Header: string(kind), Payload: pingPongSentinel}, nil
	case Pong:
		return Frame{Header: string(kind), Payload: pingPongSentinel}, nil
	case InputEvent:
		return jsonFrame(kind, m)
	default:
		return Frame{}, fmt.Errorf("wire: Encode: unhandled message type %T", msg)
	}
}

func jsonFrame(kind Kind, v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: marshal %s payload: %w", kind, err)
	}
	return Frame{Header: string(kind), Payload: b}, nil
}

func slotLiteral(monitorID string, slot Slot) []byte {
	return []byte(monitorID + " " + string(slot.byte()))
}

func parseSlotLiteral(payload []byte) (monitorID string, slot Slot, err error) {
	parts := bytes.SplitN(bytes.TrimSpace(payload), []byte(" "), 2)
	if len(parts) != 2 || len(parts[1]) != 1 {
		return "", 0, fmt.Errorf("%w: bad slot literal %q", ErrMalformed, payload)
	}
	s, ok := slotFromByte(parts[1][0])
	if !ok {
		return "", 0, fmt.Errorf("%w: bad slot byte %q", ErrMalformed, parts[1])
	}
	return string(parts[0]), s, nil
}

// Decode parses a Frame into its typed Message, validating the FD count for
// the frame's kind first and closing any excess/invalid FDs before
// returning an error, so a rejected frame never leaks descriptors.
func Decode(f Frame) (Message, error) {
	kind := Kind(f.Header)
	if err := checkFDCount(kind, f.FDs); err != nil {
		return nil, err
	}

	switch kind {
	case KindHello:
		var m Hello
		return m, unmarshalInto(f.Payload, &m)
	case KindAuth:
		var m Auth
		return m, unmarshalInto(f.Payload, &m)
	case KindAuthOK:
		var m AuthOK
		return m, unmarshalInto(f.Payload, &m)
	case KindAuthError:
		var m AuthError
		return m, unmarshalInto(f.Payload, &m)
	case KindFramebufferLink:
		var m FramebufferLink
		if err := unmarshalInto(f.Payload, &m); err != nil {
			closeFDs(f.FDs)
			return nil, err
		}
		m.FDs = [2]int{f.FDs[0], f.FDs[1]}
		return m, nil
	case KindBufferRequest:
		monitorID, slot, err := parseSlotLiteral(f.Payload)
		if err != nil {
			closeFDs(f.FDs)
			return nil, err
		}
		fenceFD := -1
		if len(f.FDs) == 1 {
			fenceFD = f.FDs[0]
		}
		return BufferRequest{MonitorID: monitorID, Slot: slot, FenceFD: fenceFD}, nil
	case KindBufferRequestAck:
		monitorID, slot, err := parseSlotLiteral(f.Payload)
		if err != nil {
			return nil, err
		}
		return BufferRequestAck{MonitorID: monitorID, Slot: slot}, nil
	case KindBufferRelease:
		monitorID, slot, err := parseSlotLiteral(f.Payload)
		if err != nil {
			return nil, err
		}
		return BufferRelease{MonitorID: monitorID, Slot: slot}, nil
	case KindMonitorAdded:
		var m MonitorAdded
		return m, unmarshalInto(f.Payload, &m)
	case KindMonitorRemoved:
		var m MonitorRemoved
		return m, unmarshalInto(f.Payload, &m)
	case KindSessionCreate:
		var m SessionCreate
		return m, unmarshalInto(f.Payload, &m)
	case KindSessionCreated:
		var m SessionCreated
		return m, unmarshalInto(f.Payload, &m)
	case KindSessionReady:
		return SessionReady{}, nil
	case KindSessionState:
		var m SessionState
		return m, unmarshalInto(f.Payload, &m)
	case KindSessionActive:
		var m SessionActive
		return m, unmarshalInto(f.Payload, &m)
	case KindSessionSwitch:
		var m SessionSwitch
		return m, unmarshalInto(f.Payload, &m)
	case KindError:
		var m ErrorMessage
		return m, unmarshalInto(f.Payload, &m)
	case KindPing:
		if !bytes.Equal(f.Payload, pingPongSentinel) {
			return nil, fmt.Errorf("%w: ping payload not the sentinel", ErrMalformed)
		}
		return Ping{}, nil
	case KindPong:
		if !bytes.Equal(f.Payload, pingPongSentinel) {
			return nil, fmt.Errorf("%w: pong payload not the sentinel", ErrMalformed)
		}
		return Pong{}, nil
	case KindInputEvent:
		var m InputEvent
		return m, unmarshalInto(f.Payload, &m)
	default:
		closeFDs(f.FDs)
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, f.Header)
	}
}

func unmarshalInto(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
