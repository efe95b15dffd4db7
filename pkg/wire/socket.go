package wire

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// MaxPayload is the documented maximum payload size for a single frame.
const MaxPayload = 4096

// MaxFDs is the maximum number of file descriptors a single frame may carry.
const MaxFDs = 8

// frameBudget is the receive buffer size: header + LF + payload + LF, with
// slack for the header identifier.
const frameBudget = MaxPayload + 256

// Listener accepts connections on a sequenced-packet Unix socket, the
// transport §6 requires (must carry SCM_RIGHTS and deliver exactly one
// frame per receive).
type Listener struct {
	ln *net.UnixListener
}

// Listen binds a unixpacket listener at path, removing any stale socket
// file first and chmodding it world-accessible so local clients regardless
// of uid can connect (§6 "Mode is chmodded world-accessible").
func Listen(path string) (*Listener, error) {
	os.Remove(path)

	addr, err := net.ResolveUnixAddr("unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unixpacket", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0777); err != nil {
		ln.Close()
		return nil, fmt.Errorf("wire: chmod %s: %w", path, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next client connection.
func (l *Listener) Accept() (*Conn, error) {
	uc, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return &Conn{uc: uc}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the listener's socket path.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Dial connects to a Control Plane socket as a client.
func Dial(path string) (*Conn, error) {
	addr, err := net.ResolveUnixAddr("unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %s: %w", path, err)
	}
	uc, err := net.DialUnix("unixpacket", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", path, err)
	}
	return &Conn{uc: uc}, nil
}

// Conn is one end of a frame-carrying Unix socket connection.
type Conn struct {
	uc *net.UnixConn
}

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.uc.Close() }

// ReadFrame pulls exactly one datagram and splits it into header/payload per
// the receive contract of §4.1: a zero-length read is an orderly disconnect
// (ErrUnexpectedEOF); MSG_TRUNC is ErrTruncated; bytes after the payload's
// terminating LF that are neither absent nor all-zero are ErrTrailingData.
func (c *Conn) ReadFrame() (Frame, error) {
	buf := make([]byte, frameBudget)
	oob := make([]byte, unix.CmsgSpace(MaxFDs*4))

	for {
		n, oobn, flags, _, err := c.uc.ReadMsgUnix(buf, oob)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				return Frame{}, ErrWouldBlock
			}
			return Frame{}, Io("read", err)
		}
		if n == 0 {
			return Frame{}, ErrUnexpectedEOF
		}
		if flags&unix.MSG_TRUNC != 0 {
			fds, _ := parseRights(oob[:oobn])
			closeFDs(fds)
			return Frame{}, ErrTruncated
		}

		fds, err := parseRights(oob[:oobn])
		if err != nil {
			return Frame{}, Io("parse control message", err)
		}

		header, payload, err := splitFrame(buf[:n])
		if err != nil {
			closeFDs(fds)
			return Frame{}, err
		}
		return Frame{Header: header, Payload: payload, FDs: fds}, nil
	}
}

// WriteFrame assembles header\npayload\n and the attached FDs into a single
// scatter-gather write; exactly one send per frame, per the sending
// contract (no partial frames).
func (c *Conn) WriteFrame(f Frame) error {
	buf := make([]byte, 0, len(f.Header)+len(f.Payload)+2)
	buf = append(buf, f.Header...)
	buf = append(buf, '\n')
	buf = append(buf, f.Payload...)
	buf = append(buf, '\n')

	var oob []byte
	if len(f.FDs) > 0 {
		oob = unix.UnixRights(f.FDs...)
	}

	for {
		_, _, err := c.uc.WriteMsgUnix(buf, oob, nil)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return Io("write", err)
		}
		return nil
	}
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, scm := range scms {
		rights, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// splitFrame separates a raw datagram into its header and payload per the
// `<header>\n<payload>\n` wire shape, validating that anything after the
// second LF is either absent or all zero.
func splitFrame(raw []byte) (header string, payload []byte, err error) {
	i := bytes.IndexByte(raw, '\n')
	if i < 0 {
		return "", nil, fmt.Errorf("%w: no header terminator", ErrMalformed)
	}
	header = string(raw[:i])
	rest := raw[i+1:]

	j := bytes.IndexByte(rest, '\n')
	if j < 0 {
		return "", nil, fmt.Errorf("%w: no payload terminator", ErrMalformed)
	}
	payload = rest[:j]
	trailing := rest[j+1:]
	for _, b := range trailing {
		if b != 0 {
			return "", nil, ErrTrailingData
		}
	}
	return header, payload, nil
}
