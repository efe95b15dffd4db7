package wire

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListenDialRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shift-test.sock")

	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode().Perm() != 0777 {
		t.Errorf("socket mode = %v, want 0777", info.Mode().Perm())
	}

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- c
	}()

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	var server *Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("Accept: %v", err)
	}
	defer server.Close()

	if err := server.WriteFrame(Frame{Header: "hello", Payload: []byte(`{"server":"shift","protocol":"1"}`)}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	hello, ok := msg.(Hello)
	if !ok || hello.Server != "shift" {
		t.Errorf("decoded message = %#v, want Hello{Server: shift}", msg)
	}
}

func TestReadFrameCarriesFDs(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shift-fd-test.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	server := <-accepted
	defer server.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	fbl := FramebufferLink{
		MonitorID: "mon_M", Width: 1920, Height: 1080, Stride: 7680, FourCC: "XR24",
		FDs: [2]int{int(r.Fd()), int(w.Fd())},
	}
	frame, err := Encode(fbl)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := client.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(got.FDs) != 2 {
		t.Fatalf("ReadFrame delivered %d FDs, want 2", len(got.FDs))
	}
	closeFDs(got.FDs)
}

func TestReadFrameUnexpectedEOFOnClose(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "shift-eof-test.sock")
	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server := <-accepted
	defer server.Close()

	client.Close()

	if _, err := server.ReadFrame(); err != ErrUnexpectedEOF {
		t.Errorf("ReadFrame after peer close = %v, want ErrUnexpectedEOF", err)
	}
}
