package gpu

import (
	"os"
	"testing"
)

func TestFenceSignaled(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer w.Close()

	f := NewFence(int(r.Fd()))
	defer f.Close()

	if signaled, err := f.Signaled(); err != nil || signaled {
		t.Fatalf("Signaled() = %v, %v before any write, want false, nil", signaled, err)
	}

	if _, err := w.Write([]byte{1}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if signaled, err := f.Signaled(); err != nil || !signaled {
		t.Fatalf("Signaled() = %v, %v after write, want true, nil", signaled, err)
	}
}
