package adminclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestStartInjectsEnvAndWaits(t *testing.T) {
	out, err := os.CreateTemp(t.TempDir(), "adminclient-out")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer out.Close()

	script := `echo "$` + TokenEnvVar + `:$` + SocketEnvVar + `" > ` + out.Name()
	l := New([]string{"sh", "-c", script}, "/tmp/shift.sock", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.Start(ctx, "tok_abc123"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if pid := l.Pid(); pid == 0 {
		t.Fatalf("Pid() = 0 after Start, want nonzero")
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got, err := os.ReadFile(out.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "tok_abc123:/tmp/shift.sock\n"
	if string(got) != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestStartWithNoCommandFails(t *testing.T) {
	l := New(nil, "/tmp/shift.sock", zerolog.Nop())
	if err := l.Start(context.Background(), "tok_x"); err == nil {
		t.Fatalf("Start with no command succeeded, want error")
	}
}

func TestWaitBeforeStartFails(t *testing.T) {
	l := New([]string{"sh", "-c", "true"}, "/tmp/shift.sock", zerolog.Nop())
	if err := l.Wait(context.Background()); err == nil {
		t.Fatalf("Wait before Start succeeded, want error")
	}
}
