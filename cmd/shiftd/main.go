// Command shiftd is the headless multi-session display compositor daemon
// (spec §1-§9): it binds the control-plane socket, owns the DRM/KMS
// master handle, and arbitrates which session's buffers reach the
// screen.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("shiftd exited with an error")
	}
}
