package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/control"
	"github.com/hyprside/shift/pkg/render"
)

// maxRenderLoopRestarts resolves Open Question (a): the Render Loop gets
// one restart attempt after a fatal error before the daemon gives up
// (§7 category 5, "the daemon's policy is to exit").
const maxRenderLoopRestarts = 1

// runRenderLoopSupervised opens and runs the Render Loop, restarting it
// once if it reports a FatalError event before ctx is canceled. cmds is
// shared across restarts (the Control Plane owns the write end for the
// daemon's whole lifetime); events is likewise the Control Plane's single
// read end.
func runRenderLoopSupervised(ctx context.Context, drmDevice string, logger zerolog.Logger, cmds <-chan control.Command, events chan<- control.Event) error {
	restarts := 0
	for {
		loop, err := render.NewLoop(drmDevice, logger)
		if err != nil {
			return fmt.Errorf("shiftd: open render loop: %w", err)
		}

		runCtx, cancel := context.WithCancel(ctx)
		raw := make(chan control.Event)
		fatal := make(chan string, 1)
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			for ev := range raw {
				if fe, ok := ev.(control.FatalError); ok {
					select {
					case fatal <- fe.Reason:
					default:
					}
					// Stop this Run so the loop below can restart it.
					cancel()
				}
				events <- ev
			}
		}()

		runErr := loop.Run(runCtx, cmds, raw)
		cancel()
		close(raw)
		<-relayDone

		select {
		case reason := <-fatal:
			restarts++
			if restarts > maxRenderLoopRestarts {
				return fmt.Errorf("shiftd: render loop reported a fatal error after restart: %s", reason)
			}
			logger.Warn().Str("reason", reason).Msg("render loop reported a fatal error, restarting")
			continue
		default:
		}

		if ctx.Err() != nil {
			return nil
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("shiftd: render loop exited: %w", runErr)
		}
		return nil
	}
}
