package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/ShayCichocki/phylorun/internal/config"
	"github.com/ShayCichocki/phylorun/internal/supervisor"
	"github.com/ShayCichocki/phylorun/internal/tui"
)

// runWithTUI runs the supervisor under the terminal monitor.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, sup *supervisor.Supervisor, emitter *supervisor.EventEmitter) (retErr error) {
	// Log output corrupts the display.
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	program, app := tui.NewMonitorProgram()
	app.SetRefreshRate(cfg.TUI.RefreshRate)
	app.SetStopHandler(func(jobID string) error {
		return sup.Stop(ctx, jobID)
	})

	go tui.Forward(program, emitter.Events())

	supDone := make(chan error, 1)
	go func() {
		defer emitter.Close()
		var err error
		if runOnce {
			err = sup.Drain(ctx)
		} else {
			err = sup.Run(ctx)
		}
		supDone <- err
		program.Send(tui.DoneMsg{Err: err})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-supDone
		return err
	}

	// The user quit; a running job is stopped before returning.
	cancel()
	return <-supDone
}
