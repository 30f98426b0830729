// Package tui provides the terminal monitor for the phylorun supervisor.
//
// The monitor is read-only apart from stopping the active job. It shows:
//   - The supervisor phase and the job being run
//   - A progress bar for engines that report progress
//   - The tail of the engine's output
//   - An activity log of status changes, consensus trees, and errors
//
// Usage:
//
//	program, app := tui.NewMonitorProgram()
//	app.SetStopHandler(func(jobID string) error { return sup.Stop(ctx, jobID) })
//	go tui.Forward(program, emitter.Events())
//	program.Run()
//
// Signal completion with program.Send(tui.DoneMsg{Err: err}).
package tui
