package main

import (
	"context"
	"fmt"
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pentra-dev/pentra/internal/tui"
	"github.com/pentra-dev/pentra/internal/workflow"
	"github.com/pentra-dev/pentra/pkg/models"
)

// runWithTUI runs the engine behind the phase checklist TUI. The app owns
// the event channel; the engine runs in the background and the emitter is
// closed when it returns so the app sees the run finish.
func runWithTUI(ctx context.Context, engine *workflow.Engine, emitter *workflow.EventEmitter, m *models.Manifest) error {
	// Log output corrupts the display while the TUI is active.
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	app := tui.New(m.Workspace, m.RunID, m.Phases, engine.Controller(), emitter.Events())
	program := tea.NewProgram(app, tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx, m)
		emitter.Close()
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		// The TUI failing is not fatal to the run. Drain events so the
		// emitter never blocks, then wait for the engine.
		fmt.Printf("display error: %v (run continues headless)\n", err)
		go func() {
			for range emitter.Events() {
			}
		}()
	}
	return <-done
}
