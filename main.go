package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/novusedge/envato-oauth/tui"
)

// reportedError marks an error that was already shown to the user.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func main() {
	// Load .env file if exists (ignore error if not found). Variables already
	// set in the environment take precedence.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, os.Args); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// isTTY reports whether w is an interactive terminal.
// The TUI renders to stderr, allowing stdout to be piped.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// runWithDisplay runs fn with a Displayer: the BubbleTea TUI when useTUI is
// set, plain text otherwise. Errors from fn are shown before returning.
func runWithDisplay(w io.Writer, useTUI bool, fn func(d tui.Displayer) error) error {
	if !useTUI {
		d := tui.NewPlainDisplayer(w)
		d.Banner()
		if err := fn(d); err != nil {
			d.Fatal(err)
			return reportedError{err}
		}
		return nil
	}

	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries. Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(tui.NewModel(), tea.WithOutput(w), tea.WithInput(nil))

	var g errgroup.Group
	g.Go(func() error {
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	})

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	runErr := fn(d)
	if runErr != nil {
		d.Fatal(runErr)
	}
	p.Quit() // let BubbleTea drain terminal query responses before exiting

	if err := g.Wait(); err != nil {
		slog.Warn("display failed", "error", err)
		if runErr != nil {
			return runErr
		}
		return err
	}
	if runErr != nil {
		return reportedError{runErr}
	}
	return nil
}
