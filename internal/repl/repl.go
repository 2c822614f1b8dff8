// Package repl is the interactive input pipeline. It routes each line
// either to a slash command or to the orchestrator as a user turn, and
// owns the terminal concerns around that: prompt, spinner, colors, and
// Ctrl-C semantics (exit at the prompt, cancel the turn mid-flight).
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/nevindra/nuagent"
)

// REPL drives the interactive session. Zero-value fields get sensible
// defaults in Run; In and Out exist so tests can script the session.
type REPL struct {
	App        *nuagent.Application
	Orch       *nuagent.Orchestrator
	Supervisor *nuagent.Supervisor
	Registry   *nuagent.ToolRegistry
	Bus        *nuagent.Bus
	Logger     *slog.Logger

	// LogLevel backs the /debug command. Nil means the level is fixed.
	LogLevel *slog.LevelVar

	// DBPath is the database file /backup copies. Empty disables /backup.
	DBPath string

	// Interactive enables the prompt, the spinner, and /clear. The
	// caller decides, typically from term.IsTerminal.
	Interactive bool

	In  io.Reader
	Out io.Writer

	spin *spinner

	mu         sync.Mutex
	spellSaved nuagent.SpellChecker
}

var (
	promptStyle = color.New(color.FgCyan, color.Bold)
	errStyle    = color.New(color.FgRed)
	noteStyle   = color.New(color.Faint)
)

// Run reads lines until /exit, EOF, or Ctrl-C at the prompt. It returns
// nil on any normal termination; the caller performs shutdown.
func (r *REPL) Run(ctx context.Context) error {
	if r.In == nil {
		r.In = os.Stdin
	}
	if r.Out == nil {
		r.Out = os.Stdout
	}
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}
	r.spin = newSpinner(r.Out, r.Interactive)

	// Assistant text produced mid-loop (alongside tool calls) prints
	// immediately instead of waiting for the final response.
	r.Orch.OnContent = func(text string) {
		r.spin.pause(func() {
			fmt.Fprintln(r.Out, text)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.In)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	if r.Interactive {
		fmt.Fprintln(r.Out, "nuagent ready. Type /help for commands.")
	}

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			// Ctrl-C at the prompt ends the session.
			fmt.Fprintln(r.Out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if quit := r.dispatch(ctx, line); quit {
					return nil
				}
				continue
			}
			r.turn(ctx, sigCh, line)
		}
	}
}

func (r *REPL) prompt() {
	if r.Interactive {
		promptStyle.Fprint(r.Out, "> ")
	}
}

// turn runs one user turn. Ctrl-C while the turn is in flight cancels
// only the turn context; the transaction rolls back and the prompt
// returns.
func (r *REPL) turn(ctx context.Context, sigCh <-chan os.Signal, input string) {
	if r.Bus != nil {
		r.Bus.Publish(nuagent.TopicUserInputReceived, input)
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-watchDone:
		}
	}()

	r.spin.start()
	result, err := r.Orch.ProcessTurn(tctx, r.App.Conversation(), input)
	r.spin.stop()

	if err != nil {
		if tctx.Err() != nil {
			noteStyle.Fprintln(r.Out, "Cancelled.")
			return
		}
		errStyle.Fprintf(r.Out, "Error: %v\n", err)
		return
	}
	if result.Failed {
		errStyle.Fprintf(r.Out, "%s\n", result.Assistant)
		if result.Error != "" {
			noteStyle.Fprintf(r.Out, "(exchange failed: %s)\n", result.Error)
		}
		return
	}
	fmt.Fprintln(r.Out, result.Assistant)
	// The usage note follows the stored verbosity: 0 suppresses it even
	// on a terminal, 2 prints it even when the session is piped.
	v, cerr := r.App.Store.ConfigInt(ctx, nuagent.ConfigVerbosity, 1)
	if cerr != nil {
		v = 1
	}
	if v >= 2 || (r.Interactive && v >= 1) {
		noteStyle.Fprintf(r.Out, "(%d in / %d out tokens, $%.4f)\n",
			result.Metrics.TokensInput, result.Metrics.TokensOutput, result.Metrics.Spend)
	}
}
