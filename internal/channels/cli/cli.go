// Package cli implements the reference channels.Adapter: a readline-backed
// terminal REPL. Grounded on Qefaraki-picoclaw's chzyer/readline dependency
// (declared there for an interactive agent shell, no retrieved usage site
// to imitate directly, so the loop below follows readline's standard
// Instance/Readline/Close shape) and on the teacher's plain-stdout reply
// rendering.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/parleyhq/parley/internal/bus"
)

// chatID is the single synthetic chat identity every cli session shares;
// the cli channel is a single-user terminal, not a multi-chat bridge.
const chatID = "local"

// Adapter is a terminal channel: it reads lines from stdin via readline and
// prints outbound replies as they arrive, implementing channels.Adapter.
type Adapter struct {
	Prompt  string
	HistoryFile string
	SenderID string

	logger *slog.Logger
	rl     *readline.Instance

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// New builds a cli Adapter. historyFile may be empty to disable persisted
// line history.
func New(senderID, historyFile string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if senderID == "" {
		senderID = "operator"
	}
	return &Adapter{
		Prompt:      "parley> ",
		HistoryFile: historyFile,
		SenderID:    senderID,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return "cli" }

// Start opens the readline instance and runs its read loop on its own
// goroutine, pushing one inbound MessageEnvelope per non-empty line onto
// inbound. It returns once the instance is ready, not once the loop ends.
func (a *Adapter) Start(ctx context.Context, inbound chan<- bus.MessageEnvelope) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          a.Prompt,
		HistoryFile:     a.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("cli: open readline: %w", err)
	}
	a.rl = rl

	go a.readLoop(ctx, inbound)
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, inbound chan<- bus.MessageEnvelope) {
	defer close(a.done)
	for {
		line, err := a.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				a.logger.Warn("cli: readline error, stopping", "error", err)
			}
			return
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		env := bus.MessageEnvelope{
			Channel:    a.Name(),
			ChatID:     chatID,
			SenderID:   a.SenderID,
			SenderRole: bus.RoleUser,
			Content:    text,
		}
		select {
		case inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

// Send prints an outbound envelope's content to the terminal, prefixed
// with the sender when known.
func (a *Adapter) Send(_ context.Context, env bus.MessageEnvelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || a.rl == nil {
		return nil
	}
	sender := env.SenderID
	if sender == "" {
		sender = "assistant"
	}
	fmt.Fprintf(a.rl.Stdout(), "%s: %s\n", sender, env.Content)
	return nil
}

// Stop closes the readline instance, ending the read loop.
func (a *Adapter) Stop(_ context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	rl := a.rl
	a.mu.Unlock()
	if rl == nil {
		return nil
	}
	return rl.Close()
}

// Done returns a channel closed once the read loop has exited, so callers
// can wait for a clean terminal state on shutdown.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}
