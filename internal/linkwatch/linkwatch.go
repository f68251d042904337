// Package linkwatch observes an external signal that flips the
// agent's perceived link state and exposes the single flip()
// primitive every toggle source — stdin lines and the operational
// control endpoint alike — funnels through.
package linkwatch

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"go.uber.org/zap"
)

// LinkState is the agent-wide online/offline flag. A single-word
// atomic is the only synchronization the agent needs for it.
type LinkState struct {
	online atomic.Bool
}

// NewLinkState creates a LinkState, initially online.
func NewLinkState() *LinkState {
	s := &LinkState{}
	s.online.Store(true)
	return s
}

// Online reports the current perceived link state.
func (s *LinkState) Online() bool { return s.online.Load() }

// Flip toggles the link state and returns the new value. It is the
// single primitive every toggle source calls.
func (s *LinkState) Flip() bool {
	for {
		old := s.online.Load()
		if s.online.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Set forces the link state to the given value and reports whether it
// actually changed.
func (s *LinkState) Set(online bool) bool {
	old := s.online.Swap(online)
	return old != online
}

// Watcher reads lines from r and calls Flip on the shared LinkState
// each time it sees one, logging the resulting state. Any line
// triggers a flip — the content is not inspected.
type Watcher struct {
	state  *LinkState
	reader io.Reader
	logger *zap.Logger
	onFlip func(online bool)
}

// New creates a Watcher over r (typically os.Stdin). onFlip, if
// non-nil, is invoked with the resulting state after every toggle —
// the agent uses it to broadcast the link state over the WebSocket hub.
func New(state *LinkState, r io.Reader, logger *zap.Logger, onFlip func(online bool)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{state: state, reader: r, logger: logger, onFlip: onFlip}
}

// Run blocks scanning lines from the reader until ctx is cancelled or
// the reader is exhausted. Intended to run in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(w.reader)
		for scanner.Scan() {
			lines <- struct{}{}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			online := w.state.Flip()
			w.logger.Info("link state toggled", zap.Bool("online", online))
			if w.onFlip != nil {
				w.onFlip(online)
			}
		}
	}
}
