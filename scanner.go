package opqueue

import (
	"context"
	"log/slog"
	"time"
)

// Scanner periodically triggers a replay pass while queued work remains.
// The engine never retries an aborted pass on its own; the scanner is the
// external trigger that picks it back up.
type Scanner struct {
	engine   *Engine
	interval time.Duration
	done     chan struct{}
}

// NewScanner creates a background trigger for engine.
func NewScanner(engine *Engine, interval time.Duration) *Scanner {
	return &Scanner{
		engine:   engine,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic loop. Call with a cancellable context for
// shutdown.
func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.scan(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the scanner has stopped.
func (s *Scanner) Wait() {
	<-s.done
}

func (s *Scanner) scan(ctx context.Context) {
	st := s.engine.Status()
	if st.Syncing || !st.IsOnline {
		return
	}
	if st.QueuedOperations == 0 && st.LastError == "" {
		return
	}
	slog.Debug("scanner: triggering sync", "queued", st.QueuedOperations, "last_error", st.LastError)
	s.engine.Sync(ctx)
}
