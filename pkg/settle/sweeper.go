package settle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// expiredLister is the slice of the session ledger the sweeper needs.
type expiredLister interface {
	ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
}

// Sweeper periodically settles sessions whose abandonment path has been open
// for at least the grace period. It makes a stalled session's refund
// automatic; nobody has to call abandon for funds to come back.
type Sweeper struct {
	mu sync.Mutex

	engine   *Engine
	sessions expiredLister
	interval time.Duration
	grace    time.Duration
	batch    int
	logger   *slog.Logger

	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. interval defaults to a minute, batch to 100.
func NewSweeper(engine *Engine, sessions expiredLister, interval, grace time.Duration, batch int, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		sessions: sessions,
		interval: interval,
		grace:    grace,
		batch:    batch,
		logger:   logger,
	}
}

// Start launches the sweep loop. It is an error to start a running sweeper.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("settle: sweeper already running")
	}
	s.running = true
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("expiry sweeper started", "interval", s.interval, "grace", s.grace)
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("expiry sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Exported so tests and operators can trigger it
// directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.grace)
	ids, err := s.sessions.ExpiredBefore(ctx, cutoff, s.batch)
	if err != nil {
		s.logger.Error("sweep list failed", "err", err)
		return
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := s.engine.Abandon(ctx, id); err != nil {
			// NotYetAbandonable covers sessions inside the grace window and
			// races with a concurrent settlement; both resolve themselves.
			if errors.Is(err, ErrNotYetAbandonable) || errors.Is(err, ErrAlreadySettled) {
				continue
			}
			s.logger.Error("sweep settlement failed", "session_id", id, "err", err)
			continue
		}
		s.logger.Info("stalled session swept", "session_id", id)
	}
}
