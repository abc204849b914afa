package inventory

import (
	"context"
	"time"

	"orderflow-be/internal/logger"

	"go.uber.org/zap"
)

// Sweeper periodically releases reservations that reached their expiry
// without being committed or released.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	stop     chan struct{}
}

func NewSweeper(repo Repository, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stop)
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	released, err := s.repo.ReleaseExpired(ctx, time.Now())
	if err != nil {
		logger.L().Error("reservation sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		logger.L().Info("expired reservations released", zap.Int64("count", released))
	}
}
