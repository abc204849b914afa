package payment

import (
	"context"
	"time"

	"orderflow-be/internal/logger"

	"go.uber.org/zap"
)

// Watchdog periodically expires authorizations the gateway never confirmed.
type Watchdog struct {
	coordinator *Coordinator
	interval    time.Duration
	stop        chan struct{}
}

func NewWatchdog(coordinator *Coordinator, interval time.Duration) *Watchdog {
	return &Watchdog{
		coordinator: coordinator,
		interval:    interval,
		stop:        make(chan struct{}),
	}
}

func (w *Watchdog) Run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.stop:
			return
		}
	}
}

func (w *Watchdog) Stop() {
	close(w.stop)
}

func (w *Watchdog) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := w.coordinator.ExpireStaleAuthorizations(ctx)
	if err != nil {
		logger.L().Error("stale authorization check failed", zap.Error(err))
		return
	}
	if expired > 0 {
		logger.L().Info("stale authorizations expired", zap.Int("count", expired))
	}
}
