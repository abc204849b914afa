package inventory

import (
	"context"
	"time"

	"orderflow-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Service interface {
	// Reserve claims stock for every line or none at all. On any failure the
	// reservations already taken for this order are released before returning.
	Reserve(ctx context.Context, orderID uuid.UUID, lines []Line) ([]uuid.UUID, error)
	Commit(ctx context.Context, orderID uuid.UUID) error
	Release(ctx context.Context, orderID uuid.UUID) error
	Restock(ctx context.Context, productID string, qty int) error
}

type Line struct {
	ProductID string
	Quantity  int
}

type service struct {
	repo Repository
	ttl  time.Duration
}

func NewService(repo Repository, ttl time.Duration) Service {
	return &service{repo: repo, ttl: ttl}
}

func (s *service) Reserve(ctx context.Context, orderID uuid.UUID, lines []Line) ([]uuid.UUID, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "inventory"),
		zap.String("order_id", orderID.String()),
	)

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		id, err := s.repo.Reserve(ctx, line.ProductID, line.Quantity, orderID, s.ttl)
		if err != nil {
			log.Warn("reservation failed, rolling back prior lines",
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
			if relErr := s.repo.ReleaseForOrder(ctx, orderID); relErr != nil {
				log.Error("failed to release partial reservations", zap.Error(relErr))
			}
			return nil, err
		}
		ids = append(ids, id)
	}

	log.Info("inventory reserved", zap.Int("lines", len(ids)))
	return ids, nil
}

func (s *service) Commit(ctx context.Context, orderID uuid.UUID) error {
	return s.repo.CommitForOrder(ctx, orderID)
}

func (s *service) Release(ctx context.Context, orderID uuid.UUID) error {
	return s.repo.ReleaseForOrder(ctx, orderID)
}

func (s *service) Restock(ctx context.Context, productID string, qty int) error {
	return s.repo.Restock(ctx, productID, qty)
}
