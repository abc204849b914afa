package inventory

import (
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

// Reservation is a temporary claim on stock. It lives only between checkout
// and payment resolution; the sweeper releases it after ExpiresAt.
type Reservation struct {
	ID        uuid.UUID
	ProductID string
	OrderID   uuid.UUID
	Quantity  int
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}
