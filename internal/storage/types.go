package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnitNotFound        = errors.New("unit not found")
	ErrUnitUnavailable     = errors.New("unit not available")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidTransition   = errors.New("invalid reservation transition")
	ErrInvalidRequest      = errors.New("invalid reservation request")
)

// Unit is a rentable storage unit.
type Unit struct {
	UnitID            string   `json:"unit_id"`
	Size              string   `json:"size"`
	SquareFeet        int      `json:"square_feet"`
	Price             float64  `json:"price"`
	Floor             int      `json:"floor"`
	ClimateControlled bool     `json:"climate_controlled"`
	Available         bool     `json:"available"`
	Features          []string `json:"features"`
}

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
	StatusCompleted ReservationStatus = "completed"
)

// Action is a requested reservation state change.
type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

type Reservation struct {
	ReservationID  string            `json:"reservation_id"`
	UnitID         string            `json:"unit_id"`
	CustomerPhone  string            `json:"customer_phone"`
	StartDate      time.Time         `json:"start_date"`
	DurationMonths int               `json:"duration_months"`
	MonthlyPrice   float64           `json:"monthly_price"`
	TotalPrice     float64           `json:"total_price"`
	Status         ReservationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Transition applies a to the reservation. unitAvailable is the unit's
// availability before the change; the result is its availability after.
// Only a confirmed reservation holds the unit, so confirming needs a free
// unit and only closing a confirmed reservation frees it.
func (r *Reservation) Transition(a Action, unitAvailable bool, now time.Time) (bool, error) {
	from := r.Status
	switch a {
	case ActionConfirm:
		if from != StatusPending {
			break
		}
		if !unitAvailable {
			return unitAvailable, fmt.Errorf("%w: %s is held by another reservation", ErrUnitUnavailable, r.UnitID)
		}
		r.Status = StatusConfirmed
		r.UpdatedAt = now
		return false, nil
	case ActionCancel:
		if from != StatusPending && from != StatusConfirmed {
			break
		}
		r.Status = StatusCancelled
		r.UpdatedAt = now
		return unitAvailable || from == StatusConfirmed, nil
	case ActionComplete:
		if from != StatusConfirmed {
			break
		}
		r.Status = StatusCompleted
		r.UpdatedAt = now
		return true, nil
	}
	return unitAvailable, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, a, from)
}

// ReservationRequest carries the caller-supplied rental terms.
type ReservationRequest struct {
	UnitID         string    `json:"unit_id"`
	CustomerPhone  string    `json:"customer_phone"`
	StartDate      time.Time `json:"start_date"`
	DurationMonths int       `json:"duration_months"`
}

func (r ReservationRequest) validate() error {
	if strings.TrimSpace(r.UnitID) == "" {
		return fmt.Errorf("%w: unit_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.CustomerPhone) == "" {
		return fmt.Errorf("%w: customer_phone is required", ErrInvalidRequest)
	}
	if r.DurationMonths <= 0 {
		return fmt.Errorf("%w: duration_months must be positive", ErrInvalidRequest)
	}
	return nil
}

// Store is the business-data collaborator: facility, units and reservations.
type Store interface {
	// AvailableUnits lists available units, filtered to an exact size when
	// size is non-empty, cheapest first.
	AvailableUnits(ctx context.Context, size string) ([]Unit, error)
	Unit(ctx context.Context, unitID string) (Unit, error)
	// CreateReservation returns ErrUnitNotFound or ErrUnitUnavailable when
	// the unit cannot be reserved.
	CreateReservation(ctx context.Context, req ReservationRequest) (Reservation, error)
	Reservation(ctx context.Context, reservationID string) (Reservation, error)
	TransitionReservation(ctx context.Context, reservationID string, a Action) (Reservation, error)
	Facility(ctx context.Context) (Facility, error)
	Ping(ctx context.Context) error
	Close() error
}
