package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store seeded with the demo facility, for
// local/dev use and tests.
type InMemoryStore struct {
	mu           sync.RWMutex
	facility     Facility
	units        map[string]Unit
	reservations map[string]Reservation
	now          func() time.Time
}

func NewInMemoryStore(units []Unit, facility Facility) *InMemoryStore {
	s := &InMemoryStore{
		facility:     facility,
		units:        make(map[string]Unit, len(units)),
		reservations: make(map[string]Reservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, u := range units {
		s.units[u.UnitID] = cloneUnit(u)
	}
	return s
}

// NewSeededStore returns an in-memory store holding SeedUnits and SeedFacility.
func NewSeededStore() *InMemoryStore {
	return NewInMemoryStore(SeedUnits(), SeedFacility())
}

func (s *InMemoryStore) AvailableUnits(_ context.Context, size string) ([]Unit, error) {
	size = strings.ToLower(strings.TrimSpace(size))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Unit, 0, len(s.units))
	for _, u := range s.units {
		if !u.Available {
			continue
		}
		if size != "" && !strings.EqualFold(u.Size, size) {
			continue
		}
		out = append(out, cloneUnit(u))
	}
	sortUnits(out)
	return out, nil
}

func (s *InMemoryStore) Unit(_ context.Context, unitID string) (Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[unitID]
	if !ok {
		return Unit{}, ErrUnitNotFound
	}
	return cloneUnit(u), nil
}

func (s *InMemoryStore) CreateReservation(_ context.Context, req ReservationRequest) (Reservation, error) {
	if err := req.validate(); err != nil {
		return Reservation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[req.UnitID]
	if !ok {
		return Reservation{}, ErrUnitNotFound
	}
	if !u.Available {
		return Reservation{}, ErrUnitUnavailable
	}
	now := s.now()
	r := newReservation(req, u.Price, now)
	s.reservations[r.ReservationID] = r
	return r, nil
}

func (s *InMemoryStore) Reservation(_ context.Context, reservationID string) (Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

func (s *InMemoryStore) TransitionReservation(_ context.Context, reservationID string, a Action) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	u, ok := s.units[r.UnitID]
	if !ok {
		return Reservation{}, ErrUnitNotFound
	}
	available, err := r.Transition(a, u.Available, s.now())
	if err != nil {
		return Reservation{}, err
	}
	s.reservations[reservationID] = r
	u.Available = available
	s.units[r.UnitID] = u
	return r, nil
}

func (s *InMemoryStore) Facility(_ context.Context) (Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facility, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }

func newReservation(req ReservationRequest, monthly float64, now time.Time) Reservation {
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	return Reservation{
		ReservationID:  newReservationID(now),
		UnitID:         req.UnitID,
		CustomerPhone:  req.CustomerPhone,
		StartDate:      start,
		DurationMonths: req.DurationMonths,
		MonthlyPrice:   monthly,
		TotalPrice:     monthly * float64(req.DurationMonths),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Reservation ids read as "R20250208190700-1a2b3c4d": the timestamp keeps
// them human-sortable, the suffix keeps same-second ids distinct.
func newReservationID(now time.Time) string {
	return "R" + now.UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

func sortUnits(units []Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].Price != units[j].Price {
			return units[i].Price < units[j].Price
		}
		return units[i].UnitID < units[j].UnitID
	})
}

func cloneUnit(u Unit) Unit {
	c := u
	c.Features = append([]string(nil), u.Features...)
	return c
}
