package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps facility, unit and reservation records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgresStore(ctx context.Context, databaseURL string, migrate bool, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if migrate {
		if err := runMigrations(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{logger.Named("migrate").Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migration dialect: %w", err)
	}
	// The pool owns the connections; the *sql.DB is only a view for goose.
	db := stdlib.OpenDBFromPool(pool)
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }
func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.s.Infof(strings.TrimSpace(format), v...)
}

const unitColumns = `unit_id, size, square_feet, price, floor, climate_controlled, available, features`

func (s *PostgresStore) AvailableUnits(ctx context.Context, size string) ([]Unit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+unitColumns+` FROM units
		 WHERE available AND ($1 = '' OR lower(size) = lower($1))
		 ORDER BY price, unit_id`,
		strings.TrimSpace(size),
	)
	if err != nil {
		return nil, fmt.Errorf("query available units: %w", err)
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit row: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unit rows: %w", err)
	}
	return units, nil
}

func (s *PostgresStore) Unit(ctx context.Context, unitID string) (Unit, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE unit_id=$1`, unitID)
	u, err := scanUnit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	if err != nil {
		return Unit{}, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateReservation(ctx context.Context, req ReservationRequest) (Reservation, error) {
	if err := req.validate(); err != nil {
		return Reservation{}, err
	}
	var out Reservation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			price     float64
			available bool
		)
		err := tx.QueryRow(ctx,
			`SELECT price, available FROM units WHERE unit_id=$1 FOR UPDATE`, req.UnitID,
		).Scan(&price, &available)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnitNotFound
		}
		if err != nil {
			return fmt.Errorf("lock unit: %w", err)
		}
		if !available {
			return ErrUnitUnavailable
		}

		out = newReservation(req, price, s.now())
		_, err = tx.Exec(ctx,
			`INSERT INTO reservations
			 (reservation_id, unit_id, customer_phone, start_date, duration_months, monthly_price, total_price, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			out.ReservationID, out.UnitID, out.CustomerPhone, out.StartDate, out.DurationMonths,
			out.MonthlyPrice, out.TotalPrice, string(out.Status), out.CreatedAt, out.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return out, nil
}

const reservationColumns = `reservation_id, unit_id, customer_phone, start_date, duration_months, monthly_price, total_price, status, created_at, updated_at`

func (s *PostgresStore) Reservation(ctx context.Context, reservationID string) (Reservation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reservation_id=$1`, reservationID)
	r, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) TransitionReservation(ctx context.Context, reservationID string, a Action) (Reservation, error) {
	var out Reservation
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reservation_id=$1 FOR UPDATE`, reservationID)
		r, err := scanReservation(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReservationNotFound
		}
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		var unitAvailable bool
		err = tx.QueryRow(ctx, `SELECT available FROM units WHERE unit_id=$1 FOR UPDATE`, r.UnitID).Scan(&unitAvailable)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnitNotFound
		}
		if err != nil {
			return fmt.Errorf("lock unit: %w", err)
		}
		available, err := r.Transition(a, unitAvailable, s.now())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE reservations SET status=$2, updated_at=$3 WHERE reservation_id=$1`,
			r.ReservationID, string(r.Status), r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update reservation: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE units SET available=$2 WHERE unit_id=$1`, r.UnitID, available); err != nil {
			return fmt.Errorf("update unit availability: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	return out, nil
}

func (s *PostgresStore) Facility(ctx context.Context) (Facility, error) {
	var (
		f         Facility
		hours     []byte
		amenities []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT name, address, city, state, zip_code, phone, email, hours, amenities, timezone
		 FROM facilities ORDER BY id LIMIT 1`,
	).Scan(&f.Name, &f.Address, &f.City, &f.State, &f.ZipCode, &f.Phone, &f.Email, &hours, &amenities, &f.Timezone)
	if err != nil {
		return Facility{}, fmt.Errorf("get facility: %w", err)
	}
	if err := json.Unmarshal(hours, &f.Hours); err != nil {
		return Facility{}, fmt.Errorf("decode facility hours: %w", err)
	}
	if err := json.Unmarshal(amenities, &f.Amenities); err != nil {
		return Facility{}, fmt.Errorf("decode facility amenities: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	err := row.Scan(&u.UnitID, &u.Size, &u.SquareFeet, &u.Price, &u.Floor, &u.ClimateControlled, &u.Available, &u.Features)
	return u, err
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var (
		r      Reservation
		status string
	)
	err := row.Scan(&r.ReservationID, &r.UnitID, &r.CustomerPhone, &r.StartDate, &r.DurationMonths,
		&r.MonthlyPrice, &r.TotalPrice, &status, &r.CreatedAt, &r.UpdatedAt)
	r.Status = ReservationStatus(status)
	return r, err
}
