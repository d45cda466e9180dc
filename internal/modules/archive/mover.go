// README: Archival mover; copies a terminal booking into previous_bookings and deletes the live row atomically.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cabmarket/internal/apperr"
	"cabmarket/internal/infra"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/types"
)

var (
	ErrAlreadyArchived = apperr.New(apperr.KindConflict, "already_archived", "booking already archived")
	ErrNotFound        = apperr.New(apperr.KindNotFound, "booking_not_found", "booking not found")
	ErrNotTerminal     = apperr.New(apperr.KindInvalidTransition, "booking_not_terminal", "booking is not completed or cancelled")
)

type Mover struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewMover(db *pgxpool.Pool, log *slog.Logger) *Mover {
	return &Mover{db: db, log: log}
}

// Archive moves a live booking that already sits in a terminal status.
func (m *Mover) Archive(ctx context.Context, id types.ID) error {
	err := infra.WithTx(ctx, m.db, func(tx pgx.Tx) error {
		var raw string
		err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, string(id)).Scan(&raw)
		if infra.IsNoRows(err) {
			archived, err := isArchived(ctx, tx, id)
			if err != nil {
				return err
			}
			if archived {
				return ErrAlreadyArchived
			}
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		status, err := booking.ParseStatus(raw)
		if err != nil {
			return err
		}
		if !status.Terminal() {
			return ErrNotTerminal
		}
		return m.MoveTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	m.log.InfoContext(ctx, "booking archived", "booking_id", id)
	return nil
}

// MoveTx copies then deletes within q. A duplicate historical row fails the whole unit.
func (m *Mover) MoveTx(ctx context.Context, q infra.Querier, id types.ID) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO previous_bookings (`+booking.ColumnNames+`, archived_at)
		SELECT `+booking.ColumnNames+`, NOW() FROM bookings WHERE id = $1`, string(id))
	if infra.IsUniqueViolation(err) {
		return apperr.Wrap(ErrAlreadyArchived, err)
	}
	if err != nil {
		return fmt.Errorf("copy booking %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	tag, err = q.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete live booking %s: %w", id, err)
	}
	if tag.RowsAffected() != 1 {
		return errors.New("live booking vanished during archival")
	}
	return nil
}

// GetArchived reads the historical snapshot.
func (m *Mover) GetArchived(ctx context.Context, id types.ID) (*booking.Booking, error) {
	row := m.db.QueryRow(ctx, `SELECT `+booking.SelectColumns("")+` FROM previous_bookings WHERE id = $1`, string(id))
	b, err := booking.ScanRow(row)
	if errors.Is(err, booking.ErrNotFound) {
		return nil, ErrNotFound
	}
	return b, err
}

func isArchived(ctx context.Context, q infra.Querier, id types.ID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM previous_bookings WHERE id = $1)`, string(id)).Scan(&exists)
	return exists, err
}
