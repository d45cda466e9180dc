package archive_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabmarket/internal/infra"
	"cabmarket/internal/logger"
	"cabmarket/internal/modules/archive"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/testutil"
	"cabmarket/internal/types"
)

func insertBooking(t *testing.T, db *pgxpool.Pool, id string, status booking.Status) types.ID {
	t.Helper()
	pickup := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	_, err := db.Exec(context.Background(), `
		INSERT INTO bookings (id, customer_id, requested_vehicle_id, pickup_location, drop_location,
			pickup_date, drop_date, distance, price, status, otp)
		VALUES ($1, 'c1', 'car1', 'Airport', 'Station', $2, $3, 100, 2000, $4, '123456')`,
		id, pickup, pickup.Add(3*time.Hour), status.String())
	require.NoError(t, err)
	return types.ID(id)
}

func count(t *testing.T, db *pgxpool.Pool, table string, id types.ID) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(context.Background(), `SELECT COUNT(*) FROM `+table+` WHERE id = $1`, string(id)).Scan(&n))
	return n
}

func TestArchiveMovesTerminalBookingOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPool(t)
	m := archive.NewMover(db, logger.Discard())
	id := insertBooking(t, db, "b_done", booking.StatusCompleted)

	require.NoError(t, m.Archive(ctx, id))
	assert.Equal(t, 0, count(t, db, "bookings", id))
	assert.Equal(t, 1, count(t, db, "previous_bookings", id))

	got, err := m.GetArchived(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, got.Status)
	assert.Equal(t, int64(2000), got.Price.Amount)

	err = m.Archive(ctx, id)
	assert.ErrorIs(t, err, archive.ErrAlreadyArchived)
	assert.Equal(t, 1, count(t, db, "previous_bookings", id))
}

func TestArchiveRejectsLiveAndUnknown(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPool(t)
	m := archive.NewMover(db, logger.Discard())
	id := insertBooking(t, db, "b_waiting", booking.StatusWaiting)

	assert.ErrorIs(t, m.Archive(ctx, id), archive.ErrNotTerminal)
	assert.Equal(t, 1, count(t, db, "bookings", id))

	assert.ErrorIs(t, m.Archive(ctx, "b_missing"), archive.ErrNotFound)
	_, err := m.GetArchived(ctx, "b_missing")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestMoveTxLeavesLiveRowWhenHistoryExists(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPool(t)
	m := archive.NewMover(db, logger.Discard())
	id := insertBooking(t, db, "b_dup", booking.StatusCancelled)

	_, err := db.Exec(ctx, `INSERT INTO previous_bookings (`+booking.ColumnNames+`, archived_at)
		SELECT `+booking.ColumnNames+`, NOW() FROM bookings WHERE id = $1`, string(id))
	require.NoError(t, err)

	err = infra.WithTx(ctx, db, func(tx pgx.Tx) error {
		return m.MoveTx(ctx, tx, id)
	})
	assert.ErrorIs(t, err, archive.ErrAlreadyArchived)
	assert.Equal(t, 1, count(t, db, "bookings", id), "failed move must not delete the live row")
	assert.Equal(t, 1, count(t, db, "previous_bookings", id))
}

func TestConcurrentArchiveSingleWinner(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPool(t)
	m := archive.NewMover(db, logger.Discard())
	id := insertBooking(t, db, "b_race_archive", booking.StatusCompleted)

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- m.Archive(ctx, id)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, archive.ErrAlreadyArchived) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, count(t, db, "previous_bookings", id))
}
