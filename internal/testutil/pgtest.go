// README: Postgres helpers for DB-backed tests; skipped unless CABMARKET_TEST_DSN is set.
package testutil

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

var tables = []string{
	"booking_events", "bookings", "previous_bookings", "transactions",
	"partner_transactions", "penalty_disputes", "payments", "vendor_wallet_transactions",
	"drivers", "vehicles", "customers", "vendors", "partners",
}

// NewPool connects to the test database, applies the schema and truncates every table.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("CABMARKET_TEST_DSN")
	if dsn == "" {
		t.Skip("CABMARKET_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func ApplyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := RepoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range SplitSQL(StripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func RepoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func StripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func SplitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Seed inserts a vendor with the given balance, one active driver and one active vehicle.
func Seed(t *testing.T, db *pgxpool.Pool, vendorID string, balance int64, driverID, vehicleID string, seats int, perKm int64) {
	t.Helper()
	ctx := context.Background()
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO vendors (id, name, amount) VALUES ($1, $1, $2) ON CONFLICT (id) DO NOTHING`, []any{vendorID, balance}},
		{`INSERT INTO drivers (id, vendor_id, name) VALUES ($1, $2, $1) ON CONFLICT (id) DO NOTHING`, []any{driverID, vendorID}},
		{`INSERT INTO vehicles (id, vendor_id, model, seats, per_km_charge) VALUES ($1, $2, 'sedan', $3, $4) ON CONFLICT (id) DO NOTHING`, []any{vehicleID, vendorID, seats, perKm}},
	}
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s.sql, s.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}
