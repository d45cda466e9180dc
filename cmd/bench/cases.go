// README: Audit checks: environment, schema, data invariants over live and archived bookings, ledgers, and an accept race.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cabmarket/internal/infra"
	"cabmarket/internal/modules/dispatch"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "board cache reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "every table in the migration is present",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},
		{
			Name:  "API: health",
			Focus: "server answers",
			Run: func(ctx context.Context, r *Runner) Result {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
				start := time.Now()
				resp, err := r.httpc.Do(req)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: StatusFail, Latency: time.Since(start), Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},
		{
			Name:  "API: unauthenticated vendor route -> 401",
			Focus: "auth gate",
			Run: func(ctx context.Context, r *Runner) Result {
				status, err := r.post(ctx, base+"/vendor/accept-booking", "", map[string]any{})
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if status != http.StatusUnauthorized {
					return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: StatusPass}
			},
		},

		// Booking invariants
		sqlCase("Bookings: assignment all-or-nothing", `
			SELECT count(*) FROM (
				SELECT vendor_id, driver_id, vehicle_id FROM bookings
				UNION ALL
				SELECT vendor_id, driver_id, vehicle_id FROM previous_bookings
			) b
			WHERE NOT ((vendor_id IS NULL AND driver_id IS NULL AND vehicle_id IS NULL)
			        OR (vendor_id IS NOT NULL AND driver_id IS NOT NULL AND vehicle_id IS NOT NULL))`),
		sqlCase("Bookings: no terminal rows in live table", `
			SELECT count(*) FROM bookings WHERE status IN ('completed', 'cancelled')`),
		sqlCase("Bookings: no row both live and archived", `
			SELECT count(*) FROM bookings b JOIN previous_bookings p ON p.id = b.id`),
		sqlCase("Bookings: no overlapping vehicle windows", `
			SELECT count(*) FROM bookings a
			JOIN bookings b ON a.vehicle_id = b.vehicle_id AND a.id < b.id
			WHERE a.vehicle_id IS NOT NULL
			  AND a.pickup_date < b.drop_date AND b.pickup_date < a.drop_date`),
		sqlCase("Bookings: no overlapping driver windows", `
			SELECT count(*) FROM bookings a
			JOIN bookings b ON a.driver_id = b.driver_id AND a.id < b.id
			WHERE a.driver_id IS NOT NULL
			  AND a.pickup_date < b.drop_date AND b.pickup_date < a.drop_date`),
		sqlCase("Bookings: ongoing rows carry a verified otp", `
			SELECT count(*) FROM bookings WHERE status = 'ongoing' AND NOT otp_verified`),
		sqlCase("Payments: one booking per captured transaction", `
			SELECT count(*) FROM (
				SELECT transaction_id FROM (
					SELECT transaction_id FROM bookings
					UNION ALL
					SELECT transaction_id FROM previous_bookings
				) t
				WHERE transaction_id IS NOT NULL
				GROUP BY transaction_id HAVING count(*) > 1
			) dup`),

		// Money invariants
		sqlCase("Settlement: split adds up on completed trips", `
			SELECT count(*) FROM previous_bookings
			WHERE status = 'completed' AND admin_commission IS NOT NULL
			  AND admin_commission + vendor_share <> price`),
		sqlCase("Settlement: vendor paid at most once per booking", `
			SELECT count(*) FROM (
				SELECT booking_id FROM payments
				WHERE type = 'withdrawal' AND status = 'completed' AND vendor_id IS NOT NULL
				GROUP BY booking_id HAVING count(*) > 1
			) dup`),
		sqlCase("Wallet: balance equals last ledger row", `
			SELECT count(*) FROM vendors v
			LEFT JOIN LATERAL (
				SELECT balance_after FROM vendor_wallet_transactions w
				WHERE w.vendor_id = v.id
				ORDER BY created_at DESC, id DESC LIMIT 1
			) last ON TRUE
			WHERE COALESCE(last.balance_after, 0) <> v.amount`),
		sqlCase("Disputes: decided disputes are closed on their penalty", `
			SELECT count(*) FROM penalty_disputes d JOIN payments p ON p.id = d.payment_id
			WHERE (d.status = 'resolved' AND p.status <> 'completed')
			   OR (d.status = 'rejected' AND p.status <> 'cancelled')`),

		{
			Name:  "Board: only waiting bookings listed",
			Focus: "redis open set matches database",
			Run:   boardConsistency,
		},

		{
			Name:  "Concurrency: vendors race one booking",
			Focus: "exactly one accept wins",
			Run: func(ctx context.Context, r *Runner) Result {
				return concurrentAccept(ctx, r, base+"/vendor/accept-booking")
			},
		},
		{
			Name:  "Perf: health throughput",
			Focus: "server keeps up under load",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, base+"/health")
			},
		},
	}
}

// sqlCase passes when the query counts zero offending rows.
func sqlCase(name, query string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "DB invariant",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: StatusSkip, Note: "db not configured"}
			}
			start := time.Now()
			var n int64
			if err := r.db.QueryRow(ctx, query).Scan(&n); err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			latency := time.Since(start)
			if n > 0 {
				return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("violations=%d", n)}
			}
			return Result{Status: StatusPass, Latency: latency}
		},
	}
}

func boardConsistency(ctx context.Context, r *Runner) Result {
	if r.redis == nil || r.db == nil {
		return Result{Status: StatusSkip, Note: "needs db and redis"}
	}
	ids, err := r.redis.ZRange(ctx, dispatch.OpenSetKey, 0, -1).Result()
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if len(ids) == 0 {
		return Result{Status: StatusPass, Note: "board empty"}
	}
	var stale int64
	err = r.db.QueryRow(ctx, `
		SELECT count(*) FROM unnest($1::text[]) AS ids(id)
		WHERE NOT EXISTS (
			SELECT 1 FROM bookings b WHERE b.id = ids.id AND b.status = 'waiting' AND b.vendor_id IS NULL
		)`, ids).Scan(&stale)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	// Removal is best effort; stale members are pruned on read, so report rather than fail.
	return Result{Status: StatusPass, Note: fmt.Sprintf("listed=%d stale=%d", len(ids), stale)}
}

func (r *Runner) post(ctx context.Context, url, token string, body any) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// concurrentAccept fires one accept per configured vendor at the same waiting booking.
func concurrentAccept(ctx context.Context, r *Runner, url string) Result {
	if r.cfg.JWTSecret == "" || r.cfg.AcceptBooking == "" || len(r.cfg.AcceptVendors) < 2 {
		return Result{Status: StatusSkip, Note: "needs jwt-secret, accept-booking and two or more accept-vendors"}
	}
	tokens := infra.NewTokenManager(r.cfg.JWTSecret, r.cfg.JWTIssuer, time.Minute)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succ      int
		conflicts int
		other     []int
	)
	start := make(chan struct{})
	for _, triple := range r.cfg.AcceptVendors {
		parts := strings.Split(triple, ":")
		if len(parts) != 3 {
			return Result{Status: StatusFail, Note: "bad accept-vendors entry: " + triple}
		}
		token, err := tokens.Issue(parts[0], "vendor")
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		payload := map[string]any{
			"booking_id": r.cfg.AcceptBooking,
			"driver_id":  parts[1],
			"vehicle_id": parts[2],
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			status, err := r.post(ctx, url, token, payload)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case status >= 200 && status < 300:
				succ++
			case status == http.StatusConflict:
				conflicts++
			default:
				other = append(other, status)
			}
		}()
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%v", succ, conflicts, other)
	if succ > 1 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, url string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				resp, err := r.httpc.Do(req)
				mu.Lock()
				if err != nil {
					errCount++
					mu.Unlock()
					continue
				}
				count++
				mu.Unlock()
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
