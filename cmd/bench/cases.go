// README: Bench cases; environment probes, dispatch flow checks, assignment races and read load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dispatch/internal/infra"
	"dispatch/internal/storage"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	// run scopes emails so repeated runs against one database do not collide.
	run string

	manager string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
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
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingDB},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: health},
		{Name: "Auth: register manager", Run: registerManager},
		{Name: "Order: full delivery flow", Run: deliveryFlow},
		{Name: "Race: partners contend for one order", Run: contendForOrder},
		{Name: "Race: orders contend for one partner", Run: contendForPartner},
		{Name: "Race: assign vs cancel", Run: assignVersusCancel},
		{Name: "Perf: list orders throughput", Run: listLoad},
	}
}

func pingDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func applyMigrations(_ context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.cfg.DSN == "" {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if err := infra.Migrate(storage.Migrations, storage.MigrationsDir, r.cfg.DSN, zerolog.Nop()); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

var createTable = regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?([a-z0-9_]+)`)

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	tables, err := migrationTables(storage.Migrations, storage.MigrationsDir)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: statusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

func migrationTables(fsys fs.FS, dir string) ([]string, error) {
	files, err := fs.Glob(fsys, dir+"/*.up.sql")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTable.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}

func health(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, _, err := r.call(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return expect(code, time.Since(start), http.StatusOK)
}

func registerManager(ctx context.Context, r *Runner) Result {
	start := time.Now()
	tok, _, err := r.register(ctx, "Bench Manager", "manager")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	r.manager = tok
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func deliveryFlow(ctx context.Context, r *Runner) Result {
	if r.manager == "" {
		return Result{Status: statusSkip, Note: "no manager session"}
	}
	start := time.Now()
	ptok, pid, err := r.register(ctx, "Bench Rider", "delivery_partner")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	oid, err := r.readyOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code, err := r.assign(ctx, oid, pid); err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("assign status=%d err=%v", code, err)}
	}
	for _, st := range []string{"PICKED_UP", "ON_ROUTE", "DELIVERED"} {
		code, _, err := r.call(ctx, http.MethodPut, "/api/orders/"+oid+"/status", map[string]any{"status": st}, ptok)
		if err != nil || code != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s status=%d err=%v", st, code, err)}
		}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: oid}
}

// contendForOrder races every partner for a single order; exactly one may win.
func contendForOrder(ctx context.Context, r *Runner) Result {
	if r.manager == "" {
		return Result{Status: statusSkip, Note: "no manager session"}
	}
	oid, err := r.readyOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	partners := make([]string, r.cfg.Concurrency)
	for i := range partners {
		if _, partners[i], err = r.register(ctx, "Bench Rider", "delivery_partner"); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	codes := r.parallel(len(partners), func(i int) int {
		code, _ := r.assign(ctx, oid, partners[i])
		return code
	})
	return exactlyOne(codes, http.StatusOK)
}

// contendForPartner races many orders for one partner; the partner may end up bound once.
func contendForPartner(ctx context.Context, r *Runner) Result {
	if r.manager == "" {
		return Result{Status: statusSkip, Note: "no manager session"}
	}
	_, pid, err := r.register(ctx, "Bench Rider", "delivery_partner")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	orders := make([]string, r.cfg.Concurrency)
	for i := range orders {
		if orders[i], err = r.readyOrder(ctx); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	codes := r.parallel(len(orders), func(i int) int {
		code, _ := r.assign(ctx, orders[i], pid)
		return code
	})
	return exactlyOne(codes, http.StatusOK)
}

// assignVersusCancel checks that an order never ends cancelled with a partner still bound to it.
func assignVersusCancel(ctx context.Context, r *Runner) Result {
	if r.manager == "" {
		return Result{Status: statusSkip, Note: "no manager session"}
	}
	_, pid, err := r.register(ctx, "Bench Rider", "delivery_partner")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	oid, err := r.readyOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	r.parallel(2, func(i int) int {
		if i == 0 {
			code, _ := r.assign(ctx, oid, pid)
			return code
		}
		code, _, _ := r.call(ctx, http.MethodPut, "/api/orders/"+oid+"/status", map[string]any{"status": "CANCELLED"}, r.manager)
		return code
	})

	var partners []struct {
		ID             string  `json:"id"`
		CurrentOrderID *string `json:"currentOrderId"`
	}
	code, body, err := r.call(ctx, http.MethodGet, "/api/users/delivery-partners/all", nil, r.manager)
	if err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("list partners status=%d err=%v", code, err)}
	}
	if err := json.Unmarshal(body, &partners); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	var order struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if _, body, err = r.call(ctx, http.MethodGet, "/api/orders/"+oid, nil, r.manager); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if err := json.Unmarshal(body, &order); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, p := range partners {
		if p.ID == pid && p.CurrentOrderID != nil && order.Order.Status == "CANCELLED" {
			return Result{Status: statusFail, Note: "partner still bound to cancelled order"}
		}
	}
	return Result{Status: statusPass, Note: "final=" + order.Order.Status}
}

func listLoad(ctx context.Context, r *Runner) Result {
	if r.manager == "" {
		return Result{Status: statusSkip, Note: "no manager session"}
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, http.MethodGet, "/api/orders", nil, r.manager)
				if err != nil || code != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func (r *Runner) register(ctx context.Context, name, role string) (token, id string, err error) {
	email := fmt.Sprintf("%s-%s@bench.local", r.run, uuid.NewString()[:8])
	code, body, err := r.call(ctx, http.MethodPost, "/api/auth/register", map[string]any{
		"name": name, "email": email, "password": "bench-password", "role": role,
	}, "")
	if err != nil {
		return "", "", err
	}
	if code != http.StatusCreated {
		return "", "", fmt.Errorf("register %s: status=%d body=%s", role, code, body)
	}
	var sess struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &sess); err != nil {
		return "", "", err
	}
	return sess.Token, sess.User.ID, nil
}

// readyOrder creates an order and moves it to READY_FOR_PICKUP.
func (r *Runner) readyOrder(ctx context.Context) (string, error) {
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders", map[string]any{
		"items":           []map[string]any{{"name": "Bench Bowl", "quantity": 2, "price": 7.5}},
		"totalAmount":     15,
		"customerName":    "Bench Customer",
		"customerAddress": "1 Load Test Lane",
		"customerPhone":   "5550000000",
		"prepTime":        5,
	}, r.manager)
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create order: status=%d body=%s", code, body)
	}
	var created struct {
		Order struct {
			OrderID string `json:"orderId"`
		} `json:"order"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", err
	}
	oid := created.Order.OrderID
	code, body, err = r.call(ctx, http.MethodPut, "/api/orders/"+oid+"/status", map[string]any{"status": "READY_FOR_PICKUP"}, r.manager)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("ready order: status=%d body=%s", code, body)
	}
	return oid, nil
}

func (r *Runner) assign(ctx context.Context, orderID, partnerID string) (int, error) {
	code, _, err := r.call(ctx, http.MethodPut, "/api/orders/"+orderID+"/assign", map[string]any{"deliveryPartnerId": partnerID}, r.manager)
	return code, err
}

func (r *Runner) call(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

// parallel runs fn n times at once, released together, and returns the status codes.
func (r *Runner) parallel(n int, fn func(i int) int) []int {
	codes := make([]int, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			codes[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return codes
}

func exactlyOne(codes []int, want int) Result {
	wins, errs := 0, 0
	for _, c := range codes {
		switch {
		case c == want:
			wins++
		case c >= 500 || c == 0:
			errs++
		}
	}
	note := fmt.Sprintf("success=%d errors=%d of %d", wins, errs, len(codes))
	if wins != 1 || errs > 0 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func expect(code int, latency time.Duration, want int) Result {
	note := fmt.Sprintf("status=%d", code)
	if code != want {
		return Result{Status: statusFail, Latency: latency, Note: note}
	}
	return Result{Status: statusPass, Latency: latency, Note: note}
}
