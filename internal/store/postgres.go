package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
	"drtdispatch/internal/obs"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open postgres: verify connection: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded migrations that are not recorded in
// schema_migrations yet, in file name order.
func (p *Postgres) Migrate(ctx context.Context) (err error) {
	defer obs.Time(ctx, "store.Migrate")(&err)
	if _, err = p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, e := range entries {
		var applied bool
		if err = p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, e.Name()).Scan(&applied); err != nil {
			return fmt.Errorf("migrate %s: %w", e.Name(), err)
		}
		if applied {
			continue
		}
		body, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("migrate %s: %w", e.Name(), err)
		}
		if err := p.apply(ctx, e.Name(), string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) apply(ctx context.Context, version, body string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s: begin: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("migrate %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("migrate %s: record: %w", version, err)
	}
	return tx.Commit()
}

// Runs

func (p *Postgres) CreateRun(ctx context.Context, run model.Run) (_ model.Run, err error) {
	defer obs.Time(ctx, "store.CreateRun")(&err)
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunQueued
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}
	result, err := resultJSON(run.Result)
	if err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}
	err = p.db.QueryRowContext(ctx, `INSERT INTO runs (id, status, dataset, params, callback_url, error, result)
        VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at, updated_at`,
		run.ID, run.Status, nullIfEmpty(run.Dataset), string(params), nullIfEmpty(run.CallbackURL), nullIfEmpty(run.Error), result,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return model.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run model.Run) (err error) {
	defer obs.Time(ctx, "store.UpdateRun")(&err)
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	result, err := resultJSON(run.Result)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE runs SET status=$2, dataset=$3, params=$4, callback_url=$5, error=$6, result=$7, updated_at=now()
        WHERE id=$1`, run.ID, run.Status, nullIfEmpty(run.Dataset), string(params), nullIfEmpty(run.CallbackURL), nullIfEmpty(run.Error), result)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

const runColumns = `id::text, status, COALESCE(dataset,''), params, COALESCE(callback_url,''), COALESCE(error,''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, withResult bool) (model.Run, error) {
	var run model.Run
	var params, result []byte
	dest := []any{&run.ID, &run.Status, &run.Dataset, &params, &run.CallbackURL, &run.Error, &run.CreatedAt, &run.UpdatedAt}
	if withResult {
		dest = append(dest, &result)
	}
	if err := row.Scan(dest...); err != nil {
		return model.Run{}, err
	}
	if err := json.Unmarshal(params, &run.Params); err != nil {
		return model.Run{}, fmt.Errorf("decode params: %w", err)
	}
	if len(result) > 0 {
		run.Result = &model.RunResult{}
		if err := json.Unmarshal(result, run.Result); err != nil {
			return model.Run{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return run, nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (_ model.Run, err error) {
	defer obs.Time(ctx, "store.GetRun")(&err)
	if _, perr := uuid.Parse(id); perr != nil {
		return model.Run{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+runColumns+`, result FROM runs WHERE id=$1`, id)
	run, err := scanRun(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Run{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns runs newest first, without results.
func (p *Postgres) ListRuns(ctx context.Context, status, cursor string, limit int) (_ []model.Run, _ string, err error) {
	defer obs.Time(ctx, "store.ListRuns")(&err)
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM runs WHERE ($1 = '' OR status = $1)`
	args := []any{status}
	if cursor != "" {
		if _, perr := uuid.Parse(cursor); perr != nil {
			return nil, "", fmt.Errorf("list runs: bad cursor %q", cursor)
		}
		q += ` AND (created_at, id) < (SELECT created_at, id FROM runs WHERE id=$2)`
		args = append(args, cursor)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows, false)
		if err != nil {
			return nil, "", fmt.Errorf("list runs: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

// Matrix datasets

func (p *Postgres) SaveMatrix(ctx context.Context, dataset string, records []matrix.Record) (_ int, err error) {
	defer obs.Time(ctx, "store.SaveMatrix")(&err)
	if dataset == "" {
		return 0, errors.New("save matrix: dataset must not be empty")
	}
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("save matrix: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO matrix_records (dataset, from_idx, to_idx, time_s, distance)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (dataset, from_idx, to_idx) DO UPDATE
        SET time_s = EXCLUDED.time_s, distance = EXCLUDED.distance, updated_at = now()`)
	if err != nil {
		return 0, fmt.Errorf("save matrix: prepare: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, dataset, r.From, r.To, r.Time, r.Distance); err != nil {
			return 0, fmt.Errorf("save matrix: record %d->%d: %w", r.From, r.To, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("save matrix: commit: %w", err)
	}
	return len(records), nil
}

func (p *Postgres) LoadMatrix(ctx context.Context, dataset string) (_ []matrix.Record, err error) {
	defer obs.Time(ctx, "store.LoadMatrix")(&err)
	rows, err := p.db.QueryContext(ctx, `SELECT from_idx, to_idx, time_s, distance FROM matrix_records
        WHERE dataset=$1 ORDER BY from_idx, to_idx`, dataset)
	if err != nil {
		return nil, fmt.Errorf("load matrix %s: %w", dataset, err)
	}
	defer rows.Close()
	var out []matrix.Record
	for rows.Next() {
		var r matrix.Record
		if err := rows.Scan(&r.From, &r.To, &r.Time, &r.Distance); err != nil {
			return nil, fmt.Errorf("load matrix %s: scan: %w", dataset, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load matrix %s: %w", dataset, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("load matrix %s: %w", dataset, ErrNotFound)
	}
	return out, nil
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	var got string
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, run_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now(),$7)
        ON CONFLICT (run_id, event_type, url, dedup_key) DO UPDATE SET updated_at=webhook_deliveries.updated_at
        RETURNING id::text`, id, runID, eventType, url, nullIfEmpty(secret), payload, dk).Scan(&got)
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return got, nil
}

const deliveryColumns = `id::text, run_id, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at,
        COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at`

func scanDelivery(row rowScanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	var delivered sql.NullTime
	err := row.Scan(&d.ID, &d.RunID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt,
		&d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered)
	if delivered.Valid {
		d.DeliveredAt = &delivered.Time
	}
	return d, err
}

func (p *Postgres) queryDeliveries(ctx context.Context, q string, args ...any) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	out, err := p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
        WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("fetch due webhooks: %w", err)
	}
	return out, nil
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(),
            response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3,
        updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`, id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(),
        response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	out, err := p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
        WHERE ($1 = '' OR status = $1) ORDER BY created_at, id LIMIT $2`, status, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return out, nil
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("retry delivery %s: %w", id, ErrNotFound)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("retry delivery %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retry delivery %s: %w", id, ErrNotFound)
	}
	return nil
}

// Optimizer defaults

const optimizerConfigName = "default"

func (p *Postgres) GetOptimizerConfig(ctx context.Context) (model.RunParams, error) {
	var js []byte
	err := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE name=$1`, optimizerConfigName).Scan(&js)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunParams{}, fmt.Errorf("optimizer config: %w", ErrNotFound)
	}
	if err != nil {
		return model.RunParams{}, fmt.Errorf("optimizer config: %w", err)
	}
	var params model.RunParams
	if err := json.Unmarshal(js, &params); err != nil {
		return model.RunParams{}, fmt.Errorf("optimizer config: %w", err)
	}
	return params, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, params model.RunParams) error {
	js, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("save optimizer config: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO optimizer_config (name, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (name) DO UPDATE SET config=EXCLUDED.config, updated_at=now()`, optimizerConfigName, string(js))
	if err != nil {
		return fmt.Errorf("save optimizer config: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func resultJSON(r *model.RunResult) (any, error) {
	if r == nil {
		return nil, nil
	}
	js, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(js), nil
}
