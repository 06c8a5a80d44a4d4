package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-dedup/internal/db"
	"github.com/sells-group/catalog-dedup/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations. Queries
// against dynamically named catalog tables cannot be prepared here.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO dedup_runs (id, source_table, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE dedup_runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE dedup_runs SET result = $1, updated_at = $2 WHERE id = $3`,
	"get_run":           `SELECT id, source_table, status, result, created_at, updated_at FROM dedup_runs WHERE id = $1`,
	"delete_results":    `DELETE FROM dedup_results WHERE run_id = $1`,
	"list_results":      `SELECT record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed FROM dedup_results WHERE run_id = $1 ORDER BY record_id`,
	"update_result":     `UPDATE dedup_results SET group_id = $1, match_type = $2, confidence = $3, review_required = $4, resolve_failed = $5 WHERE run_id = $6 AND record_id = $7`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// newPostgresWithPool wires an existing pool, used by tests with pgxmock.
func newPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS dedup_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_table TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	result       JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dedup_results (
	run_id                 TEXT NOT NULL REFERENCES dedup_runs(id),
	record_id              TEXT NOT NULL,
	item_code              TEXT NOT NULL DEFAULT '',
	barcode                TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	description_ext        TEXT NOT NULL DEFAULT '',
	normalized_description TEXT NOT NULL DEFAULT '',
	group_id               BIGINT NOT NULL DEFAULT 0,
	match_type             TEXT NOT NULL DEFAULT 'unresolved',
	confidence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_required        BOOLEAN NOT NULL DEFAULT false,
	resolve_failed         BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_dedup_runs_status ON dedup_runs(status);
CREATE INDEX IF NOT EXISTS idx_dedup_runs_source_table ON dedup_runs(source_table);
CREATE INDEX IF NOT EXISTS idx_dedup_results_group ON dedup_results(run_id, group_id);
CREATE INDEX IF NOT EXISTS idx_dedup_results_review ON dedup_results(run_id, review_required);
`

// recordColumns is the column order shared by source tables, the results
// table (after run_id), and dynamic output tables.
var recordColumns = []string{
	"record_id", "item_code", "barcode", "description", "description_ext",
	"normalized_description", "group_id", "match_type", "confidence",
	"review_required", "resolve_failed",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, table string) ([]*model.Record, error) {
	if !db.ValidIdent(table) {
		return nil, eris.Errorf("postgres: invalid table name: %q", table)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT record_id, item_code, barcode, description, description_ext FROM %s ORDER BY record_id`,
		db.QuoteIdent(table),
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records from %s", table)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		var r model.Record
		if err := rows.Scan(&r.ID, &r.ItemCode, &r.Barcode, &r.Description, &r.DescriptionExt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, &r)
	}
	return records, eris.Wrapf(rows.Err(), "postgres: list records from %s iterate", table)
}

func (s *PostgresStore) InsertRecords(ctx context.Context, table string, records []*model.Record) error {
	if !db.ValidIdent(table) {
		return eris.Errorf("postgres: invalid table name: %q", table)
	}

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	record_id       TEXT PRIMARY KEY,
	item_code       TEXT NOT NULL DEFAULT '',
	barcode         TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	description_ext TEXT NOT NULL DEFAULT ''
)`, db.QuoteIdent(table)))
	if err != nil {
		return eris.Wrapf(err, "postgres: create table %s", table)
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.ID, r.ItemCode, r.Barcode, r.Description, r.DescriptionExt})
	}
	_, err = db.CopyFrom(ctx, s.pool, table,
		[]string{"record_id", "item_code", "barcode", "description", "description_ext"}, rows)
	return eris.Wrapf(err, "postgres: insert records into %s", table)
}

func (s *PostgresStore) CreateRun(ctx context.Context, sourceTable string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dedup_runs (id, source_table, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, sourceTable, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:          id,
		SourceTable: sourceTable,
		Status:      model.RunStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dedup_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE dedup_runs SET result = $1, updated_at = $2 WHERE id = $3`,
		resultJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var resultNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, source_table, status, result, created_at, updated_at FROM dedup_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.SourceTable, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if resultNull != nil {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_table, status, result, created_at, updated_at FROM dedup_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SourceTable != "" {
		query += fmt.Sprintf(` AND source_table = $%d`, argIdx)
		args = append(args, filter.SourceTable)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var resultNull *[]byte

		if err := rows.Scan(&r.ID, &r.SourceTable, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if resultNull != nil {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal(*resultNull, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// SaveResults writes the resolved record set for a run. Rows land in the
// dedup_results table keyed by run_id, and a fresh output table is
// materialized for downstream consumers. Re-running the same source table
// replaces the previous output table.
func (s *PostgresStore) SaveResults(ctx context.Context, runID string, outputTable string, records []*model.Record) error {
	if !db.ValidIdent(outputTable) {
		return eris.Errorf("postgres: invalid table name: %q", outputTable)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM dedup_results WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear results for run %s", runID)
	}

	resultRows := make([][]any, 0, len(records))
	for _, r := range records {
		resultRows = append(resultRows, []any{
			runID, r.ID, r.ItemCode, r.Barcode, r.Description, r.DescriptionExt,
			r.NormalizedDescription, r.GroupID, string(r.MatchType), r.Confidence,
			r.ReviewRequired, r.ResolveFailed,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "dedup_results",
		append([]string{"run_id"}, recordColumns...), resultRows); err != nil {
		return eris.Wrapf(err, "postgres: save results for run %s", runID)
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, db.QuoteIdent(outputTable))); err != nil {
		return eris.Wrapf(err, "postgres: drop output table %s", outputTable)
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	record_id              TEXT PRIMARY KEY,
	item_code              TEXT NOT NULL DEFAULT '',
	barcode                TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	description_ext        TEXT NOT NULL DEFAULT '',
	normalized_description TEXT NOT NULL DEFAULT '',
	group_id               BIGINT NOT NULL DEFAULT 0,
	match_type             TEXT NOT NULL DEFAULT 'unresolved',
	confidence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_required        BOOLEAN NOT NULL DEFAULT false,
	resolve_failed         BOOLEAN NOT NULL DEFAULT false
)`, db.QuoteIdent(outputTable))); err != nil {
		return eris.Wrapf(err, "postgres: create output table %s", outputTable)
	}

	outputRows := make([][]any, 0, len(records))
	for _, r := range records {
		outputRows = append(outputRows, []any{
			r.ID, r.ItemCode, r.Barcode, r.Description, r.DescriptionExt,
			r.NormalizedDescription, r.GroupID, string(r.MatchType), r.Confidence,
			r.ReviewRequired, r.ResolveFailed,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, outputTable, recordColumns, outputRows)
	return eris.Wrapf(err, "postgres: fill output table %s", outputTable)
}

func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]*model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed FROM dedup_results WHERE run_id = $1 ORDER BY record_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for run %s", runID)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

// UpdateResults persists post-run mutations, currently review decisions,
// back to the results table.
func (s *PostgresStore) UpdateResults(ctx context.Context, runID string, records []*model.Record) error {
	for _, r := range records {
		tag, err := s.pool.Exec(ctx,
			`UPDATE dedup_results SET group_id = $1, match_type = $2, confidence = $3, review_required = $4, resolve_failed = $5 WHERE run_id = $6 AND record_id = $7`,
			r.GroupID, string(r.MatchType), r.Confidence, r.ReviewRequired, r.ResolveFailed, runID, r.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update result %s", r.ID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Errorf("result not found: run %s record %s", runID, r.ID)
		}
	}
	return nil
}

func (s *PostgresStore) ListReviewGroups(ctx context.Context, runID string) ([]model.ReviewGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed FROM dedup_results WHERE run_id = $1 AND review_required AND group_id <> 0 ORDER BY group_id, record_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list review groups for run %s", runID)
	}
	defer rows.Close()

	var groups []model.ReviewGroup
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		if n := len(groups); n == 0 || groups[n-1].GroupID != r.GroupID {
			groups = append(groups, model.ReviewGroup{RunID: runID, GroupID: r.GroupID})
		}
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, *r)
	}
	return groups, eris.Wrap(rows.Err(), "postgres: list review groups iterate")
}

func scanResult(rows pgx.Rows) (*model.Record, error) {
	var r model.Record
	var matchType string
	err := rows.Scan(&r.ID, &r.ItemCode, &r.Barcode, &r.Description, &r.DescriptionExt,
		&r.NormalizedDescription, &r.GroupID, &matchType, &r.Confidence,
		&r.ReviewRequired, &r.ResolveFailed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan result")
	}
	r.MatchType = model.MatchType(matchType)
	return &r, nil
}
