package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-dedup/internal/db"
	"github.com/sells-group/catalog-dedup/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dedup_runs (
	id           TEXT PRIMARY KEY,
	source_table TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	result       TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dedup_results (
	run_id                 TEXT NOT NULL REFERENCES dedup_runs(id),
	record_id              TEXT NOT NULL,
	item_code              TEXT NOT NULL DEFAULT '',
	barcode                TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	description_ext        TEXT NOT NULL DEFAULT '',
	normalized_description TEXT NOT NULL DEFAULT '',
	group_id               INTEGER NOT NULL DEFAULT 0,
	match_type             TEXT NOT NULL DEFAULT 'unresolved',
	confidence             REAL NOT NULL DEFAULT 0,
	review_required        INTEGER NOT NULL DEFAULT 0,
	resolve_failed         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, record_id)
);

CREATE INDEX IF NOT EXISTS idx_dedup_runs_status ON dedup_runs(status);
CREATE INDEX IF NOT EXISTS idx_dedup_results_group ON dedup_results(run_id, group_id);
CREATE INDEX IF NOT EXISTS idx_dedup_results_review ON dedup_results(run_id, review_required);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListRecords(ctx context.Context, table string) ([]*model.Record, error) {
	if !db.ValidIdent(table) {
		return nil, eris.Errorf("sqlite: invalid table name: %q", table)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT record_id, item_code, barcode, description, description_ext FROM %s ORDER BY record_id`,
		db.QuoteIdent(table),
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records from %s", table)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		var r model.Record
		if err := rows.Scan(&r.ID, &r.ItemCode, &r.Barcode, &r.Description, &r.DescriptionExt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		records = append(records, &r)
	}
	return records, eris.Wrapf(rows.Err(), "sqlite: list records from %s iterate", table)
}

func (s *SQLiteStore) InsertRecords(ctx context.Context, table string, records []*model.Record) error {
	if !db.ValidIdent(table) {
		return eris.Errorf("sqlite: invalid table name: %q", table)
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	record_id       TEXT PRIMARY KEY,
	item_code       TEXT NOT NULL DEFAULT '',
	barcode         TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	description_ext TEXT NOT NULL DEFAULT ''
)`, db.QuoteIdent(table)))
	if err != nil {
		return eris.Wrapf(err, "sqlite: create table %s", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (record_id, item_code, barcode, description, description_ext) VALUES (?, ?, ?, ?, ?)`,
		db.QuoteIdent(table),
	))
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.ItemCode, r.Barcode, r.Description, r.DescriptionExt); err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, sourceTable string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_runs (id, source_table, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, sourceTable, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:          id,
		SourceTable: sourceTable,
		Status:      model.RunStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dedup_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE dedup_runs SET result = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var resultJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_table, status, result, created_at, updated_at FROM dedup_runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.SourceTable, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	if resultJSON.Valid {
		r.Result = &model.RunResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_table, status, result, created_at, updated_at FROM dedup_runs WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SourceTable != "" {
		query += ` AND source_table = ?`
		args = append(args, filter.SourceTable)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var resultJSON sql.NullString

		if err := rows.Scan(&r.ID, &r.SourceTable, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if resultJSON.Valid {
			r.Result = &model.RunResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, outputTable string, records []*model.Record) error {
	if !db.ValidIdent(outputTable) {
		return eris.Errorf("sqlite: invalid table name: %q", outputTable)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dedup_results WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear results for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dedup_results (run_id, record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare result insert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			runID, r.ID, r.ItemCode, r.Barcode, r.Description, r.DescriptionExt,
			r.NormalizedDescription, r.GroupID, string(r.MatchType), r.Confidence,
			r.ReviewRequired, r.ResolveFailed,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save result %s", r.ID)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, db.QuoteIdent(outputTable))); err != nil {
		return eris.Wrapf(err, "sqlite: drop output table %s", outputTable)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE %s (
	record_id              TEXT PRIMARY KEY,
	item_code              TEXT NOT NULL DEFAULT '',
	barcode                TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	description_ext        TEXT NOT NULL DEFAULT '',
	normalized_description TEXT NOT NULL DEFAULT '',
	group_id               INTEGER NOT NULL DEFAULT 0,
	match_type             TEXT NOT NULL DEFAULT 'unresolved',
	confidence             REAL NOT NULL DEFAULT 0,
	review_required        INTEGER NOT NULL DEFAULT 0,
	resolve_failed         INTEGER NOT NULL DEFAULT 0
)`, db.QuoteIdent(outputTable))); err != nil {
		return eris.Wrapf(err, "sqlite: create output table %s", outputTable)
	}

	outStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.QuoteIdent(outputTable),
	))
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare output insert")
	}
	defer outStmt.Close()

	for _, r := range records {
		if _, err := outStmt.ExecContext(ctx,
			r.ID, r.ItemCode, r.Barcode, r.Description, r.DescriptionExt,
			r.NormalizedDescription, r.GroupID, string(r.MatchType), r.Confidence,
			r.ReviewRequired, r.ResolveFailed,
		); err != nil {
			return eris.Wrapf(err, "sqlite: fill output table %s", outputTable)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed FROM dedup_results WHERE run_id = ? ORDER BY record_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results for run %s", runID)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		r, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) UpdateResults(ctx context.Context, runID string, records []*model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	for _, r := range records {
		res, err := tx.ExecContext(ctx,
			`UPDATE dedup_results SET group_id = ?, match_type = ?, confidence = ?, review_required = ?, resolve_failed = ? WHERE run_id = ? AND record_id = ?`,
			r.GroupID, string(r.MatchType), r.Confidence, r.ReviewRequired, r.ResolveFailed, runID, r.ID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update result %s", r.ID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return eris.Errorf("result not found: run %s record %s", runID, r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit updates")
}

func (s *SQLiteStore) ListReviewGroups(ctx context.Context, runID string) ([]model.ReviewGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, item_code, barcode, description, description_ext, normalized_description, group_id, match_type, confidence, review_required, resolve_failed FROM dedup_results WHERE run_id = ? AND review_required AND group_id <> 0 ORDER BY group_id, record_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list review groups for run %s", runID)
	}
	defer rows.Close()

	var groups []model.ReviewGroup
	for rows.Next() {
		r, err := scanSQLiteResult(rows)
		if err != nil {
			return nil, err
		}
		if n := len(groups); n == 0 || groups[n-1].GroupID != r.GroupID {
			groups = append(groups, model.ReviewGroup{RunID: runID, GroupID: r.GroupID})
		}
		g := &groups[len(groups)-1]
		g.Members = append(g.Members, *r)
	}
	return groups, eris.Wrap(rows.Err(), "sqlite: list review groups iterate")
}

func scanSQLiteResult(rows *sql.Rows) (*model.Record, error) {
	var r model.Record
	var matchType string
	err := rows.Scan(&r.ID, &r.ItemCode, &r.Barcode, &r.Description, &r.DescriptionExt,
		&r.NormalizedDescription, &r.GroupID, &matchType, &r.Confidence,
		&r.ReviewRequired, &r.ResolveFailed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan result")
	}
	r.MatchType = model.MatchType(matchType)
	return &r, nil
}
