/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound     = errors.New("staging row not found")
	ErrDuplicateKey = errors.New("duplicate issue key")
)

const uniqueViolation = "23505"

// RowWriter persists rows inside a batch opened by InBatch.
type RowWriter interface {
	// Upsert writes row by issue key and fills ID, FetchDate and
	// LastModifiedDate from the stored state. It reports whether a new row was
	// created.
	Upsert(ctx context.Context, row *domain.StagingRow) (inserted bool, err error)
}

// Conn is the subset of pgx used by the repository. *pgxpool.Pool, pgx.Tx and
// pgxmock pools all satisfy it.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(ctx2); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{Pool: pool, log: log}, nil
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	db, err := Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	return db
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	conn Conn
	log  zerolog.Logger
	now  func() time.Time
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return NewRepositoryConn(d.Pool, log) }

// NewRepositoryConn builds a repository over any Conn.
func NewRepositoryConn(c Conn, log zerolog.Logger) *Repository {
	return &Repository{conn: c, log: log, now: time.Now}
}

// WithClock replaces the time source used for fetch and modification stamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

const (
	contentCols = `issue_key, issue_id, issue_type, summary, description, status, status_category, priority,
        assignee_email, assignee_display_name, reporter_email, reporter_display_name, project_key, project_name,
        created_date, updated_date, resolution_date, labels, components,
        custom_field1, custom_field2, custom_field3, raw_json`
	selectCols = `id, ` + contentCols + `, fetch_date, last_modified_date`

	// $1..$23 content, $24 fetch/modified stamp
	insertSQL = `INSERT INTO jira_issue_staging (` + contentCols + `, fetch_date, last_modified_date)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$24)`

	mutableSet = `issue_type=$2, summary=$3, description=$4, status=$5, status_category=$6, priority=$7,
            assignee_email=$8, assignee_display_name=$9, reporter_email=$10, reporter_display_name=$11,
            project_key=$12, project_name=$13, created_date=$14, updated_date=$15, resolution_date=$16,
            labels=$17, components=$18, custom_field1=$19, custom_field2=$20, custom_field3=$21, raw_json=$22`
)

// contentArgs returns the issue key followed by every mutable column, in
// mutableSet order.
func contentArgs(r *domain.StagingRow) []any {
	return []any{
		r.IssueKey, r.IssueType, r.Summary, r.Description, r.Status, r.StatusCategory, r.Priority,
		r.AssigneeEmail, r.AssigneeDisplayName, r.ReporterEmail, r.ReporterDisplayName,
		r.ProjectKey, r.ProjectName, r.CreatedDate, r.UpdatedDate, r.ResolutionDate,
		r.Labels, r.Components, r.CustomField1, r.CustomField2, r.CustomField3, r.RawJSON,
	}
}

func insertArgs(r *domain.StagingRow, now time.Time) []any {
	return []any{
		r.IssueKey, r.IssueID, r.IssueType, r.Summary, r.Description, r.Status, r.StatusCategory, r.Priority,
		r.AssigneeEmail, r.AssigneeDisplayName, r.ReporterEmail, r.ReporterDisplayName,
		r.ProjectKey, r.ProjectName, r.CreatedDate, r.UpdatedDate, r.ResolutionDate,
		r.Labels, r.Components, r.CustomField1, r.CustomField2, r.CustomField3, r.RawJSON, now,
	}
}

func scanRow(row pgx.Row) (domain.StagingRow, error) {
	var s domain.StagingRow
	err := row.Scan(&s.ID, &s.IssueKey, &s.IssueID, &s.IssueType, &s.Summary, &s.Description,
		&s.Status, &s.StatusCategory, &s.Priority,
		&s.AssigneeEmail, &s.AssigneeDisplayName, &s.ReporterEmail, &s.ReporterDisplayName,
		&s.ProjectKey, &s.ProjectName, &s.CreatedDate, &s.UpdatedDate, &s.ResolutionDate,
		&s.Labels, &s.Components, &s.CustomField1, &s.CustomField2, &s.CustomField3, &s.RawJSON,
		&s.FetchDate, &s.LastModifiedDate)
	return s, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *Repository) FindByKey(ctx context.Context, issueKey string) (domain.StagingRow, error) {
	row, err := scanRow(r.conn.QueryRow(ctx,
		`SELECT `+selectCols+` FROM jira_issue_staging WHERE issue_key=$1`, issueKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StagingRow{}, ErrNotFound
	}
	if err != nil {
		return domain.StagingRow{}, fmt.Errorf("find %s: %w", issueKey, err)
	}
	return row, nil
}

// Insert creates a row; both stamps are set to now. ErrDuplicateKey is
// returned when the issue key already exists.
func (r *Repository) Insert(ctx context.Context, row *domain.StagingRow) error {
	return insertOn(ctx, r.conn, row, r.now())
}

func insertOn(ctx context.Context, c Conn, row *domain.StagingRow, now time.Time) error {
	err := c.QueryRow(ctx, insertSQL+` RETURNING id, fetch_date, last_modified_date`, insertArgs(row, now)...).
		Scan(&row.ID, &row.FetchDate, &row.LastModifiedDate)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert %s: %w", row.IssueKey, ErrDuplicateKey)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", row.IssueKey, err)
	}
	return nil
}

// UpdateMutableFields copies every column of data except id, issue key, issue
// id and fetch date onto existing and refreshes the modification stamp.
func (r *Repository) UpdateMutableFields(ctx context.Context, existing, data domain.StagingRow) (domain.StagingRow, error) {
	merged := mergeMutable(existing, data)
	args := append(contentArgs(&merged), r.now())
	err := r.conn.QueryRow(ctx, `UPDATE jira_issue_staging SET `+mutableSet+`,
            last_modified_date=GREATEST($23, fetch_date)
        WHERE issue_key=$1 RETURNING id, fetch_date, last_modified_date`, args...).
		Scan(&merged.ID, &merged.FetchDate, &merged.LastModifiedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return existing, ErrNotFound
	}
	if err != nil {
		return existing, fmt.Errorf("update %s: %w", existing.IssueKey, err)
	}
	return merged, nil
}

// mergeMutable returns existing with every mutable field taken from data.
func mergeMutable(existing, data domain.StagingRow) domain.StagingRow {
	out := data
	out.ID = existing.ID
	out.IssueKey = existing.IssueKey
	out.IssueID = existing.IssueID
	out.FetchDate = existing.FetchDate
	out.LastModifiedDate = existing.LastModifiedDate
	return out
}

const upsertSQL = insertSQL + `
        ON CONFLICT (issue_key) DO UPDATE SET
            issue_type=EXCLUDED.issue_type, summary=EXCLUDED.summary, description=EXCLUDED.description,
            status=EXCLUDED.status, status_category=EXCLUDED.status_category, priority=EXCLUDED.priority,
            assignee_email=EXCLUDED.assignee_email, assignee_display_name=EXCLUDED.assignee_display_name,
            reporter_email=EXCLUDED.reporter_email, reporter_display_name=EXCLUDED.reporter_display_name,
            project_key=EXCLUDED.project_key, project_name=EXCLUDED.project_name,
            created_date=EXCLUDED.created_date, updated_date=EXCLUDED.updated_date,
            resolution_date=EXCLUDED.resolution_date, labels=EXCLUDED.labels, components=EXCLUDED.components,
            custom_field1=EXCLUDED.custom_field1, custom_field2=EXCLUDED.custom_field2,
            custom_field3=EXCLUDED.custom_field3, raw_json=EXCLUDED.raw_json,
            last_modified_date=GREATEST(EXCLUDED.last_modified_date, jira_issue_staging.fetch_date)
        RETURNING id, fetch_date, last_modified_date, (xmax = 0) AS inserted`

func upsertOn(ctx context.Context, c Conn, row *domain.StagingRow, now time.Time) (bool, error) {
	var inserted bool
	err := c.QueryRow(ctx, upsertSQL, insertArgs(row, now)...).
		Scan(&row.ID, &row.FetchDate, &row.LastModifiedDate, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", row.IssueKey, err)
	}
	return inserted, nil
}

// Upsert writes one row outside any batch.
func (r *Repository) Upsert(ctx context.Context, row *domain.StagingRow) (bool, error) {
	return upsertOn(ctx, r.conn, row, r.now())
}

type txWriter struct {
	tx  pgx.Tx
	now func() time.Time
}

// Upsert runs inside its own savepoint so a failing row leaves the batch
// transaction usable.
func (w txWriter) Upsert(ctx context.Context, row *domain.StagingRow) (bool, error) {
	sp, err := w.tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}
	inserted, err := upsertOn(ctx, sp, row, w.now())
	if err != nil {
		_ = sp.Rollback(ctx)
		return false, err
	}
	if err := sp.Commit(ctx); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}
	return inserted, nil
}

// InBatch runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (r *Repository) InBatch(ctx context.Context, fn func(RowWriter) error) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	if err := fn(txWriter{tx: tx, now: r.now}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.log.Warn().Err(rbErr).Msg("batch rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (r *Repository) FindByTypeAndFetchWindow(ctx context.Context, issueType string, start, end time.Time) ([]domain.StagingRow, error) {
	rows, err := r.conn.Query(ctx, `SELECT `+selectCols+` FROM jira_issue_staging
        WHERE issue_type=$1 AND fetch_date BETWEEN $2 AND $3 ORDER BY fetch_date, id`, issueType, start, end)
	if err != nil {
		return nil, fmt.Errorf("find by type %s: %w", issueType, err)
	}
	defer rows.Close()
	out := []domain.StagingRow{}
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `DELETE FROM jira_issue_staging WHERE fetch_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) CountByType(ctx context.Context, issueType string) (int64, error) {
	var n int64
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM jira_issue_staging WHERE issue_type=$1`, issueType).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", issueType, err)
	}
	return n, nil
}

func (r *Repository) DistinctIssueTypes(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Query(ctx, `SELECT DISTINCT issue_type FROM jira_issue_staging
        WHERE issue_type IS NOT NULL ORDER BY issue_type`)
	if err != nil {
		return nil, fmt.Errorf("distinct types: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// JobLockKey maps a job name onto an advisory lock key.
func JobLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

// WithJobLock runs fn while holding a transaction-scoped advisory lock for
// name. It returns false without calling fn when another session holds it.
func (r *Repository) WithJobLock(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var ok bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, JobLockKey(name)).Scan(&ok); err != nil {
		return false, fmt.Errorf("lock %s: %w", name, err)
	}
	if !ok {
		return false, nil
	}
	return true, fn(ctx)
}
