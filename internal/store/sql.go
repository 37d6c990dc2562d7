package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
)

const (
	runColumns = "id, document_id, taxonomy, status, result, error, created_at, updated_at"
	dlqColumns = "id, document, error, error_type, failed_state, retry_count, max_retries, next_retry_at, created_at, last_failed_at"
)

// conn is the statement surface both backends expose. Statements are
// written with ? placeholders.
type conn interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	queryRow(ctx context.Context, query string, args ...any) scannable
	query(ctx context.Context, query string, args ...any) (rows, error)
}

type scannable interface {
	Scan(dest ...any) error
}

type rows interface {
	scannable
	Next() bool
	Err() error
	Close()
}

// sqlStore holds the run and dead-letter operations shared by the SQLite
// and Postgres stores.
type sqlStore struct {
	name string
	db   conn
	now  func() time.Time

	// dueInSQL filters and orders DLQ entries by next_retry_at in the
	// query. Backends that store times as text do it after the scan.
	dueInSQL bool
}

func (s *sqlStore) wrap(err error, op string) error {
	return eris.Wrap(err, s.name+": "+op)
}

func (s *sqlStore) CreateRun(ctx context.Context, doc model.Document) (*model.Run, error) {
	now := s.now().UTC()
	run := &model.Run{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		Taxonomy:   doc.Taxonomy,
		Status:     model.RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.exec(ctx,
		`INSERT INTO runs (id, document_id, taxonomy, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.DocumentID, run.Taxonomy, string(run.Status), now, now,
	)
	if err != nil {
		return nil, s.wrap(err, "insert run")
	}
	return run, nil
}

func (s *sqlStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	n, err := s.db.exec(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), runID,
	)
	if err != nil {
		return s.wrap(err, "update run status "+runID)
	}
	return expectRow(n, "run", runID)
}

// UpdateRunResult stores the final status and extraction. A non-empty
// extraction taxonomy replaces the one recorded at creation.
func (s *sqlStore) UpdateRunResult(ctx context.Context, runID string, status model.RunStatus, result *model.Extraction, errMsg string) error {
	var (
		encoded  *string
		taxonomy string
	)
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return s.wrap(err, "marshal result")
		}
		str := string(data)
		encoded, taxonomy = &str, result.Taxonomy
	}

	n, err := s.db.exec(ctx,
		`UPDATE runs SET result = ?, status = ?, error = ?, taxonomy = COALESCE(NULLIF(?, ''), taxonomy), updated_at = ? WHERE id = ?`,
		encoded, string(status), errMsg, taxonomy, s.now().UTC(), runID,
	)
	if err != nil {
		return s.wrap(err, "update run result "+runID)
	}
	return expectRow(n, "run", runID)
}

func (s *sqlStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.db.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if isNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "%s: get run %s", s.name, runID)
	}
	if err != nil {
		return nil, s.wrap(err, "get run "+runID)
	}
	return r, nil
}

func (s *sqlStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query, args := filter.sql()
	rs, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(err, "list runs")
	}
	defer rs.Close()

	var runs []model.Run
	for rs.Next() {
		r, err := scanRun(rs)
		if err != nil {
			return nil, s.wrap(err, "scan run")
		}
		runs = append(runs, *r)
	}
	return runs, s.wrap(rs.Err(), "list runs iterate")
}

// sql renders the filter as a newest-first runs query.
func (f RunFilter) sql() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DocumentID != "" {
		conds = append(conds, "document_id = ?")
		args = append(args, f.DocumentID)
	}

	var b strings.Builder
	b.WriteString("SELECT " + runColumns + " FROM runs")
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC LIMIT ?")
	args = append(args, listLimit(f.Limit))
	if f.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, f.Offset)
	}
	return b.String(), args
}

// EnqueueDLQ inserts entry or, when its ID is already queued, refreshes the
// failure fields.
func (s *sqlStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	doc, err := json.Marshal(entry.Document)
	if err != nil {
		return s.wrap(err, "marshal dlq document")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err = s.db.exec(ctx,
		`INSERT INTO dead_letter_queue (`+dlqColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_state = excluded.failed_state,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, string(doc), entry.Error, entry.ErrorType, string(entry.FailedState),
		entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return s.wrap(err, "enqueue dlq")
}

// DequeueDLQ returns entries with retries left whose next retry time has
// passed, earliest due first.
func (s *sqlStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	now := s.now().UTC()
	limit := listLimit(filter.Limit)

	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE retry_count < max_retries`
	var args []any
	if s.dueInSQL {
		query += ` AND next_retry_at <= ?`
		args = append(args, now)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	if s.dueInSQL {
		query += ` ORDER BY next_retry_at ASC LIMIT ?`
		args = append(args, limit)
	}

	rs, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(err, "dequeue dlq")
	}
	defer rs.Close()

	var entries []resilience.DLQEntry
	for rs.Next() {
		e, err := scanDLQEntry(rs)
		if err != nil {
			return nil, s.wrap(err, "scan dlq entry")
		}
		if !s.dueInSQL && e.NextRetryAt.After(now) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rs.Err(); err != nil {
		return nil, s.wrap(err, "dequeue dlq iterate")
	}

	if !s.dueInSQL {
		sortDue(entries)
		entries = entries[:min(len(entries), limit)]
	}
	return entries, nil
}

func (s *sqlStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	n, err := s.db.exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, s.now().UTC(), id,
	)
	if err != nil {
		return s.wrap(err, "increment dlq retry "+id)
	}
	return expectRow(n, "dlq_entry", id)
}

func (s *sqlStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.exec(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return s.wrap(err, "remove dlq")
}

func (s *sqlStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, s.wrap(err, "count dlq")
}

func scanRun(row scannable) (*model.Run, error) {
	var (
		r      model.Run
		status string
		result *[]byte
	)
	if err := row.Scan(&r.ID, &r.DocumentID, &r.Taxonomy, &status, &result, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if result != nil {
		r.Result = &model.Extraction{}
		if err := json.Unmarshal(*result, r.Result); err != nil {
			return nil, eris.Wrapf(err, "decode result of run %s", r.ID)
		}
	}
	return &r, nil
}

func scanDLQEntry(row scannable) (resilience.DLQEntry, error) {
	var (
		e     resilience.DLQEntry
		doc   []byte
		state *string
	)
	if err := row.Scan(&e.ID, &doc, &e.Error, &e.ErrorType, &state,
		&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return e, err
	}
	if state != nil {
		e.FailedState = model.State(*state)
	}
	if err := json.Unmarshal(doc, &e.Document); err != nil {
		return e, eris.Wrapf(err, "decode document of dlq entry %s", e.ID)
	}
	return e, nil
}

func expectRow(n int64, entity, id string) error {
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// rebindDollar rewrites ? placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
