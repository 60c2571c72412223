package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dmorcellet/delta-downloads/internal/data"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// SQLRepo implements DownloadRepo on PostgreSQL (pgx) or SQLite (modernc).
// The table keeps a unique, nullable fingerprint column; the fingerprint is
// nulled once a download is terminal.
type SQLRepo struct {
	db     *sql.DB
	driver string
}

var _ DownloadRepo = (*SQLRepo)(nil)

// NewPostgresRepo constructs a repository using the provided DSN.
func NewPostgresRepo(ctx context.Context, dsn string) (*SQLRepo, error) {
	return NewSQLRepo(ctx, DriverPostgres, dsn)
}

// NewSQLiteRepo opens (and creates) the database file at path.
func NewSQLiteRepo(ctx context.Context, path string) (*SQLRepo, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return NewSQLRepo(ctx, DriverSQLite, dsn)
}

// NewSQLRepo opens dsn with driver, verifies the connection and creates the
// schema when missing.
func NewSQLRepo(ctx context.Context, driver, dsn string) (*SQLRepo, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	r := &SQLRepo{db: db, driver: driver}
	if err := r.ensureSchema(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepo) Close() error { return r.db.Close() }

func (r *SQLRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *SQLRepo) ensureSchema(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if r.driver == DriverSQLite {
		ts = "TIMESTAMP"
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS downloads (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    target TEXT NOT NULL,
    state TEXT NOT NULL,
    desired_state TEXT NOT NULL DEFAULT '',
    expected_size BIGINT,
    done_size BIGINT NOT NULL DEFAULT 0,
    created_at `+ts+` NOT NULL,
    updated_at `+ts+` NOT NULL,
    fingerprint TEXT UNIQUE
)`)
	return err
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// q adapts a query written with $N placeholders to the driver.
func (r *SQLRepo) q(query string) string {
	if r.driver == DriverSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

const selectCols = `SELECT id,url,target,state,desired_state,expected_size,done_size,created_at,updated_at FROM downloads`

// List implements DownloadReader.List
func (r *SQLRepo) List(ctx context.Context) (data.Downloads, error) {
	rows, err := r.db.QueryContext(ctx, selectCols+` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := data.Downloads{}
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// Get implements DownloadReader.Get
func (r *SQLRepo) Get(ctx context.Context, id string) (*data.Download, error) {
	return r.getOne(ctx, r.db, r.q(selectCols+` WHERE id=$1`), id)
}

// GetByFingerprint implements DownloadReader.GetByFingerprint
func (r *SQLRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error) {
	return r.getOne(ctx, r.db, r.q(selectCols+` WHERE fingerprint=$1`), fprint)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepo) getOne(ctx context.Context, db queryRower, query string, arg any) (*data.Download, error) {
	dl, err := scanDownload(db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return dl, nil
}

// Add implements DownloadWriter.Add (no fingerprint enforcement)
func (r *SQLRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	c := prepareInsert(d)
	_, err := r.db.ExecContext(ctx, r.q(`INSERT INTO downloads (id,url,target,state,desired_state,expected_size,done_size,created_at,updated_at,fingerprint) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)`),
		c.ID, c.URL, c.Target, c.State.String(), desiredText(c.DesiredState), nullSize(c.ExpectedSize), c.DoneSize, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}
	return r.Get(ctx, c.ID)
}

// AddWithFingerprint implements atomic check-then-insert based on fingerprint.
func (r *SQLRepo) AddWithFingerprint(ctx context.Context, d *data.Download, fprint string) (*data.Download, bool, error) {
	c := prepareInsert(d)
	var fpArg any = fprint
	if c.State.Terminal() {
		fpArg = nil
	}
	var id string
	err := r.db.QueryRowContext(ctx, r.q(`
INSERT INTO downloads (id,url,target,state,desired_state,expected_size,done_size,created_at,updated_at,fingerprint)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING id`),
		c.ID, c.URL, c.Target, c.State.String(), desiredText(c.DesiredState), nullSize(c.ExpectedSize), c.DoneSize, c.CreatedAt, c.UpdatedAt, fpArg).Scan(&id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		if isUniqueViolation(err) {
			return nil, false, data.ErrConflict
		}
		return nil, false, err
	}
	if err == nil {
		dl, err := r.Get(ctx, id)
		return dl, true, err
	}
	dl, err := r.GetByFingerprint(ctx, fprint)
	if err != nil {
		return nil, false, err
	}
	return dl, false, nil
}

// Update implements DownloadWriter.Update by fetching, mutating, and writing
// back inside one transaction.
func (r *SQLRepo) Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if r.driver == DriverPostgres {
		lock = " FOR UPDATE"
	}
	cur, err := r.getOne(ctx, tx, r.q(selectCols+` WHERE id=$1`+lock), id)
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	if equalDownloads(cur, next) {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return cur, nil
	}

	next.UpdatedAt = time.Now().UTC()
	query := `UPDATE downloads SET state=$1, desired_state=$2, expected_size=$3, done_size=$4, updated_at=$5 WHERE id=$6`
	if next.State.Terminal() {
		query = `UPDATE downloads SET state=$1, desired_state=$2, expected_size=$3, done_size=$4, updated_at=$5, fingerprint=NULL WHERE id=$6`
	}
	if _, err := tx.ExecContext(ctx, r.q(query),
		next.State.String(), desiredText(next.DesiredState), nullSize(next.ExpectedSize), next.DoneSize, next.UpdatedAt, id); err != nil {
		return nil, err
	}

	updated, err := r.getOne(ctx, tx, r.q(selectCols+` WHERE id=$1`), id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete implements DownloadWriter.Delete
func (r *SQLRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM downloads WHERE id=$1`), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return data.ErrNotFound
	}
	return nil
}

// Helpers

type rowScanner interface{ Scan(dest ...any) error }

func scanDownload(rs rowScanner) (*data.Download, error) {
	var (
		id, url, target, state, desired string
		expected                        sql.NullInt64
		done                            int64
		created, updated                time.Time
	)
	if err := rs.Scan(&id, &url, &target, &state, &desired, &expected, &done, &created, &updated); err != nil {
		return nil, err
	}
	st, err := data.ParseState(state)
	if err != nil {
		return nil, err
	}
	dl := &data.Download{
		ID:        id,
		URL:       url,
		Target:    target,
		State:     st,
		DoneSize:  done,
		CreatedAt: created.UTC(),
		UpdatedAt: updated.UTC(),
	}
	if desired != "" {
		if dl.DesiredState, err = data.ParseState(desired); err != nil {
			return nil, err
		}
	}
	if expected.Valid {
		n := expected.Int64
		dl.ExpectedSize = &n
	}
	return dl, nil
}

func prepareInsert(d *data.Download) *data.Download {
	c := d.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return c
}

// desiredText stores the zero desired state as the empty string.
func desiredText(s data.State) string {
	if s == data.StateNotStarted {
		return ""
	}
	return s.String()
}

func nullSize(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func equalDownloads(a, b *data.Download) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.State != b.State || a.DesiredState != b.DesiredState || a.DoneSize != b.DoneSize {
		return false
	}
	if (a.ExpectedSize == nil) != (b.ExpectedSize == nil) {
		return false
	}
	return a.ExpectedSize == nil || *a.ExpectedSize == *b.ExpectedSize
}

func isUniqueViolation(err error) bool {
	// pgx reports "duplicate key value violates unique constraint",
	// sqlite "UNIQUE constraint failed".
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
