// Package store persists request results in SQLite.
//
// Records are stored in long format, one row per record, field and
// observation, so current and history results share one schema.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gonzalop/bbdl"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id          TEXT PRIMARY KEY,
	created_at  TEXT NOT NULL,
	records     INTEGER NOT NULL,
	errors      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS record_values (
	request_id  TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	record_idx  INTEGER NOT NULL,
	identifier  TEXT NOT NULL,
	field       TEXT NOT NULL,
	obs         INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	value       TEXT,
	PRIMARY KEY (request_id, record_idx, field, obs)
);
CREATE TABLE IF NOT EXISTS security_errors (
	request_id  TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	identifier  TEXT NOT NULL,
	return_code INTEGER NOT NULL,
	nfields     INTEGER NOT NULL,
	message     TEXT,
	date        TEXT
);
CREATE INDEX IF NOT EXISTS idx_record_values_identifier ON record_values(identifier, field);
`

// Value kinds.
const (
	KindNull   = "null"
	KindString = "string"
	KindInt    = "int"
	KindFloat  = "float"
	KindBool   = "bool"
	KindDate   = "date"
	KindTime   = "time"
	KindBulk   = "bulk"
	KindOther  = "other"
)

// Store wraps the database connection
type Store struct {
	conn *sql.DB
	path string
}

// New opens (creating if needed) the database at dbPath and applies the
// schema.
func New(ctx context.Context, dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, path: dbPath}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Save stores res under res.RequestID (a new UUID when empty) and returns
// the id used.
func (s *Store) Save(ctx context.Context, res *bbdl.Result, at time.Time) (string, error) {
	id := res.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO requests (id, created_at, records, errors) VALUES (?, ?, ?, ?)`,
		id, at.UTC().Format(time.RFC3339), len(res.Data), len(res.Errors),
	); err != nil {
		return "", fmt.Errorf("failed to insert request: %w", err)
	}

	valStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO record_values (request_id, record_idx, identifier, field, obs, kind, value) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer valStmt.Close()

	for row, rec := range res.Data {
		ident := rec.Identifier()
		for field, v := range rec {
			values, ok := v.([]any)
			if !ok {
				values = []any{v}
			}
			for obs, item := range values {
				kind, text, err := Encode(item)
				if err != nil {
					return "", fmt.Errorf("%s %s: %w", ident, field, err)
				}
				if _, err := valStmt.ExecContext(ctx, id, row, ident, field, obs, kind, text); err != nil {
					return "", fmt.Errorf("failed to insert value: %w", err)
				}
			}
		}
	}

	for _, se := range res.Errors {
		var date any
		if !se.Date.IsZero() {
			date = se.Date.Format("2006-01-02")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO security_errors (request_id, identifier, return_code, nfields, message, date) VALUES (?, ?, ?, ?, ?, ?)`,
			id, se.Identifier, int(se.ReturnCode), se.NFields, se.Message, date,
		); err != nil {
			return "", fmt.Errorf("failed to insert error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Value is one stored observation. Row is the index of the record in
// Result.Data, which tells apart records sharing an identifier.
type Value struct {
	Row        int
	Identifier string
	Field      string
	Obs        int
	Kind       string
	Text       sql.NullString
}

// Values returns the stored values of a request ordered by row, field and
// observation.
func (s *Store) Values(ctx context.Context, requestID string) ([]Value, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT record_idx, identifier, field, obs, kind, value FROM record_values
		 WHERE request_id = ? ORDER BY record_idx, field, obs`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Value
	for rows.Next() {
		var v Value
		if err := rows.Scan(&v.Row, &v.Identifier, &v.Field, &v.Obs, &v.Kind, &v.Text); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Errors returns the security errors of a request.
func (s *Store) Errors(ctx context.Context, requestID string) ([]bbdl.SecurityError, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT identifier, return_code, nfields, message, date FROM security_errors
		 WHERE request_id = ? ORDER BY rowid`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bbdl.SecurityError
	for rows.Next() {
		var (
			se      bbdl.SecurityError
			rc      int
			message sql.NullString
			date    sql.NullString
		)
		if err := rows.Scan(&se.Identifier, &rc, &se.NFields, &message, &date); err != nil {
			return nil, err
		}
		se.ReturnCode = bbdl.ReturnCode(rc)
		se.Message = message.String
		if date.Valid {
			se.Date, _ = time.Parse("2006-01-02", date.String)
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// RequestInfo summarizes a stored request.
type RequestInfo struct {
	ID        string
	CreatedAt time.Time
	Records   int
	Errors    int
}

// Requests lists stored requests, newest first.
func (s *Store) Requests(ctx context.Context) ([]RequestInfo, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, created_at, records, errors FROM requests ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RequestInfo
	for rows.Next() {
		var (
			ri RequestInfo
			ts string
		)
		if err := rows.Scan(&ri.ID, &ts, &ri.Records, &ri.Errors); err != nil {
			return nil, err
		}
		if ri.CreatedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("request %s: %w", ri.ID, err)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

// Encode renders a converted reply value as a kind and text.
func Encode(v any) (kind string, text sql.NullString, err error) {
	valid := func(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }
	switch x := v.(type) {
	case nil:
		return KindNull, sql.NullString{}, nil
	case string:
		return KindString, valid(x), nil
	case int64:
		return KindInt, valid(strconv.FormatInt(x, 10)), nil
	case float64:
		return KindFloat, valid(strconv.FormatFloat(x, 'g', -1, 64)), nil
	case bool:
		return KindBool, valid(strconv.FormatBool(x)), nil
	case time.Time:
		return KindDate, valid(x.Format(time.RFC3339)), nil
	case bbdl.TimeOfDay:
		return KindTime, valid(x.String()), nil
	case *bbdl.Bulk:
		b, err := json.Marshal(x.Maps())
		if err != nil {
			return "", sql.NullString{}, err
		}
		return KindBulk, valid(string(b)), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", sql.NullString{}, err
		}
		return KindOther, valid(string(b)), nil
	}
}
