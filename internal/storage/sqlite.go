package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	maxCreateAttempts    = 3
)

// SQLiteStore keeps documents in a single SQLite table keyed by
// (collection, id). The pool is limited to one connection, so every
// transaction is serialized and Update is a true read-modify-write.
type SQLiteStore struct {
	db    *sql.DB
	feed  *feed
	newID func() string
}

// NewSQLiteStore opens the database at path. Call Migrate before use and Close when done.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "flashchat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, feed: newFeed(), newID: newDocumentID()}, nil
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate creates the documents table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);`,
		`CREATE INDEX IF NOT EXISTS documents_collection_updated ON documents(collection, updated_at);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close stops subscriptions and releases the DB connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.feed.close()
	return s.db.Close()
}

// Create inserts data under a generated id.
func (s *SQLiteStore) Create(ctx context.Context, collection Path, data []byte) (string, error) {
	if !collection.IsCollection() {
		return "", ErrInvalidPath
	}
	data, err := validateObject(data)
	if err != nil {
		return "", err
	}
	now := time.Now().UnixMilli()
	for attempt := 0; ; attempt++ {
		id := s.newID()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO documents(collection, id, data, created_at, updated_at) VALUES(?, ?, ?, ?, ?)`,
			string(collection), id, string(data), now, now)
		if err == nil {
			s.feed.publish(collection.Child(id))
			return id, nil
		}
		if !isConstraintError(err) || attempt+1 >= maxCreateAttempts {
			return "", err
		}
	}
}

// Get returns the document at path or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, path Path) (Document, error) {
	if !path.IsDocument() {
		return Document{}, ErrInvalidPath
	}
	data, err := getData(ctx, s.db, path)
	if err != nil {
		return Document{}, err
	}
	return Document{Path: path, Data: data}, nil
}

// Set writes data at path, replacing or merging into any existing document.
func (s *SQLiteStore) Set(ctx context.Context, path Path, data []byte, opts SetOptions) error {
	if !path.IsDocument() {
		return ErrInvalidPath
	}
	data, err := validateObject(data)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if opts.Merge {
		existing, err := getData(ctx, tx, path)
		switch {
		case err == nil:
			if data, err = mergeObjects(existing, data); err != nil {
				return err
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}
	if err := putData(ctx, tx, path, data); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.feed.publish(path)
	return nil
}

// Update applies mutate inside a transaction.
func (s *SQLiteStore) Update(ctx context.Context, path Path, mutate Mutation) (bool, error) {
	if !path.IsDocument() {
		return false, ErrInvalidPath
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getData(ctx, tx, path)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	next, err := mutate(Document{Path: path, Data: current}, exists)
	if err != nil || next == nil {
		return false, err
	}
	if next, err = validateObject(next); err != nil {
		return false, err
	}
	if err := putData(ctx, tx, path, next); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.feed.publish(path)
	return true, nil
}

// Delete removes the document at path. ErrNotFound is returned when it is absent.
func (s *SQLiteStore) Delete(ctx context.Context, path Path) error {
	if !path.IsDocument() {
		return ErrInvalidPath
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, string(path.Parent()), path.ID())
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	s.feed.publish(path)
	return nil
}

// Query returns the documents of collection matching q.
func (s *SQLiteStore) Query(ctx context.Context, collection Path, q Query) ([]Document, error) {
	if !collection.IsCollection() {
		return nil, ErrInvalidPath
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM documents WHERE collection = ? ORDER BY id ASC`, string(collection))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		docs = append(docs, Document{Path: collection.Child(id), Data: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return applyQuery(docs, q)
}

// Subscribe registers fn for snapshots of target.
func (s *SQLiteStore) Subscribe(ctx context.Context, target Path, q Query, fn func(Snapshot)) (Unsubscribe, error) {
	load, err := loader(s, target, q)
	if err != nil {
		return nil, err
	}
	return s.feed.subscribe(ctx, target, load, fn)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getData(ctx context.Context, q queryer, path Path) ([]byte, error) {
	var data string
	row := q.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, string(path.Parent()), path.ID())
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(data), nil
}

func putData(ctx context.Context, tx *sql.Tx, path Path, data []byte) error {
	now := time.Now().UnixMilli()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents(collection, id, data, created_at, updated_at) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, string(path.Parent()), path.ID(), string(data), now, now)
	return err
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
