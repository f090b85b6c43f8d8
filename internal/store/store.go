package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when no record exists for a kind/key pair
var ErrNotFound = errors.New("record not found")

// Store is a document store over a single Postgres table:
//
//	CREATE TABLE documents (
//	    kind       TEXT        NOT NULL,
//	    key        TEXT        NOT NULL,
//	    data       JSONB       NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (kind, key)
//	);
//
// All operations are point operations against a single kind; no cross-kind
// atomicity is provided. Callers rely on idempotent writes, not transactions.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Get reads the document at kind/key into out
func (s *Store) Get(ctx context.Context, kind, key string, out interface{}) error {
	var data []byte
	err := s.db.GetContext(ctx, &data,
		"SELECT data FROM documents WHERE kind = $1 AND key = $2", kind, key)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", kind, key, err)
	}
	return json.Unmarshal(data, out)
}

// Put writes the document at kind/key, creating or overwriting
func (s *Store) Put(ctx context.Context, kind, key string, doc interface{}) error {
	data, err := marshalWithKey(doc, key)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (kind, key, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, key) DO UPDATE SET data = $3, updated_at = NOW()`,
		kind, key, data)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", kind, key, err)
	}
	return nil
}

// PutIfAbsent writes the document only if the key does not exist yet and
// reports whether this call was the one that created it. A losing writer
// gets false with no error, which callers treat as "already seen".
func (s *Store) PutIfAbsent(ctx context.Context, kind, key string, doc interface{}) (bool, error) {
	data, err := marshalWithKey(doc, key)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (kind, key, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, key) DO NOTHING`,
		kind, key, data)
	if err != nil {
		return false, fmt.Errorf("failed to put %s/%s: %w", kind, key, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// Add writes the document under a generated key and returns it. The key is
// injected into the stored document as its "id" field.
func (s *Store) Add(ctx context.Context, kind string, doc interface{}) (string, error) {
	key := uuid.New().String()
	data, err := marshalWithKey(doc, key)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO documents (kind, key, data) VALUES ($1, $2, $3)",
		kind, key, data)
	if err != nil {
		return "", fmt.Errorf("failed to add %s: %w", kind, err)
	}
	return key, nil
}

// Update merges the given fields into the document at kind/key.
// Returns ErrNotFound when the key is absent.
func (s *Store) Update(ctx context.Context, kind, key string, fields map[string]interface{}) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal update fields: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET data = data || $3::jsonb, updated_at = NOW()
		WHERE kind = $1 AND key = $2`,
		kind, key, patch)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", kind, key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the document at kind/key. Returns ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, kind, key string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE kind = $1 AND key = $2", kind, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", kind, key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryEquals returns the raw documents of kind whose top-level field equals
// value, most recent first by creation time.
func (s *Store) QueryEquals(ctx context.Context, kind, field, value string, limit int) ([][]byte, error) {
	var rows [][]byte
	err := s.db.SelectContext(ctx, &rows, `
		SELECT data FROM documents
		WHERE kind = $1 AND data->>$2 = $3
		ORDER BY created_at DESC
		LIMIT $4`,
		kind, field, value, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", kind, field, err)
	}
	return rows, nil
}

// marshalWithKey marshals doc and forces its "id" field to the store key,
// so a document always carries its own identity.
func marshalWithKey(doc interface{}, key string) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}
	m["id"] = key

	return json.Marshal(m)
}
