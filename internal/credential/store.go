// Package credential keeps linked Tonies logins. Passwords are stored
// encrypted by the vault; at most one credential per owner is the default,
// which the schema enforces with a unique partial index.
package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/store"
)

// Credential is one linked Tonies login.
type Credential struct {
	ID                  string
	OwnerID             string
	Username            string
	EncryptedPassword   string
	Label               string
	IsDefault           bool
	LastAuthenticatedAt *time.Time
	CreatedAt           time.Time
}

const selectCols = `SELECT id, owner_id, username, encrypted_password, label, is_default,
	last_authenticated_at, created_at FROM credentials `

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getByID(ctx context.Context, q querier, id string) (*Credential, error) {
	row := q.QueryRowContext(ctx, selectCols+`WHERE id = ?`, id)

	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential: %s: %w", id, apperr.ErrNotFound)
	}

	return c, err
}

func getByUsername(ctx context.Context, q querier, ownerID, username string) (*Credential, error) {
	row := q.QueryRowContext(ctx, selectCols+`WHERE owner_id = ? AND username = ?`, ownerID, username)

	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return c, err
}

func listByOwner(ctx context.Context, q querier, ownerID string) ([]Credential, error) {
	rows, err := q.QueryContext(ctx, selectCols+`WHERE owner_id = ? ORDER BY created_at, rowid`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("credential: listing for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []Credential

	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential: iterating rows: %w", err)
	}

	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*Credential, error) {
	var (
		c         Credential
		isDefault int
		lastAuth  sql.NullInt64
		createdAt int64
	)

	err := s.Scan(&c.ID, &c.OwnerID, &c.Username, &c.EncryptedPassword, &c.Label, &isDefault, &lastAuth, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("credential: scanning row: %w", err)
	}

	c.IsDefault = isDefault == 1
	c.LastAuthenticatedAt = store.TimePtr(lastAuth)
	c.CreatedAt = store.TimeFromNanos(createdAt)

	return &c, nil
}

func stampAuthenticated(ctx context.Context, q querier, id string, now time.Time) error {
	if _, err := q.ExecContext(ctx,
		`UPDATE credentials SET last_authenticated_at = ? WHERE id = ?`, store.Nanos(now), id); err != nil {
		return fmt.Errorf("credential: stamping %s: %w", id, err)
	}

	return nil
}
