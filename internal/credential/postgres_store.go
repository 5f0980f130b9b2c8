package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads credentials from the provider_credentials table, which
// is maintained by the configuration tooling:
//
//	CREATE TABLE provider_credentials (
//	    credential_key TEXT PRIMARY KEY,
//	    secret         TEXT NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	query := `
		SELECT secret
		FROM provider_credentials
		WHERE credential_key = $1
	`

	var secret string
	err := s.db.QueryRow(ctx, query, key).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMissingCredential
		}
		return "", fmt.Errorf("failed to get credential: %w", err)
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", ErrMissingCredential
	}
	return secret, nil
}
