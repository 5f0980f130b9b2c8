package seeder

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS provider_credentials (
		credential_key TEXT PRIMARY KEY,
		secret         TEXT NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

const upsert = `
	INSERT INTO provider_credentials (credential_key, secret, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (credential_key) DO UPDATE
	SET secret = EXCLUDED.secret, updated_at = now()
`

// SeedCredentials creates the provider_credentials table if needed and
// copies keys into it. Intended for local setups; secrets are never logged.
func SeedCredentials(ctx context.Context, db DB, keys map[string]string) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create provider_credentials: %w", err)
	}

	seeded := 0
	for _, name := range slices.Sorted(maps.Keys(keys)) {
		secret := strings.TrimSpace(keys[name])
		if secret == "" {
			continue
		}
		if _, err := db.Exec(ctx, upsert, name, secret); err != nil {
			return fmt.Errorf("seed credential %s: %w", name, err)
		}
		log.Printf("[Seeder] credential %q stored", name)
		seeded++
	}
	log.Printf("[Seeder] %d credentials seeded", seeded)
	return nil
}
