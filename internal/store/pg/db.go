// Package pg implements store.RoomStore, store.SessionStore, and
// store.AuditStore against Postgres via pgx/v5, the gateway's managed-mode
// persistence backend. Grounded on a prior implementation's
// internal/store/pg package structure (one file per store, a shared
// pgxpool.Pool), narrowed to the three stores this gateway's domain needs
// and schema'd around Room/RoomTask/Session/AuditEntry instead of a prior
// multi-tenant Agents/Teams schema.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenDB opens a pooled connection to Postgres using dsn, which must come
// from the environment, never the config file.
func OpenDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return pool, nil
}
