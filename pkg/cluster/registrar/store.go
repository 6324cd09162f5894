package registrar

import (
	"context"
	"fmt"

	"github.com/unicornparson/lunaricorn/internal/platform"
	"github.com/unicornparson/lunaricorn/pkg/cluster"
)

// Store provides database operations for node inventory and the cluster
// state counters, backed by the persistence adapter.
type Store struct {
	db *platform.DB
}

// NewStore creates a Store over db.
func NewStore(db *platform.DB) *Store {
	return &Store{db: db}
}

// Install applies the cluster schema migrations.
func (s *Store) Install(ctx context.Context, migrationsDir string) error {
	return s.db.Install(ctx, migrationsDir)
}

// Beacon upserts a node by instance key: overwrites name/type/host/port and
// stamps last_seen when the key is already known, otherwise inserts a new
// row. now is a unix-second timestamp supplied by the caller so tests can
// control time.
func (s *Store) Beacon(ctx context.Context, n cluster.Node, now int64) error {
	const query = `
		INSERT INTO public.last_seen (name, type, key, host, port, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			last_seen = EXCLUDED.last_seen
	`
	if err := s.db.Exec(ctx, query, n.Name, n.Type, n.Key, nullableString(n.Host), n.Port, now); err != nil {
		return fmt.Errorf("upserting node beacon: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Alive returns every node whose last_seen falls within [now-aliveTimeout, now].
func (s *Store) Alive(ctx context.Context, now int64, aliveTimeout int64) ([]cluster.Node, error) {
	const query = `
		SELECT id, name, type, key, COALESCE(host, ''), COALESCE(port, 0), last_seen
		FROM public.last_seen
		WHERE last_seen >= $1
		ORDER BY name
	`
	var nodes []cluster.Node
	err := s.db.Query(ctx, query, []any{now - aliveTimeout}, func(rows platform.Rows) error {
		for rows.Next() {
			var n cluster.Node
			if err := rows.Scan(&n.ID, &n.Name, &n.Type, &n.Key, &n.Host, &n.Port, &n.LastSeen); err != nil {
				return fmt.Errorf("scanning node row: %w", err)
			}
			nodes = append(nodes, n)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing alive nodes: %w", err)
	}
	return nodes, nil
}

// NextID performs an atomic read-modify-write increment of the named
// cluster-state counter and returns the post-increment value. The INSERT …
// ON CONFLICT … DO UPDATE statement gives the serializable window spec §4.2
// requires: concurrent callers observe strictly increasing, unique values.
func (s *Store) NextID(ctx context.Context, key cluster.StateKey) (int64, error) {
	const query = `
		INSERT INTO public.cluster_state (key, value)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET value = public.cluster_state.value + 1
		RETURNING value
	`
	var next int64
	err := s.db.QueryRow(ctx, query, []any{string(key)}, func(row platform.Row) error {
		return row.Scan(&next)
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", key, err)
	}
	return next, nil
}
