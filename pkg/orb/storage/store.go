package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/unicornparson/lunaricorn/internal/platform"
	"github.com/unicornparson/lunaricorn/pkg/orb"
)

// Store provides database operations over orb_data and orb_meta, backed by
// the persistence adapter.
type Store struct {
	db *platform.DB
}

// NewStore creates a Store over db.
func NewStore(db *platform.DB) *Store {
	return &Store{db: db}
}

// Install applies the orb schema migrations.
func (s *Store) Install(ctx context.Context, migrationsDir string) error {
	return s.db.Install(ctx, migrationsDir)
}

// InsertData persists a new OrbData row.
func (s *Store) InsertData(ctx context.Context, d orb.OrbData) error {
	const query = `
		INSERT INTO public.orb_data (u, data_type, src, chain_left, chain_right, parent, ctime, flags, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var dataJSON any
	if len(d.Data) > 0 {
		dataJSON = []byte(d.Data)
	}
	if err := s.db.Exec(ctx, query, d.UUID, string(d.DataType), nullableString(d.Source),
		nullableUUID(d.ChainLeft), nullableUUID(d.ChainRight), nullableUUID(d.Parent),
		d.CreatedAt, d.Flags, dataJSON); err != nil {
		return fmt.Errorf("inserting orb data: %w", err)
	}
	return nil
}

// UpdateData overwrites an existing OrbData row in place, by its primary key.
func (s *Store) UpdateData(ctx context.Context, d orb.OrbData) error {
	const query = `
		UPDATE public.orb_data
		SET data_type = $2, src = $3, chain_left = $4, chain_right = $5, parent = $6, flags = $7, data = $8
		WHERE u = $1
	`
	var dataJSON any
	if len(d.Data) > 0 {
		dataJSON = []byte(d.Data)
	}
	if err := s.db.Exec(ctx, query, d.UUID, string(d.DataType), nullableString(d.Source),
		nullableUUID(d.ChainLeft), nullableUUID(d.ChainRight), nullableUUID(d.Parent),
		d.Flags, dataJSON); err != nil {
		return fmt.Errorf("updating orb data: %w", err)
	}
	return nil
}

// FetchData loads one OrbData row by uuid.
func (s *Store) FetchData(ctx context.Context, id uuid.UUID) (orb.OrbData, error) {
	const query = `
		SELECT u, data_type, COALESCE(src, ''), chain_left, chain_right, parent, ctime, flags, data
		FROM public.orb_data
		WHERE u = $1
	`
	var d orb.OrbData
	var dataType string
	var payload []byte
	err := s.db.QueryRow(ctx, query, []any{id}, func(row platform.Row) error {
		return row.Scan(&d.UUID, &dataType, &d.Source, &d.ChainLeft, &d.ChainRight, &d.Parent, &d.CreatedAt, &d.Flags, &payload)
	})
	if err != nil {
		return orb.OrbData{}, fmt.Errorf("fetching orb data: %w", err)
	}
	d.DataType = orb.DataSubtype(dataType)
	d.Data = json.RawMessage(payload)
	return d, nil
}

// InsertMeta appends a lifecycle event row for an OrbData object, returning
// the row's database-assigned id.
func (s *Store) InsertMeta(ctx context.Context, m orb.OrbMeta) (int64, error) {
	const query = `
		INSERT INTO public.orb_meta (u, data_type, ctime, flags, handle)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	err := s.db.QueryRow(ctx, query, []any{m.UUID, string(m.DataType), m.CreatedAt, m.Flags, m.Handle}, func(row platform.Row) error {
		return row.Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("inserting orb meta: %w", err)
	}
	return id, nil
}

// FetchMeta returns every meta row recorded for id, oldest first.
func (s *Store) FetchMeta(ctx context.Context, id uuid.UUID) ([]orb.OrbMeta, error) {
	const query = `
		SELECT id, u, data_type, ctime, flags, handle
		FROM public.orb_meta
		WHERE u = $1
		ORDER BY id ASC
	`
	var metas []orb.OrbMeta
	err := s.db.Query(ctx, query, []any{id}, func(rows platform.Rows) error {
		for rows.Next() {
			var m orb.OrbMeta
			var dataType string
			if err := rows.Scan(&m.ID, &m.UUID, &dataType, &m.CreatedAt, &m.Flags, &m.Handle); err != nil {
				return fmt.Errorf("scanning orb meta row: %w", err)
			}
			m.DataType = orb.DataSubtype(dataType)
			metas = append(metas, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing orb meta: %w", err)
	}
	return metas, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}
