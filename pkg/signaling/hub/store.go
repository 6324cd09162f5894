package hub

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/unicornparson/lunaricorn/internal/platform"
	"github.com/unicornparson/lunaricorn/pkg/signaling"

	"context"
)

// Store is the append-only event log backing the signaling hub.
type Store struct {
	db *platform.DB
}

// NewStore creates a Store over db.
func NewStore(db *platform.DB) *Store {
	return &Store{db: db}
}

// Install applies the signaling schema migrations.
func (s *Store) Install(ctx context.Context, migrationsDir string) error {
	return s.db.Install(ctx, migrationsDir)
}

// sqlMetacharacters is the deny-list validator spec §4.4 describes as
// defense-in-depth; every value is parameterized regardless, so this never
// changes what gets bound to the query, only whether the request is rejected
// up front.
var sqlMetacharacters = regexp.MustCompile(`[;'"\\]|--|/\*|\*/`)

// ErrInvalidFilter is returned when a browse filter value fails the
// metacharacter deny-list check.
var ErrInvalidFilter = fmt.Errorf("filter value contains disallowed characters")

func validateFilterStrings(values ...[]string) error {
	for _, group := range values {
		for _, v := range group {
			if sqlMetacharacters.MatchString(v) {
				return ErrInvalidFilter
			}
		}
	}
	return nil
}

// CreateEvent persists a new event and returns its assigned eid.
func (s *Store) CreateEvent(ctx context.Context, eventType string, payload json.RawMessage, affected, tags []string, owner string, ctime time.Time) (int64, error) {
	if owner == "" {
		owner = signaling.OwnerlessSource
	}

	var affectedJSON, payloadJSON any
	if len(affected) > 0 {
		b, err := json.Marshal(affected)
		if err != nil {
			return 0, fmt.Errorf("encoding affected: %w", err)
		}
		affectedJSON = b
	}
	if len(payload) > 0 {
		payloadJSON = []byte(payload)
	}

	const query = `
		INSERT INTO public.signaling_events (type, payload, affected, ctime, owner, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING eid
	`
	var eid int64
	err := s.db.QueryRow(ctx, query, []any{eventType, payloadJSON, affectedJSON, ctime, owner, tags}, func(row platform.Row) error {
		return row.Scan(&eid)
	})
	if err != nil {
		return 0, fmt.Errorf("creating event: %w", err)
	}
	return eid, nil
}

// Browse returns events matching the given filters (spec §4.4 "browse"),
// newest first, optionally limited.
func (s *Store) Browse(ctx context.Context, req signaling.BrowseRequest) ([]signaling.Event, error) {
	if err := validateFilterStrings(req.EventTypes, req.Sources, req.Affected, req.Tags); err != nil {
		return nil, err
	}

	query := `
		SELECT eid, type, payload, affected, tags, owner, ctime
		FROM public.signaling_events
		WHERE ctime >= $1
	`
	args := []any{time.Unix(req.Timestamp, 0).UTC()}
	argN := 2

	if len(req.EventTypes) > 0 {
		query += fmt.Sprintf(" AND type = ANY($%d)", argN)
		args = append(args, req.EventTypes)
		argN++
	}
	if len(req.Sources) > 0 {
		query += fmt.Sprintf(" AND owner = ANY($%d)", argN)
		args = append(args, req.Sources)
		argN++
	}
	if len(req.Affected) > 0 {
		query += fmt.Sprintf(" AND affected @> $%d::jsonb", argN)
		b, err := json.Marshal(req.Affected)
		if err != nil {
			return nil, fmt.Errorf("encoding affected filter: %w", err)
		}
		args = append(args, b)
		argN++
	}
	if len(req.Tags) > 0 {
		query += fmt.Sprintf(" AND tags && $%d::text[]", argN)
		args = append(args, req.Tags)
		argN++
	}

	query += " ORDER BY ctime DESC"
	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, req.Limit)
	}

	var events []signaling.Event
	err := s.db.Query(ctx, query, args, func(rows platform.Rows) error {
		for rows.Next() {
			var e signaling.Event
			var payload, affected []byte
			var ctime time.Time
			if err := rows.Scan(&e.EID, &e.Type, &payload, &affected, &e.Tags, &e.Owner, &ctime); err != nil {
				return fmt.Errorf("scanning event row: %w", err)
			}
			e.Payload = payload
			if len(affected) > 0 {
				if err := json.Unmarshal(affected, &e.Affected); err != nil {
					return fmt.Errorf("decoding affected: %w", err)
				}
			}
			e.Timestamp = ctime
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("browsing events: %w", err)
	}
	return events, nil
}

// ListDistinct returns the distinct values currently present in column,
// ascending (spec §4.4 list endpoints). column must be one of a fixed set
// the caller controls — never user input — since it is interpolated
// directly into the query.
func (s *Store) ListDistinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM public.signaling_events WHERE %s IS NOT NULL ORDER BY %s ASC`, column, column, column)

	var values []string
	err := s.db.Query(ctx, query, nil, func(rows platform.Rows) error {
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("scanning distinct value: %w", err)
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing distinct %s: %w", column, err)
	}
	return values, nil
}

// ListDistinctTags returns the distinct tag values across all events
// (unnested from the tags array column).
func (s *Store) ListDistinctTags(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT unnest(tags) AS tag FROM public.signaling_events ORDER BY tag ASC`
	var values []string
	err := s.db.Query(ctx, query, nil, func(rows platform.Rows) error {
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("scanning distinct tag: %w", err)
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing distinct tags: %w", err)
	}
	return values, nil
}

// ListDistinctAffected returns the distinct affected-object identifiers
// across all events (unnested from the affected jsonb array column).
func (s *Store) ListDistinctAffected(ctx context.Context) ([]string, error) {
	const query = `
		SELECT DISTINCT jsonb_array_elements_text(affected) AS a
		FROM public.signaling_events
		WHERE affected IS NOT NULL
		ORDER BY a ASC
	`
	var values []string
	err := s.db.Query(ctx, query, nil, func(rows platform.Rows) error {
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("scanning distinct affected: %w", err)
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing distinct affected: %w", err)
	}
	return values, nil
}
