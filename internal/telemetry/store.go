package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/g-flame/airlink-panel/internal/db"
)

// timeLayout keeps millisecond precision and sorts lexically.
const timeLayout = "2006-01-02 15:04:05.000"

// Store persists telemetry events.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Record inserts an event. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, e Event) error {
	e = e.withDefaults(time.Now())
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO telemetry_events (
			id, recorded_at, kind, path, source, duration_ms, size, error, session
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.RecordedAt.Format(timeLayout),
		string(e.Kind),
		e.Path,
		e.Source,
		e.DurationMS,
		e.Size,
		e.Error,
		e.Session,
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry event: %w", err)
	}
	return nil
}

// Filter controls which events Query returns.
type Filter struct {
	Kind    Kind
	Path    string
	Session string
	Since   *time.Time
	Limit   int
}

// Query returns matching events, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Path != "" {
		clauses = append(clauses, "path = ?")
		args = append(args, f.Path)
	}
	if f.Session != "" {
		clauses = append(clauses, "session = ?")
		args = append(args, f.Session)
	}
	if f.Since != nil {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}

	query := "SELECT id, recorded_at, kind, path, source, duration_ms, size, error, session FROM telemetry_events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			ts, kind string
		)
		if err := rows.Scan(&e.ID, &ts, &kind, &e.Path, &e.Source, &e.DurationMS, &e.Size, &e.Error, &e.Session); err != nil {
			return nil, fmt.Errorf("scanning telemetry event: %w", err)
		}
		e.Kind = Kind(kind)
		t, err := parseRecordedAt(ts)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		e.RecordedAt = t
		events = append(events, e)
	}
	return events, rows.Err()
}

// parseRecordedAt reads a stored timestamp. Rows written by Record use
// timeLayout; RFC3339 covers rows written by other tools.
func parseRecordedAt(v string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing recorded_at %q", v)
}

// Summary aggregates recorded events.
type Summary struct {
	Navigations     int            `json:"navigations"`
	Preloads        int            `json:"preloads"`
	Failures        int            `json:"failures"`
	BySource        map[string]int `json:"by_source"`
	AvgNavigationMS float64        `json:"avg_navigation_ms"`
}

// Summarize counts events by kind and navigation source.
func (s *Store) Summarize(ctx context.Context) (*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, source, COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM telemetry_events GROUP BY kind, source`)
	if err != nil {
		return nil, fmt.Errorf("summarizing telemetry: %w", err)
	}
	defer rows.Close()

	sum := &Summary{BySource: make(map[string]int)}
	var navMS int64
	for rows.Next() {
		var (
			kind, source string
			n            int
			ms           int64
		)
		if err := rows.Scan(&kind, &source, &n, &ms); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		switch Kind(kind) {
		case KindNavigation:
			sum.Navigations += n
			sum.BySource[source] += n
			navMS += ms
		case KindPreload:
			sum.Preloads += n
		case KindFailure:
			sum.Failures += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if sum.Navigations > 0 {
		sum.AvgNavigationMS = float64(navMS) / float64(sum.Navigations)
	}
	return sum, nil
}

// DeleteBefore removes events older than before and returns how many.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM telemetry_events WHERE recorded_at < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old telemetry events: %w", err)
	}
	return res.RowsAffected()
}
