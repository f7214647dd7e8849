// Package journal records when Homie devices, nodes and properties were
// first discovered.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/homie-core/internal/homie"
)

// Pagination bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one discovery record.
type Entry struct {
	ID         string          `json:"id"`
	EventType  homie.EventType `json:"event_type"`
	DeviceID   string          `json:"device_id"`
	NodeID     string          `json:"node_id,omitempty"`
	PropertyID string          `json:"property_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Details    map[string]any  `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	EventType homie.EventType // optional: device_discovered, node_discovered, property_discovered
	DeviceID  string          // optional
	NodeID    string          // optional
	Since     time.Time       // optional: entries created at or after
	Limit     int             // default 50, max 200
	Offset    int             // pagination offset
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists discovery entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps entries in the discovery_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.EventType == "" || entry.DeviceID == "" {
		return ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = "disc-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var details *string
	if entry.Details != nil {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshalling journal details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO discovery_log (id, event_type, device_id, node_id, property_id, name, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.EventType), entry.DeviceID,
		entry.NodeID, entry.PropertyID, entry.Name, details,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = normaliseFilter(filter)
	if filter.EventType != "" && !slices.Contains(discoveryTypes, filter.EventType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, filter.EventType)
	}

	where, args := filter.where()

	countQuery := "SELECT COUNT(*) FROM discovery_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, event_type, device_id, node_id, property_id, name, details, created_at FROM discovery_log " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// normaliseFilter clamps pagination values.
func normaliseFilter(f Filter) Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// where assembles the WHERE clause and its arguments.
func (f Filter) where() (string, []any) {
	var conditions []string
	var args []any

	if f.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if f.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.NodeID != "" {
		conditions = append(conditions, "node_id = ?")
		args = append(args, f.NodeID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var entry Entry
	var eventType, createdAt string
	var details sql.NullString

	if err := rows.Scan(&entry.ID, &eventType, &entry.DeviceID, &entry.NodeID,
		&entry.PropertyID, &entry.Name, &details, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}
	entry.EventType = homie.EventType(eventType)

	if details.Valid && details.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(details.String), &m) == nil {
			entry.Details = m
		}
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return entry, nil
}
