package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kbuck1/navilink/internal/navilink"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeFormat matches the strftime default of the created_at column.
	historyTimeFormat = "2006-01-02T15:04:05Z"
)

// SQLiteHistoryRepository implements HistoryRepository on the
// state_history table, storing each snapshot as JSON.
type SQLiteHistoryRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLiteHistoryRepository creates a history repository.
//
// Parameters:
//   - db: Open SQLite connection with the state_history table
//   - clk: Time source for created_at and pruning; nil means the wall clock
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB, clk clock.Clock) *SQLiteHistoryRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &SQLiteHistoryRepository{db: db, clock: clk}
}

// Record inserts a snapshot for snap.ID.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - snap: Device session snapshot to persist
//   - source: One of the HistorySource values; empty means poll
//
// Returns:
//   - error: ErrDeviceIDRequired, ErrInvalidSource, or the database error
func (r *SQLiteHistoryRepository) Record(ctx context.Context, snap navilink.Snapshot, source string) error {
	if snap.ID == "" {
		return ErrDeviceIDRequired
	}
	if source == "" {
		source = HistorySourcePoll
	}
	if !ValidHistorySource(source) {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}

	stateJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		snap.ID,
		string(stateJSON),
		source,
		r.clock.Now().UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device session id
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered by created_at DESC (may be empty)
//   - error: ErrDeviceIDRequired or the query error
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, state, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var stateJSON, createdAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
		}
		if entry.CreatedAt, err = parseHistoryTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than retention.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: ErrInvalidRetention or the database error
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.clock.Now().UTC().Add(-retention).Format(historyTimeFormat)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// parseHistoryTimestamp parses a created_at value. Rows written by older
// builds may carry a numeric offset instead of Z.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	t, err := time.Parse(historyTimeFormat, value)
	if err == nil {
		return t, nil
	}
	if t, rfcErr := time.Parse(time.RFC3339, value); rfcErr == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
