package device

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLitePreferenceRepository stores the polling opt-out set in the
// polling_preferences table. It satisfies navilink.PreferenceStore.
type SQLitePreferenceRepository struct {
	db *sql.DB
}

// NewSQLitePreferenceRepository creates a preference repository.
func NewSQLitePreferenceRepository(db *sql.DB) *SQLitePreferenceRepository {
	return &SQLitePreferenceRepository{db: db}
}

// LoadDisabled returns the ids of every device session with polling
// switched off, sorted by id.
func (r *SQLitePreferenceRepository) LoadDisabled(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT device_id FROM polling_preferences WHERE disabled = 1 ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("querying polling preferences: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning polling preference: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating polling preferences: %w", err)
	}
	return ids, nil
}

// SaveDisabled records whether polling is off for one device session.
// Re-enabling deletes the row so the table only holds opt-outs.
func (r *SQLitePreferenceRepository) SaveDisabled(ctx context.Context, deviceID string, disabled bool) error {
	if deviceID == "" {
		return ErrDeviceIDRequired
	}

	var err error
	if disabled {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO polling_preferences (device_id, disabled) VALUES (?, 1)
			 ON CONFLICT(device_id) DO UPDATE SET
			     disabled = 1,
			     updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
			deviceID)
	} else {
		_, err = r.db.ExecContext(ctx, "DELETE FROM polling_preferences WHERE device_id = ?", deviceID)
	}
	if err != nil {
		return fmt.Errorf("saving polling preference: %w", err)
	}
	return nil
}
