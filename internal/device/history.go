package device

import (
	"context"
	"time"

	"github.com/kbuck1/navilink/internal/navilink"
)

// History source values.
const (
	// HistorySourcePoll marks a snapshot taken after a status response.
	HistorySourcePoll = "poll"

	// HistorySourceCommand marks a snapshot taken after a control command.
	HistorySourceCommand = "command"

	// HistorySourceConnect marks the first snapshot after a (re)connect.
	HistorySourceConnect = "connect"
)

// ValidHistorySource reports whether s is one of the HistorySource values.
func ValidHistorySource(s string) bool {
	switch s {
	case HistorySourcePoll, HistorySourceCommand, HistorySourceConnect:
		return true
	}
	return false
}

// HistoryEntry is one recorded state snapshot of a device session.
//
// Entries give a local audit trail of temperatures and modes even when
// InfluxDB is not configured.
type HistoryEntry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// DeviceID is the device session id (mac or mac_channel).
	DeviceID string `json:"device_id"`

	// State is the snapshot as it was when recorded.
	State navilink.Snapshot `json:"state"`

	// Source is one of the HistorySource values.
	Source string `json:"source"`

	// CreatedAt is when the entry was recorded (UTC, second precision).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves device state history.
//
// Implementations must be safe for concurrent use.
type HistoryRepository interface {
	// Record stores a snapshot under its session id.
	Record(ctx context.Context, snap navilink.Snapshot, source string) error

	// GetHistory returns up to limit entries for a device, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)

	// Prune deletes entries older than the retention window and returns
	// the number removed.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
