package device

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kbuck1/navilink/internal/navilink"
)

// Compile-time check that the repository plugs into the coordinator.
var _ navilink.PreferenceStore = (*SQLitePreferenceRepository)(nil)

func TestPreferenceRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePreferenceRepository(db.DB)
	ctx := context.Background()

	ids, err := repo.LoadDisabled(ctx)
	if err != nil {
		t.Fatalf("LoadDisabled() error = %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("LoadDisabled() on empty table = %v", ids)
	}

	for _, id := range []string{"bb_2", "aa", "bb_1"} {
		if err := repo.SaveDisabled(ctx, id, true); err != nil {
			t.Fatalf("SaveDisabled(%s) error = %v", id, err)
		}
	}
	// Disabling twice is an upsert.
	if err := repo.SaveDisabled(ctx, "aa", true); err != nil {
		t.Fatalf("SaveDisabled(aa) again error = %v", err)
	}
	if err := repo.SaveDisabled(ctx, "bb_1", false); err != nil {
		t.Fatalf("SaveDisabled(bb_1, false) error = %v", err)
	}
	// Re-enabling an unknown id is a no-op.
	if err := repo.SaveDisabled(ctx, "zz", false); err != nil {
		t.Fatalf("SaveDisabled(zz, false) error = %v", err)
	}

	ids, err = repo.LoadDisabled(ctx)
	if err != nil {
		t.Fatalf("LoadDisabled() error = %v", err)
	}
	if want := []string{"aa", "bb_2"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("LoadDisabled() = %v, want %v", ids, want)
	}
}

func TestSaveDisabledRequiresID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLitePreferenceRepository(db.DB)
	if err := repo.SaveDisabled(context.Background(), "", true); !errors.Is(err, ErrDeviceIDRequired) {
		t.Errorf("SaveDisabled(\"\") error = %v, want ErrDeviceIDRequired", err)
	}
}
