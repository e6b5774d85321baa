// Package device persists water heater state and per-device settings for
// navilinkd.
//
// The live devices themselves are owned by the navilink.Registry; this
// package only stores what must survive a restart:
//
//   - SQLiteHistoryRepository: a JSON snapshot of a device session each time
//     its state changes, queryable newest first and pruned by age
//   - SQLitePreferenceRepository: the set of device sessions whose status
//     polling has been switched off, implementing navilink.PreferenceStore
//
// Both repositories expect the tables created by the embedded migrations.
//
// # Usage
//
//	history := device.NewSQLiteHistoryRepository(db.DB, clock.New())
//	if err := history.Record(ctx, snap, device.HistorySourcePoll); err != nil {
//	    return err
//	}
//
//	prefs := device.NewSQLitePreferenceRepository(db.DB)
//	coordinator, err := navilink.NewCoordinator(navilink.CoordinatorOptions{
//	    Preferences: prefs,
//	    ...
//	})
package device
