// Package database provides SQLite connectivity for navilinkd.
//
// This package manages:
//   - The database file with WAL mode and a busy timeout
//   - Schema migrations from any fs.FS (the binary embeds /migrations)
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_name.up.sql with an optional
// matching .down.sql, and are additive-only.
package database
