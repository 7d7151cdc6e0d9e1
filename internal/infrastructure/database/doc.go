// Package database provides SQLite connectivity for the knxproj parse cache.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Private in-memory databases for tests and ephemeral caches
//   - Schema migrations read from an fs.FS (normally migrations.FS)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Cache.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql.
package database
