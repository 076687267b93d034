// Package database provides the SQLite store behind the local actuator and
// command history.
//
// The connection runs in WAL mode with a busy timeout so the status API can
// read while a control loop writes, and the pool is pinned to a single
// connection because SQLite has one writer.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_name.up.sql and
// YYYYMMDD_HHMMSS_name.down.sql, read from whatever fs.FS the caller passes.
// The binary passes the embedded migrations.FS; tests pass fstest.MapFS.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
