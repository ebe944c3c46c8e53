// Package database provides the local SQLite store for a btlesniffer node.
//
// The node keeps a durable copy of every sighting it produces so that records
// survive a broker outage and can be served by the status API. The package
// manages:
//   - Opening the database file (or an in-memory database for tests)
//   - WAL mode and busy timeout for concurrent API reads during writes
//   - Forward schema migrations read from an fs.FS
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. All queries use parameterised statements and
// the database file is created with 0600 permissions.
package database
