// Package database provides SQLite connectivity for the switch dimmer.
//
// It opens the database with WAL and busy-timeout pragmas and applies
// versioned migrations read from any fs.FS (the service embeds them from
// the top-level migrations package).
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
