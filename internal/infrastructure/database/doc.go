// Package database provides SQLite connectivity and schema migrations for edgewatch.
//
// The schema holds users, their notification settings, devices, and the
// append-only performance_samples and event_logs tables.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600
//   - Device API keys are stored as opaque credentials; never log them
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each YYYYMMDD_HHMMSS_name.up.sql ships with a
// matching .down.sql so MigrateDown can step back one version.
package database
