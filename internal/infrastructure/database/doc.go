// Package database provides SQL connectivity for farmbridge.
//
// Two stores are supported:
//   - SQLite (github.com/mattn/go-sqlite3), the default, with WAL mode
//   - PostgreSQL (github.com/jackc/pgx/v5/pgxpool) for shared deployments
//
// Both expose Migrate(ctx, fsys), which applies YYYYMMDD_HHMMSS_name.up.sql
// files from an fs.FS in version order and records them in
// schema_migrations. The embedded schema for each dialect lives in the
// top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.SQLite()); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be NULLABLE or carry a
// DEFAULT, and every .up.sql ships with a matching .down.sql.
package database
