// Package migrations embeds the SQL schema for each supported store.
//
// Files follow YYYYMMDD_HHMMSS_name.{up,down}.sql and are applied by
// database.DB.Migrate and database.Pool.Migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// SQLite returns the SQLite dialect migrations.
func SQLite() fs.FS {
	return sub("sqlite")
}

// Postgres returns the PostgreSQL dialect migrations.
func Postgres() fs.FS {
	return sub("postgres")
}

func sub(dir string) fs.FS {
	fsys, err := fs.Sub(files, dir)
	if err != nil {
		// Only possible if the embed pattern above is wrong.
		panic("migrations: " + err.Error())
	}
	return fsys
}
