package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("creates directory if not exists", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(Config{Path: dbPath, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
			t.Error("database directory was not created")
		}
	})
}

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (v TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}
	// The table must be visible on the next query, which only holds with a single pooled connection.
	if _, err := db.ExecContext(ctx, "INSERT INTO t (v) VALUES (?)", "x"); err != nil {
		t.Fatalf("INSERT error = %v", err)
	}
	if db.Path() != ":memory:" {
		t.Errorf("Path() = %q, want :memory:", db.Path())
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	db.DB = nil
	if err := db.Close(); err != nil {
		t.Errorf("Close() on nil DB error = %v", err)
	}
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE tx_test (id INTEGER PRIMARY KEY, value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	tests := []struct {
		name   string
		value  string
		commit bool
		want   int
	}{
		{"commit keeps row", "committed", true, 1},
		{"rollback drops row", "rolled_back", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("BeginTx() error = %v", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", tt.value); err != nil {
				t.Fatalf("INSERT error = %v", err)
			}
			if tt.commit {
				err = tx.Commit()
			} else {
				err = tx.Rollback()
			}
			if err != nil {
				t.Fatalf("finishing tx: %v", err)
			}

			var count int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_test WHERE value = ?", tt.value).Scan(&count); err != nil {
				t.Fatalf("SELECT error = %v", err)
			}
			if count != tt.want {
				t.Errorf("rows = %d, want %d", count, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)

	if stats := db.Stats(); stats.MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %v, want 1 (SQLite single writer)", stats.MaxOpenConnections)
	}
}

// openTestDB creates a temporary file-backed database closed on cleanup.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	return db
}
