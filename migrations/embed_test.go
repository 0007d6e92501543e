package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestDialectsArePaired(t *testing.T) {
	for name, fsys := range map[string]fs.FS{"sqlite": SQLite(), "postgres": Postgres()} {
		t.Run(name, func(t *testing.T) {
			entries, err := fs.ReadDir(fsys, ".")
			if err != nil {
				t.Fatalf("ReadDir() error = %v", err)
			}
			ups, downs := 0, 0
			for _, e := range entries {
				switch {
				case strings.HasSuffix(e.Name(), ".up.sql"):
					ups++
				case strings.HasSuffix(e.Name(), ".down.sql"):
					downs++
				}
			}
			if ups == 0 || ups != downs {
				t.Errorf("up=%d down=%d, want equal and non-zero", ups, downs)
			}
		})
	}
}
