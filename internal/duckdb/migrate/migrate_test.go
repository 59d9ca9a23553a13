package migrate

import (
	"database/sql"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
)

const latestVersion = 2

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"events", "event_types", "data_sources", "artifacts", "content_tags", "artifact_tags", "hash_set_hits", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestEventTypeHierarchyIsSeeded(t *testing.T) {
	db := openTestDB(t)
	if err := NewRunner(db).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var roots, categories, orphans int
	if err := db.QueryRow("SELECT COUNT(*) FROM event_types WHERE level = 0").Scan(&roots); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM event_types WHERE level = 1").Scan(&categories); err != nil {
		t.Fatal(err)
	}
	err := db.QueryRow(`SELECT COUNT(*) FROM event_types c
		LEFT JOIN event_types p ON p.id = c.parent_id
		WHERE c.level > 0 AND (p.id IS NULL OR p.level <> c.level - 1)`).Scan(&orphans)
	if err != nil {
		t.Fatal(err)
	}
	if roots != 1 || categories != 3 || orphans != 0 {
		t.Errorf("roots=%d categories=%d orphans=%d, want 1/3/0", roots, categories, orphans)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	if err := r.Run(); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	cur, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != latestVersion || pending != 0 {
		t.Errorf("expected version=%d pending=0, got version=%d pending=%d", latestVersion, cur, pending)
	}
}

func TestStatusReportsCorrectly(t *testing.T) {
	db := openTestDB(t)
	r := NewRunner(db)

	cur, pending, err := r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != 0 || pending != latestVersion {
		t.Errorf("before run: expected version=0 pending=%d, got version=%d pending=%d", latestVersion, cur, pending)
	}

	if err := r.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, pending, err = r.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if cur != latestVersion || pending != 0 {
		t.Errorf("after run: expected version=%d pending=0, got version=%d pending=%d", latestVersion, cur, pending)
	}
}

func TestMigrationsAreOrdered(t *testing.T) {
	migs, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations: %v", err)
	}
	if len(migs) != latestVersion {
		t.Fatalf("got %d migrations, want %d", len(migs), latestVersion)
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d (%s)", i, m.Version, m.Name)
		}
	}
}
