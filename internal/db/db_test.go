package db

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sloppy/codeshield/internal/testutil"
)

func TestMigrationsCreateSchema(t *testing.T) {
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	wantTables := map[string]struct{}{
		"project":      {},
		"project_file": {},
		"scan":         {},
		"finding":      {},
	}
	tables := mustListStrings(t, db, `SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%';`)
	for name := range wantTables {
		if _, ok := tables[name]; !ok {
			t.Fatalf("expected table %q to exist, got tables: %v", name, keys(tables))
		}
	}

	wantIndexes := map[string]struct{}{
		"idx_scan_project":          {},
		"idx_finding_scan":          {},
		"idx_finding_scan_status":   {},
		"idx_finding_scan_severity": {},
	}
	indexes := mustListStrings(t, db, `SELECT name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%';`)
	for name := range wantIndexes {
		if _, ok := indexes[name]; !ok {
			t.Fatalf("expected index %q to exist, got indexes: %v", name, keys(indexes))
		}
	}

	if !hasUniqueIndex(t, db, "finding") {
		t.Fatalf("expected unique index on finding(id)")
	}
	if !hasUniqueIndex(t, db, "project_file") {
		t.Fatalf("expected unique index on project_file(project_id, path)")
	}
	if !hasCascadeForeignKey(t, db, "project_file", "project") {
		t.Fatalf("expected project_file to reference project with ON DELETE CASCADE")
	}
	if !hasCascadeForeignKey(t, db, "scan", "project") {
		t.Fatalf("expected scan to reference project with ON DELETE CASCADE")
	}
	if !hasCascadeForeignKey(t, db, "finding", "scan") {
		t.Fatalf("expected finding to reference scan with ON DELETE CASCADE")
	}
	if fk := pragmaString(t, db, "PRAGMA foreign_keys;"); fk != "1" {
		t.Fatalf("expected foreign_keys on, got %q", fk)
	}
}

func TestOpenEnablesWALAndAllowsConcurrentOpens(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "test.db")

	db1, err := Open(path)
	if err != nil {
		t.Fatalf("open db1: %v", err)
	}
	defer db1.Close()

	if mode := pragmaString(t, db1, "PRAGMA journal_mode;"); mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	now := time.Now()
	if err := db1.SaveProject(testProject("p1", now), nil); err != nil {
		t.Fatalf("insert via db1: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("open db2: %v", err)
	}
	defer db2.Close()

	if err := db2.SaveProject(testProject("p2", now), nil); err != nil {
		t.Fatalf("insert via db2: %v", err)
	}

	var count int
	if err := db1.QueryRow(`SELECT COUNT(*) FROM project`).Scan(&count); err != nil {
		t.Fatalf("count projects: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 projects, got %d", count)
	}
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	a, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := Open("")
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.SaveProject(testProject("only-a", time.Now()), nil); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if _, ok, err := b.GetProject("only-a"); err != nil || ok {
		t.Fatalf("expected project absent from second database, ok=%v err=%v", ok, err)
	}
}

func TestMigrationsAreReentrant(t *testing.T) {
	db := newTestDB(t)
	defer db.Close()

	if err := db.SaveProject(testProject("p", time.Now()), nil); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if err := runMigrations(db.DB); err != nil {
		t.Fatalf("re-run migrations: %v", err)
	}
	if _, ok, err := db.GetProject("p"); err != nil || !ok {
		t.Fatalf("expected project to survive re-run, ok=%v err=%v", ok, err)
	}
}

// Helpers

func mustListStrings(t *testing.T, db *DB, query string) map[string]struct{} {
	t.Helper()
	rows, err := db.Query(query)
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan name: %v", err)
		}
		result[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	return result
}

func pragmaString(t *testing.T, db *DB, pragma string) string {
	t.Helper()
	var val string
	if err := db.QueryRow(pragma).Scan(&val); err != nil {
		t.Fatalf("pragma query %q: %v", pragma, err)
	}
	return val
}

func hasUniqueIndex(t *testing.T, db *DB, table string) bool {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf(`PRAGMA index_list(%s);`, table))
	if err != nil {
		t.Fatalf("index_list %s: %v", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			t.Fatalf("scan index_list: %v", err)
		}
		if unique == 1 {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	return false
}

func hasCascadeForeignKey(t *testing.T, db *DB, table, ref string) bool {
	t.Helper()
	rows, err := db.Query(fmt.Sprintf(`PRAGMA foreign_key_list(%s);`, table))
	if err != nil {
		t.Fatalf("foreign_key_list %s: %v", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, seq                                       int
			refTable, from, to, onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			t.Fatalf("scan foreign_key_list: %v", err)
		}
		if refTable == ref && strings.EqualFold(onDelete, "CASCADE") {
			return true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	return false
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
