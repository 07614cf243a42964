package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CosmoTheDev/zapmcp/internal/config"
)

type sample struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	Count int    `db:"count"`
	Skip  string `db:"-"`
}

func openTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var applied []struct {
		Filename string `db:"filename"`
	}
	if err := db.Select(ctx, &applied, `SELECT filename FROM schema_migrations`); err != nil {
		t.Fatalf("Select: %v", err)
	}
	names, _ := migrationNames()
	if len(applied) != len(names) {
		t.Fatalf("applied %d migrations, want %d", len(applied), len(names))
	}
}

func TestInsertAndSelectTaggedStructs(t *testing.T) {
	db := openTestSQLite(t)
	ctx := context.Background()
	if _, err := db.db.ExecContext(ctx, `CREATE TABLE sample (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, count INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	id1, err := db.Insert(ctx, "sample", sample{Name: "a", Count: 1, Skip: "ignored"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id2, err := db.Insert(ctx, "sample", &sample{Name: "b", Count: 2})
	if err != nil {
		t.Fatalf("Insert pointer: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("ids not increasing: %d then %d", id1, id2)
	}

	var rows []*sample
	if err := db.Select(ctx, &rows, `SELECT id, name, count, 'extra' AS unmapped FROM sample ORDER BY id`); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "a" || rows[1].Count != 2 || rows[0].ID != id1 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSelectRejectsBadDestination(t *testing.T) {
	db := openTestSQLite(t)
	var notSlice sample
	if err := db.Select(context.Background(), &notSlice, `SELECT 1`); err == nil {
		t.Fatal("expected error for non-slice destination")
	}
	if _, err := db.Insert(context.Background(), "sample", 42); err == nil {
		t.Fatal("expected error for non-struct record")
	}
}

func TestMySQLDSNForcesParseTime(t *testing.T) {
	dsn, err := mysqlDSN("user:pass@tcp(db:3306)/zapmcp")
	if err != nil {
		t.Fatalf("mysqlDSN: %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("dsn %q missing parseTime", dsn)
	}
	if _, err := mysqlDSN(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestMySQLAdaptRewritesAutoIncrement(t *testing.T) {
	got := mysqlAdapt("id INTEGER PRIMARY KEY AUTOINCREMENT,")
	if got != "id INT NOT NULL AUTO_INCREMENT PRIMARY KEY," {
		t.Fatalf("mysqlAdapt = %q", got)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(config.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
