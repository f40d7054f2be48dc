package db

import (
	"strings"
	"testing"
)

func TestMigrationsAreIdempotent(t *testing.T) {
	stmts := Migrations()
	if len(stmts) == 0 {
		t.Fatalf("expected migrations")
	}
	for i, stmt := range stmts {
		if !strings.Contains(stmt, "IF NOT EXISTS") {
			t.Fatalf("migration %d is not idempotent: %s", i, stmt)
		}
	}
	if !strings.HasPrefix(stmts[0], "CREATE SCHEMA") {
		t.Fatalf("schema must be created first")
	}
}
