package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedMigrationsPresent(t *testing.T) {
	pg, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		t.Fatalf("sqlFiles(postgres) failed: %v", err)
	}
	if len(pg) == 0 || pg[0] != "001_disbursements.sql" {
		t.Errorf("Unexpected postgres migrations: %v", pg)
	}

	ch, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("sqlFiles(clickhouse) failed: %v", err)
	}
	if len(ch) == 0 {
		t.Error("Expected clickhouse migrations")
	}
}

func TestSplitStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(input)
	if len(stmts) != 2 {
		t.Fatalf("Expected 2 statements, got %d: %v", len(stmts), stmts)
	}
	if !strings.HasPrefix(stmts[1], "CREATE TABLE b") {
		t.Errorf("Second statement: %q", stmts[1])
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	if err := validateNoSemicolonInStrings("SELECT 'a''b' ;"); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := validateNoSemicolonInStrings("SELECT 'a;b'"); err == nil {
		t.Error("Expected error for semicolon inside string literal")
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/presale")
	if err != nil || db != "presale" {
		t.Errorf("Got %q, %v; want presale", db, err)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("Expected error for DSN without database")
	}
}
