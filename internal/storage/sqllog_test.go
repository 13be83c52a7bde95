package storage

import (
	"database/sql"
	"testing"
)

func openLogged(t *testing.T) (*sql.DB, *captureHandler) {
	t.Helper()
	h := &captureHandler{}
	db := sql.OpenDB(NewLoggingConnector(":memory:", slogFor(h)))
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, h
}

func TestLoggingConnector_ExecAndQuery(t *testing.T) {
	db, h := openLogged(t)

	if _, err := db.Exec(`CREATE TABLE t (id INTEGER, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES (?, ?)`, 1, "alice"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM t WHERE id = ?`, 1).Scan(&name); err != nil {
		t.Fatalf("select: %v", err)
	}

	recs := h.records("sql")
	if len(recs) != 3 {
		t.Fatalf("got %d sql records, want 3", len(recs))
	}
	if recs[1]["op"].String() != "exec" || recs[1]["sql"].String() != `INSERT INTO t (id, name) VALUES (?, ?)` {
		t.Errorf("insert record = %v", recs[1])
	}
	args, ok := recs[1]["args"].Any().([]string)
	if !ok || len(args) != 2 || args[0] != "1" || args[1] != "alice" {
		t.Errorf("insert args = %v", recs[1]["args"])
	}
	if recs[2]["op"].String() != "query" {
		t.Errorf("select op = %q, want query", recs[2]["op"].String())
	}
	if _, ok := recs[2]["took"]; !ok {
		t.Error("expected took attribute")
	}
}

func TestLoggingConnector_MultiStatementExec(t *testing.T) {
	db, _ := openLogged(t)

	if _, err := db.Exec(`CREATE TABLE a (x INTEGER); CREATE TABLE b (y INTEGER);`); err != nil {
		t.Fatalf("exec script: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO b (y) VALUES (1)`); err != nil {
		t.Fatalf("second table missing: %v", err)
	}
}

func TestLoggingConnector_ErrorLogged(t *testing.T) {
	db, h := openLogged(t)

	if _, err := db.Exec(`INSERT INTO missing (x) VALUES (1)`); err == nil {
		t.Fatal("expected error for missing table")
	}
	var sawError bool
	for _, rec := range h.records("sql") {
		if _, ok := rec["error"]; ok {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected error attribute on failed statement")
	}
}

func TestLoggingConnector_Ping(t *testing.T) {
	db, _ := openLogged(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
