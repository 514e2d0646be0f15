package storage

import "testing"

type fakeInit struct {
	calls *[]string
	name  string
	err   error
}

func (f fakeInit) Init() error {
	*f.calls = append(*f.calls, f.name)
	return f.err
}

func TestOpenInMemoryCreatesVersionTable(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		t.Fatalf("expected schema_version row: %v", err)
	}
	if version != schemaVersion {
		t.Fatalf("expected version %d, got %d", schemaVersion, version)
	}
}

func TestInitAllRunsInOrderAndStopsOnError(t *testing.T) {
	var calls []string
	err := InitAll(
		fakeInit{calls: &calls, name: "a"},
		fakeInit{calls: &calls, name: "b"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("expected ordered calls [a b], got %v", calls)
	}

	calls = nil
	errBoom := InitAll(
		fakeInit{calls: &calls, name: "a"},
		fakeInit{calls: &calls, name: "b", err: errFail},
		fakeInit{calls: &calls, name: "c"},
	)
	if errBoom == nil {
		t.Fatal("expected error from second initializer")
	}
	if len(calls) != 2 {
		t.Fatalf("expected initialization to stop after failure, ran %v", calls)
	}
}

var errFail = fakeErr("boom")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
