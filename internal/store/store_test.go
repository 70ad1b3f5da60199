package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err == nil {
		t.Fatal("Migrate() on a dirty schema should fail")
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	db := testDB(t)
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var sync int
	if err := db.QueryRow(`PRAGMA synchronous`).Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", sync)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	e := &OutboxEntry{ClientMsgID: "tmp-1", TicketID: 7, ContactChannelID: 70, Body: "hello"}
	if err := db.QueueOutbox(e); err != nil {
		t.Fatal(err)
	}
	if e.ID == 0 || e.Status != OutboxPending {
		t.Errorf("queued entry = %+v", e)
	}

	if err := db.MarkOutboxFailed("tmp-1", "boom"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetOutbox("tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != OutboxFailed || got.ErrorMessage != "boom" {
		t.Errorf("after failure = %+v", got)
	}

	if err := db.MarkOutboxRetrying("tmp-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetOutbox("tmp-1")
	if got.Status != OutboxPending || got.Attempts != 2 || got.ErrorMessage != "" {
		t.Errorf("after retry = %+v", got)
	}

	if err := db.MarkOutboxSent("tmp-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxConfirmed("tmp-1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetOutbox("tmp-1")
	if got.Status != OutboxConfirmed || got.ServerMsgID != "srv-1" {
		t.Errorf("after confirm = %+v", got)
	}
}

// The echo can confirm a send before the backend's reply is recorded.
func TestConfirmedEntryKeepsStatus(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "tmp-1", TicketID: 1, Body: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxConfirmed("tmp-1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("tmp-1"); err != nil {
		t.Errorf("MarkOutboxSent(confirmed) error = %v, want nil", err)
	}
	if err := db.MarkOutboxFailed("tmp-1", "late timeout"); err != nil {
		t.Errorf("MarkOutboxFailed(confirmed) error = %v, want nil", err)
	}

	got, _ := db.GetOutbox("tmp-1")
	if got.Status != OutboxConfirmed || got.ServerMsgID != "srv-1" || got.ErrorMessage != "" {
		t.Errorf("entry = %+v, want confirmed as srv-1", got)
	}
	unconfirmed, err := db.UnconfirmedOutbox(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(unconfirmed) != 0 {
		t.Errorf("UnconfirmedOutbox(1) = %+v, want none", unconfirmed)
	}
}

func TestRetryRequiresFailedEntry(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "tmp-1", TicketID: 1, Body: "x"}); err != nil {
		t.Fatal(err)
	}
	err := db.MarkOutboxRetrying("tmp-1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("MarkOutboxRetrying(pending) error = %v, want ErrNoRows", err)
	}
}

func TestMarkUnknownEntry(t *testing.T) {
	db := testDB(t)
	if err := db.MarkOutboxSent("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("MarkOutboxSent(missing) error = %v, want ErrNoRows", err)
	}
	got, err := db.GetOutbox("missing")
	if err != nil || got != nil {
		t.Errorf("GetOutbox(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestUnconfirmedOutbox(t *testing.T) {
	db := testDB(t)
	entries := []*OutboxEntry{
		{ClientMsgID: "a", TicketID: 1, Body: "a", CreatedAt: 100},
		{ClientMsgID: "b", TicketID: 1, Body: "b", CreatedAt: 200},
		{ClientMsgID: "c", TicketID: 1, Body: "c", CreatedAt: 300},
		{ClientMsgID: "d", TicketID: 2, Body: "d", CreatedAt: 400},
	}
	for _, e := range entries {
		if err := db.QueueOutbox(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkOutboxConfirmed("b", "srv-b"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("c", "x"); err != nil {
		t.Fatal(err)
	}

	got, err := db.UnconfirmedOutbox(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ClientMsgID != "a" || got[1].ClientMsgID != "c" {
		t.Errorf("UnconfirmedOutbox(1) = %+v, want [a c]", got)
	}
}

func TestPruneOutbox(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "a", TicketID: 1, Body: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxConfirmed("a", "s"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(&OutboxEntry{ClientMsgID: "b", TicketID: 1, Body: "b"}); err != nil {
		t.Fatal(err)
	}

	n, err := db.PruneOutbox(1 << 62)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1 (only confirmed)", n)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)

	seq, err := db.LastSeq(9)
	if err != nil || seq != 0 {
		t.Errorf("LastSeq(unset) = %d, %v; want 0, nil", seq, err)
	}
	if err := db.SaveLastSeq(9, 41); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveLastSeq(9, 42); err != nil {
		t.Fatal(err)
	}
	seq, err = db.LastSeq(9)
	if err != nil || seq != 42 {
		t.Errorf("LastSeq = %d, %v; want 42", seq, err)
	}

	if _, ok, _ := db.Checkpoint("other"); ok {
		t.Error("Checkpoint(other) reported ok for unset key")
	}
}
