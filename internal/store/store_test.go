package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mailsweep/mailsweep/internal/aggregate"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/internal/testutil"
)

func sampleSender(address string, count int) *aggregate.SenderRecord {
	return &aggregate.SenderRecord{
		Address:     address,
		DisplayName: "Sample Sender",
		Count:       count,
		UnreadCount: 1,
		HasUnread:   true,
		LastSeen:    time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	st := testutil.NewTestStore(t)

	version, err := st.SchemaVersion()
	testutil.MustNoErr(t, err, "SchemaVersion")
	if want := 2; version != want {
		t.Errorf("schema version = %d, want %d", version, want)
	}

	// Both tables must exist.
	for _, table := range []string{"senders", "action_log"} {
		var count int
		err := st.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		testutil.MustNoErr(t, err, "count "+table)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	st, err := store.Open(dbPath)
	testutil.MustNoErr(t, err, "first open")
	testutil.MustNoErr(t, st.SaveSenders("me@example.com", []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
	}), "SaveSenders")
	testutil.MustNoErr(t, st.Close(), "close")

	st, err = store.Open(dbPath)
	testutil.MustNoErr(t, err, "second open")
	defer st.Close()

	version, err := st.SchemaVersion()
	testutil.MustNoErr(t, err, "SchemaVersion")
	if version != 2 {
		t.Errorf("schema version after reopen = %d, want 2", version)
	}

	records, err := st.ListSenders("me@example.com")
	testutil.MustNoErr(t, err, "ListSenders")
	if len(records) != 1 {
		t.Fatalf("got %d senders after reopen, want 1", len(records))
	}
	if records[0].Address != "news@shop.example" {
		t.Errorf("address = %q, want %q", records[0].Address, "news@shop.example")
	}
}

func TestGetStats(t *testing.T) {
	st := testutil.NewTestStore(t)

	stats, err := st.GetStats()
	testutil.MustNoErr(t, err, "GetStats empty")
	if stats.SenderCount != 0 || stats.JobCount != 0 {
		t.Errorf("empty stats = %+v, want zero counts", stats)
	}

	testutil.MustNoErr(t, st.SaveSenders("me@example.com", []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
		sampleSender("promo@shop.example", 2),
	}), "SaveSenders")
	testutil.MustNoErr(t, st.RecordJob("job-1", "me@example.com", "analyze"), "RecordJob")

	stats, err = st.GetStats()
	testutil.MustNoErr(t, err, "GetStats populated")
	if stats.SenderCount != 2 {
		t.Errorf("SenderCount = %d, want 2", stats.SenderCount)
	}
	if stats.JobCount != 1 {
		t.Errorf("JobCount = %d, want 1", stats.JobCount)
	}
	if stats.DatabaseSize <= 0 {
		t.Errorf("DatabaseSize = %d, want > 0", stats.DatabaseSize)
	}
}
