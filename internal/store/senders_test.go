package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mailsweep/mailsweep/internal/aggregate"
	"github.com/mailsweep/mailsweep/internal/store"
	"github.com/mailsweep/mailsweep/internal/testutil"
)

const account = "me@example.com"

func TestSaveAndListSenders(t *testing.T) {
	st := testutil.NewTestStore(t)

	records := []*aggregate.SenderRecord{
		{
			Address:      "deals@shop.example",
			DisplayName:  "Shop Deals",
			NameVariants: []string{"Shop"},
			Count:        12,
			UnreadCount:  3,
			HasUnread:    true,
			LastSeen:     time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			Unsubscribe: aggregate.UnsubscribeMethod{
				URL:         "https://shop.example/unsub",
				MailTo:      "unsub+123@shop.example",
				MailSubject: "remove",
				OneClick:    true,
			},
		},
		{
			Address:  "news@paper.example",
			Count:    12,
			LastSeen: time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC),
		},
		{
			Address: "rare@misc.example",
			Count:   1,
		},
	}
	testutil.MustNoErr(t, st.SaveSenders(account, records), "SaveSenders")

	got, err := st.ListSenders(account)
	testutil.MustNoErr(t, err, "ListSenders")

	// Busiest first, ties broken by address.
	wantOrder := []string{"deals@shop.example", "news@paper.example", "rare@misc.example"}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d senders, want %d", len(got), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got[i].Address != want {
			t.Errorf("order[%d] = %q, want %q", i, got[i].Address, want)
		}
	}

	if diff := cmp.Diff(records[0], got[0]); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestListSendersScopedToAccount(t *testing.T) {
	st := testutil.NewTestStore(t)

	testutil.MustNoErr(t, st.SaveSenders("a@example.com", []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
	}), "save account a")
	testutil.MustNoErr(t, st.SaveSenders("b@example.com", []*aggregate.SenderRecord{
		sampleSender("promo@shop.example", 9),
	}), "save account b")

	got, err := st.ListSenders("a@example.com")
	testutil.MustNoErr(t, err, "ListSenders")
	if len(got) != 1 || got[0].Address != "news@shop.example" {
		t.Errorf("account a senders = %+v, want only news@shop.example", got)
	}
}

func TestSaveSendersReplacesCounts(t *testing.T) {
	st := testutil.NewTestStore(t)

	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 10),
	}), "first save")

	// A fresh analysis recounts the mailbox: counts replace, never add.
	rec := sampleSender("news@shop.example", 3)
	rec.UnreadCount = 0
	rec.HasUnread = false
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{rec}), "second save")

	got, err := st.GetSender(account, "news@shop.example")
	testutil.MustNoErr(t, err, "GetSender")
	if got == nil {
		t.Fatal("sender not found")
	}
	if got.Count != 3 {
		t.Errorf("Count = %d, want 3", got.Count)
	}
	if got.HasUnread {
		t.Error("HasUnread = true, want false")
	}
}

func TestSetEnrichedURLWriteOnce(t *testing.T) {
	st := testutil.NewTestStore(t)
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
	}), "SaveSenders")

	testutil.MustNoErr(t, st.SetEnrichedURL(account, "news@shop.example", "https://shop.example/opt-out"), "first set")

	// Recording the identical value again succeeds.
	testutil.MustNoErr(t, st.SetEnrichedURL(account, "news@shop.example", "https://shop.example/opt-out"), "same value")

	// A different value is rejected.
	err := st.SetEnrichedURL(account, "news@shop.example", "https://evil.example/other")
	if !errors.Is(err, store.ErrEnrichedURLSet) {
		t.Errorf("overwrite error = %v, want ErrEnrichedURLSet", err)
	}

	got, err := st.GetSender(account, "news@shop.example")
	testutil.MustNoErr(t, err, "GetSender")
	if got.Unsubscribe.EnrichedURL != "https://shop.example/opt-out" {
		t.Errorf("EnrichedURL = %q, want the original", got.Unsubscribe.EnrichedURL)
	}
}

func TestSetEnrichedURLUnknownSender(t *testing.T) {
	st := testutil.NewTestStore(t)

	err := st.SetEnrichedURL(account, "nobody@example.com", "https://x.example/u")
	if !errors.Is(err, store.ErrUnknownSender) {
		t.Errorf("error = %v, want ErrUnknownSender", err)
	}
}

func TestSaveSendersPreservesEnriched(t *testing.T) {
	st := testutil.NewTestStore(t)
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
	}), "first save")
	testutil.MustNoErr(t, st.SetEnrichedURL(account, "news@shop.example", "https://shop.example/opt-out"), "enrich")

	// A later analysis run knows nothing about the enrichment.
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 7),
	}), "second save")

	got, err := st.GetSender(account, "news@shop.example")
	testutil.MustNoErr(t, err, "GetSender")
	if got.Count != 7 {
		t.Errorf("Count = %d, want 7", got.Count)
	}
	if got.Unsubscribe.EnrichedURL != "https://shop.example/opt-out" {
		t.Errorf("EnrichedURL = %q, want preserved", got.Unsubscribe.EnrichedURL)
	}
}

func TestSaveSendersBackfillsEnriched(t *testing.T) {
	st := testutil.NewTestStore(t)

	rec := sampleSender("news@shop.example", 4)
	rec.Unsubscribe.EnrichedURL = "https://shop.example/from-body"
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{rec}), "first save")

	got, err := st.GetSender(account, "news@shop.example")
	testutil.MustNoErr(t, err, "GetSender")
	if got.Unsubscribe.EnrichedURL != "https://shop.example/from-body" {
		t.Errorf("EnrichedURL = %q, want backfilled", got.Unsubscribe.EnrichedURL)
	}

	// An enriched URL arriving in a later save cannot displace it.
	rec2 := sampleSender("news@shop.example", 5)
	rec2.Unsubscribe.EnrichedURL = "https://shop.example/other"
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{rec2}), "second save")

	got, err = st.GetSender(account, "news@shop.example")
	testutil.MustNoErr(t, err, "GetSender after second save")
	if got.Unsubscribe.EnrichedURL != "https://shop.example/from-body" {
		t.Errorf("EnrichedURL = %q, want the first value", got.Unsubscribe.EnrichedURL)
	}
}

func TestDeleteSender(t *testing.T) {
	st := testutil.NewTestStore(t)
	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
	}), "SaveSenders")

	testutil.MustNoErr(t, st.DeleteSender(account, "news@shop.example"), "DeleteSender")

	got, err := st.GetSender(account, "news@shop.example")
	testutil.MustNoErr(t, err, "GetSender")
	if got != nil {
		t.Errorf("sender still present after delete: %+v", got)
	}

	// Deleting a missing row is not an error.
	testutil.MustNoErr(t, st.DeleteSender(account, "news@shop.example"), "repeat delete")
}

func TestGetSenderMissing(t *testing.T) {
	st := testutil.NewTestStore(t)

	got, err := st.GetSender(account, "nobody@example.com")
	testutil.MustNoErr(t, err, "GetSender")
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestOnChangeFiresOnSenderMutations(t *testing.T) {
	st := testutil.NewTestStore(t)

	var fired int
	st.SetOnChange(func() { fired++ })

	testutil.MustNoErr(t, st.SaveSenders(account, []*aggregate.SenderRecord{
		sampleSender("news@shop.example", 4),
	}), "SaveSenders")
	if fired != 1 {
		t.Errorf("after save: fired = %d, want 1", fired)
	}

	testutil.MustNoErr(t, st.SetEnrichedURL(account, "news@shop.example", "https://shop.example/u"), "SetEnrichedURL")
	if fired != 2 {
		t.Errorf("after enrich: fired = %d, want 2", fired)
	}

	testutil.MustNoErr(t, st.DeleteSender(account, "news@shop.example"), "DeleteSender")
	if fired != 3 {
		t.Errorf("after delete: fired = %d, want 3", fired)
	}

	// A delete that removes nothing stays quiet.
	testutil.MustNoErr(t, st.DeleteSender(account, "news@shop.example"), "empty delete")
	if fired != 3 {
		t.Errorf("after empty delete: fired = %d, want 3", fired)
	}
}
