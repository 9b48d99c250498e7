package notedb

import (
	"context"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestOpen_SchemaIdempotent tests that reopening an exported database works
func TestOpen_SchemaIdempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertEntry(&Entry{Date: "2024-01-01", Content: "hi"}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	data, err := db.Export()
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	reopened, err := Open(context.Background(), data)
	if err != nil {
		t.Fatalf("Open(snapshot) failed: %v", err)
	}
	defer reopened.Close()

	e, err := reopened.GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e == nil || e.Content != "hi" {
		t.Errorf("reopened entry = %+v, want content hi", e)
	}
}

// TestUpsertEntry_SameDateReplaces tests the date-keyed upsert
func TestUpsertEntry_SameDateReplaces(t *testing.T) {
	db := openTestDB(t)

	first := &Entry{Date: "2024-03-01", Content: "draft"}
	if err := db.UpsertEntry(first); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	second := &Entry{Date: "2024-03-01", Content: "final", UpdatedAt: time.Now().UTC()}
	if err := db.UpsertEntry(second); err != nil {
		t.Fatalf("Second UpsertEntry() failed: %v", err)
	}

	entries, err := db.ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Content != "final" {
		t.Errorf("content = %q, want final", entries[0].Content)
	}
	if entries[0].ID != first.ID {
		t.Errorf("upsert changed entry id: %s != %s", entries[0].ID, first.ID)
	}
}

// TestGetEntryByDate_Missing tests that a missing date yields nil, not error
func TestGetEntryByDate_Missing(t *testing.T) {
	db := openTestDB(t)

	e, err := db.GetEntryByDate("1999-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e != nil {
		t.Errorf("got %+v, want nil", e)
	}
}

// TestDeleteEntryByDate_Missing tests that deleting a missing entry is a no-op
func TestDeleteEntryByDate_Missing(t *testing.T) {
	db := openTestDB(t)

	if err := db.DeleteEntryByDate("1999-01-01"); err != nil {
		t.Errorf("DeleteEntryByDate() failed: %v", err)
	}
}

// TestAddSkipDay_DuplicateIdempotent tests the (kind, value) uniqueness rule
func TestAddSkipDay_DuplicateIdempotent(t *testing.T) {
	db := openTestDB(t)

	a := &SkipDay{Kind: SkipWeekday, Value: "saturday"}
	if err := db.AddSkipDay(a); err != nil {
		t.Fatalf("AddSkipDay() failed: %v", err)
	}
	b := &SkipDay{Kind: SkipWeekday, Value: "saturday"}
	if err := db.AddSkipDay(b); err != nil {
		t.Fatalf("Duplicate AddSkipDay() failed: %v", err)
	}

	skipDays, err := db.ListSkipDays()
	if err != nil {
		t.Fatalf("ListSkipDays() failed: %v", err)
	}
	if len(skipDays) != 1 {
		t.Errorf("got %d skip days, want 1", len(skipDays))
	}
}

// TestAddSkipDay_InvalidKind tests kind validation
func TestAddSkipDay_InvalidKind(t *testing.T) {
	db := openTestDB(t)

	if err := db.AddSkipDay(&SkipDay{Kind: "lunar", Value: "full-moon"}); err == nil {
		t.Error("AddSkipDay() with invalid kind succeeded, want error")
	}
}

// TestUpsertTemplate_SingleDefault tests that only one template stays default
func TestUpsertTemplate_SingleDefault(t *testing.T) {
	db := openTestDB(t)

	a := &Template{Name: "standup", IsDefault: true}
	if err := db.UpsertTemplate(a); err != nil {
		t.Fatalf("UpsertTemplate() failed: %v", err)
	}
	b := &Template{Name: "retro", IsDefault: true}
	if err := db.UpsertTemplate(b); err != nil {
		t.Fatalf("UpsertTemplate() failed: %v", err)
	}

	templates, err := db.ListTemplates()
	if err != nil {
		t.Fatalf("ListTemplates() failed: %v", err)
	}
	defaults := 0
	for _, tpl := range templates {
		if tpl.IsDefault {
			defaults++
			if tpl.Name != "retro" {
				t.Errorf("default template = %s, want retro", tpl.Name)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("got %d default templates, want 1", defaults)
	}
}

// TestPreferences_RoundTrip tests the single preferences row
func TestPreferences_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	p, err := db.GetPreferences()
	if err != nil {
		t.Fatalf("GetPreferences() failed: %v", err)
	}
	if p != nil {
		t.Fatalf("fresh database has preferences: %+v", p)
	}

	if err := db.UpsertPreferences(&Preferences{OwnerID: "u1", AIConfig: `{"model":"x"}`, Theme: "dark"}); err != nil {
		t.Fatalf("UpsertPreferences() failed: %v", err)
	}
	if err := db.UpsertPreferences(&Preferences{OwnerID: "u1", Theme: "light"}); err != nil {
		t.Fatalf("Second UpsertPreferences() failed: %v", err)
	}

	p, err = db.GetPreferences()
	if err != nil {
		t.Fatalf("GetPreferences() failed: %v", err)
	}
	if p == nil || p.Theme != "light" {
		t.Errorf("preferences = %+v, want theme light", p)
	}
}

// TestWebhooks_ReplaceWholesale tests server-authoritative replacement
func TestWebhooks_ReplaceWholesale(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertWebhook(&Webhook{Name: "local", URL: "http://a", Days: []string{"mon"}}); err != nil {
		t.Fatalf("UpsertWebhook() failed: %v", err)
	}

	incoming := []Webhook{
		{ID: "srv-1", Name: "server", URL: "http://b", Days: []string{"tue", "wed"}},
	}
	if err := db.ReplaceWebhooks(incoming); err != nil {
		t.Fatalf("ReplaceWebhooks() failed: %v", err)
	}

	webhooks, err := db.ListWebhooks()
	if err != nil {
		t.Fatalf("ListWebhooks() failed: %v", err)
	}
	if len(webhooks) != 1 || webhooks[0].ID != "srv-1" {
		t.Fatalf("webhooks = %+v, want only srv-1", webhooks)
	}
	if len(webhooks[0].Days) != 2 {
		t.Errorf("days = %v, want [tue wed]", webhooks[0].Days)
	}
}

// TestCountRows tests the aggregate used by has-data checks
func TestCountRows(t *testing.T) {
	db := openTestDB(t)

	n, err := db.CountRows()
	if err != nil {
		t.Fatalf("CountRows() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh CountRows() = %d, want 0", n)
	}

	if err := db.UpsertEntry(&Entry{Date: "2024-01-01"}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := db.AddSkipDay(&SkipDay{Kind: SkipSpecificDate, Value: "2024-12-25"}); err != nil {
		t.Fatalf("AddSkipDay() failed: %v", err)
	}

	n, err = db.CountRows()
	if err != nil {
		t.Fatalf("CountRows() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountRows() = %d, want 2", n)
	}
}

// TestExportAll_ExcludesPending tests that the dump skips replay state
func TestExportAll_ExcludesPending(t *testing.T) {
	db := openTestDB(t)

	if err := db.UpsertEntry(&Entry{Date: "2024-01-01", Content: "hi"}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := db.AddPending(EntryUpsertOp{Entry: Entry{Date: "2024-01-01"}}); err != nil {
		t.Fatalf("AddPending() failed: %v", err)
	}

	snap, err := db.ExportAll()
	if err != nil {
		t.Fatalf("ExportAll() failed: %v", err)
	}
	if len(snap.Entries) != 1 {
		t.Errorf("got %d entries, want 1", len(snap.Entries))
	}
	if snap.Preferences != nil {
		t.Errorf("preferences = %+v, want nil", snap.Preferences)
	}
}

// TestTimestampPrecision tests that sub-second ordering survives storage
func TestTimestampPrecision(t *testing.T) {
	db := openTestDB(t)

	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	if err := db.UpsertEntry(&Entry{Date: "2024-05-01", UpdatedAt: at}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	e, err := db.GetEntryByDate("2024-05-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if !e.UpdatedAt.Equal(at) {
		t.Errorf("updatedAt = %v, want %v", e.UpdatedAt, at)
	}
}
