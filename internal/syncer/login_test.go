package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/metrics"
	"github.com/jotworks/daybook/internal/notedb"
)

// seedAnonymous writes entries into the anonymous namespace and persists
// them, simulating signed-out usage before a login.
func seedAnonymous(t *testing.T, rig *testRig, entries ...notedb.Entry) {
	t.Helper()
	ctx := context.Background()
	db, err := rig.machine.AnonymousBootstrap(ctx)
	if err != nil {
		t.Fatalf("AnonymousBootstrap() failed: %v", err)
	}
	for i := range entries {
		if err := db.UpsertEntry(&entries[i]); err != nil {
			t.Fatalf("UpsertEntry() failed: %v", err)
		}
	}
	if err := rig.mgr.Persist(ctx); err != nil {
		t.Fatalf("Persist() failed: %v", err)
	}
}

// TestHandleLogin_EmptyUserID tests input validation
func TestHandleLogin_EmptyUserID(t *testing.T) {
	rig := newTestRig(t)

	err := rig.orch.HandleLogin(context.Background(), "   ", false, false)
	if !errors.Is(err, ErrInvalidLogin) {
		t.Errorf("HandleLogin() error = %v, want ErrInvalidLogin", err)
	}
}

// TestHandleLogin_NewUserMerge tests wholesale migration of anonymous data
func TestHandleLogin_NewUserMerge(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now().UTC()
	seedAnonymous(t, rig,
		notedb.Entry{Date: "2024-01-01", Content: "a", UpdatedAt: now},
		notedb.Entry{Date: "2024-01-02", Content: "b", UpdatedAt: now},
		notedb.Entry{Date: "2024-01-03", Content: "c", UpdatedAt: now},
	)

	if err := rig.orch.HandleLogin(context.Background(), "newbie", true, true); err != nil {
		t.Fatalf("HandleLogin() failed: %v", err)
	}

	// All three entries migrated into the user namespace.
	entries, err := rig.db(t).ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d migrated entries, want 3", len(entries))
	}
	for _, e := range entries {
		if e.OwnerID != "newbie" {
			t.Errorf("entry %s ownerID = %q, want newbie", e.Date, e.OwnerID)
		}
	}

	// ...and pushed to the server by the post-migration sync.
	if rig.fake.Upserts != 3 {
		t.Errorf("server received %d upserts, want 3", rig.fake.Upserts)
	}

	// The anonymous copy is discarded.
	has, err := rig.mgr.HasData(context.Background(), lifecycle.Anonymous)
	if err != nil {
		t.Fatalf("HasData(anonymous) failed: %v", err)
	}
	if has {
		t.Error("anonymous namespace still has data after merge")
	}
}

// TestHandleLogin_NewUserNoMerge tests that anonymous data stays put
// without a merge
func TestHandleLogin_NewUserNoMerge(t *testing.T) {
	rig := newTestRig(t)
	seedAnonymous(t, rig, notedb.Entry{Date: "2024-01-01", Content: "keep me"})

	if err := rig.orch.HandleLogin(context.Background(), "newbie", true, false); err != nil {
		t.Fatalf("HandleLogin() failed: %v", err)
	}

	entries, err := rig.db(t).ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("user namespace has %d entries without a merge", len(entries))
	}

	has, err := rig.mgr.HasData(context.Background(), lifecycle.Anonymous)
	if err != nil {
		t.Fatalf("HasData(anonymous) failed: %v", err)
	}
	if !has {
		t.Error("anonymous data discarded without a merge")
	}
}

// TestHandleLogin_ExistingUserMerge tests strictly-newer-wins merging
// against server state
func TestHandleLogin_ExistingUserMerge(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now().UTC()

	// Anonymous has a newer copy of Jan 1 and an older copy of Jan 2.
	seedAnonymous(t, rig,
		notedb.Entry{Date: "2024-01-01", Content: "anon newer", UpdatedAt: now},
		notedb.Entry{Date: "2024-01-02", Content: "anon older", UpdatedAt: now.Add(-2 * time.Hour)},
	)
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "server older", UpdatedAt: now.Add(-time.Hour)})
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-02", Content: "server newer", UpdatedAt: now.Add(-time.Hour)})

	if err := rig.orch.HandleLogin(context.Background(), "veteran", false, true); err != nil {
		t.Fatalf("HandleLogin() failed: %v", err)
	}

	db := rig.db(t)
	jan1, err := db.GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if jan1.Content != "anon newer" {
		t.Errorf("jan1 = %q, want the newer anonymous copy", jan1.Content)
	}
	jan2, err := db.GetEntryByDate("2024-01-02")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if jan2.Content != "server newer" {
		t.Errorf("jan2 = %q, want the newer server copy", jan2.Content)
	}

	// The winning anonymous entry was pushed back to the server.
	srv, ok := rig.fake.Entry("2024-01-01")
	if !ok || srv.Content != "anon newer" {
		t.Errorf("server jan1 = %+v, want the merged anonymous copy", srv)
	}
}

// TestHandleLogin_ExistingUserMergeTies tests that equal timestamps keep
// the server copy
func TestHandleLogin_ExistingUserMergeTies(t *testing.T) {
	rig := newTestRig(t)
	now := time.Now().UTC()

	seedAnonymous(t, rig, notedb.Entry{Date: "2024-01-01", Content: "anon", UpdatedAt: now})
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "server", UpdatedAt: now})

	if err := rig.orch.HandleLogin(context.Background(), "veteran", false, true); err != nil {
		t.Fatalf("HandleLogin() failed: %v", err)
	}

	e, err := rig.db(t).GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e.Content != "server" {
		t.Errorf("content = %q, want server (ties go to the server)", e.Content)
	}
}

// TestHandleLogin_NewUserNamespaceNotEmpty tests that rows already present
// in a supposedly new user's namespace are detected and counted, and that
// the login still completes with the rows intact
func TestHandleLogin_NewUserNamespaceNotEmpty(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Leave data behind in the user's namespace, then return to anonymous.
	rig.login(t, "resident")
	if err := rig.db(t).UpsertEntry(&notedb.Entry{Date: "2024-01-01", Content: "leftover"}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := rig.orch.HandleLogout(ctx); err != nil {
		t.Fatalf("HandleLogout() failed: %v", err)
	}

	before := testutil.ToFloat64(metrics.IntegrityAnomalies)
	if err := rig.orch.HandleLogin(ctx, "resident", true, false); err != nil {
		t.Fatalf("HandleLogin() failed: %v", err)
	}
	if got := testutil.ToFloat64(metrics.IntegrityAnomalies); got != before+1 {
		t.Errorf("anomaly counter = %v, want %v", got, before+1)
	}

	e, err := rig.db(t).GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e == nil || e.Content != "leftover" {
		t.Errorf("entry after flagged login = %+v, want content leftover", e)
	}
}

// TestHandleLogin_SecondLoginIgnored tests that a concurrent login attempt
// is dropped without corrupting state
func TestHandleLogin_SecondLoginIgnored(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Put the machine in switching by hand: a login arriving now must be
	// silently ignored.
	ok, err := rig.machine.BeginLogin(ctx, "alice", false, false)
	if err != nil || !ok {
		t.Fatalf("BeginLogin() = (%v, %v)", ok, err)
	}

	if err := rig.orch.HandleLogin(ctx, "bob", false, false); err != nil {
		t.Fatalf("HandleLogin(bob) failed: %v", err)
	}
	if rig.machine.UserID() == "bob" {
		t.Error("ignored login still authenticated bob")
	}
}

// TestHandleLogout_PersistsAndReturnsToAnonymous tests the logout flow
func TestHandleLogout_PersistsAndReturnsToAnonymous(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	db := rig.db(t)
	if err := db.UpsertEntry(&notedb.Entry{Date: "2024-06-01", Content: "keep"}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}

	if err := rig.orch.HandleLogout(context.Background()); err != nil {
		t.Fatalf("HandleLogout() failed: %v", err)
	}
	if rig.mgr.Current() != lifecycle.Anonymous {
		t.Errorf("namespace = %s, want anonymous", rig.mgr.Current())
	}

	// Logging back in restores the persisted entry.
	rig.login(t, "alice")
	e, err := rig.db(t).GetEntryByDate("2024-06-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e == nil || e.Content != "keep" {
		t.Errorf("entry after re-login = %+v, want content keep", e)
	}
}
