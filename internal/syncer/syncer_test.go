package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/jotworks/daybook/internal/blob"
	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/notedb"
	"github.com/jotworks/daybook/internal/remote"
	"github.com/jotworks/daybook/internal/session"
)

type testRig struct {
	mgr     *lifecycle.Manager
	machine *session.Machine
	fake    *remote.Fake
	orch    *Orchestrator
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	mgr := lifecycle.New(blob.NewMemStore(), nil)
	machine := session.New(mgr, nil)
	fake := remote.NewFake()
	return &testRig{
		mgr:     mgr,
		machine: machine,
		fake:    fake,
		orch:    New(mgr, machine, fake, nil),
	}
}

// login signs in without merging, as an existing user.
func (r *testRig) login(t *testing.T, userID string) {
	t.Helper()
	if err := r.orch.HandleLogin(context.Background(), userID, false, false); err != nil {
		t.Fatalf("HandleLogin(%s) failed: %v", userID, err)
	}
	if r.machine.State() != session.StateAuthenticated {
		t.Fatalf("state after login = %s, want authenticated", r.machine.State())
	}
}

func (r *testRig) db(t *testing.T) *notedb.DB {
	t.Helper()
	db, err := r.mgr.EnsureInitialized(context.Background())
	if err != nil {
		t.Fatalf("EnsureInitialized() failed: %v", err)
	}
	return db
}

// TestFullSync_NoOpWhenAnonymous tests that the anonymous namespace never
// syncs
func TestFullSync_NoOpWhenAnonymous(t *testing.T) {
	rig := newTestRig(t)
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "server"})

	res, err := rig.orch.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}
	if res.Pulled != 0 {
		t.Errorf("anonymous sync pulled %d records", res.Pulled)
	}

	entries, err := rig.db(t).ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("anonymous namespace received %d server entries", len(entries))
	}
}

// TestFullSync_PullsServerState tests a pull into an empty namespace
func TestFullSync_PullsServerState(t *testing.T) {
	rig := newTestRig(t)
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "one", UpdatedAt: time.Now().UTC()})
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-02", Content: "two", UpdatedAt: time.Now().UTC()})
	rig.login(t, "alice")

	entries, err := rig.db(t).ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Content != "one" || entries[1].Content != "two" {
		t.Errorf("entries = %+v", entries)
	}
}

// TestFullSync_Pagination tests cursor-driven entry pulls
func TestFullSync_Pagination(t *testing.T) {
	rig := newTestRig(t)
	rig.fake.PageSize = 2
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"} {
		rig.fake.SeedEntry(notedb.Entry{Date: d, Content: d, UpdatedAt: time.Now().UTC()})
	}
	rig.login(t, "alice")

	entries, err := rig.db(t).ListEntries()
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("got %d entries across pages, want 5", len(entries))
	}
}

// TestFullSync_LocalNewerWins tests last-write-wins in the local direction
func TestFullSync_LocalNewerWins(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	now := time.Now().UTC()
	db := rig.db(t)
	if err := db.UpsertEntry(&notedb.Entry{Date: "2024-01-01", Content: "local", UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "server", UpdatedAt: now.Add(-time.Hour)})

	if _, err := rig.orch.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}

	e, err := rig.db(t).GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e.Content != "local" {
		t.Errorf("content = %q, want local (strictly newer)", e.Content)
	}
}

// TestFullSync_ServerWinsTies tests that equal timestamps resolve to the
// server copy
func TestFullSync_ServerWinsTies(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	now := time.Now().UTC()
	if err := rig.db(t).UpsertEntry(&notedb.Entry{Date: "2024-01-01", Content: "local", UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "server", UpdatedAt: now})

	if _, err := rig.orch.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}

	e, err := rig.db(t).GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e.Content != "server" {
		t.Errorf("content = %q, want server (ties go to the server)", e.Content)
	}
}

// TestFullSync_TombstoneDeletesLocal tests remote-delete propagation
func TestFullSync_TombstoneDeletesLocal(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	if err := rig.db(t).UpsertEntry(&notedb.Entry{Date: "2024-01-01", Content: "doomed"}); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	at := time.Now().UTC().Add(time.Hour)
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", UpdatedAt: at, DeletedAt: &at})

	if _, err := rig.orch.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}

	e, err := rig.db(t).GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if e != nil {
		t.Errorf("entry survived a tombstone: %+v", e)
	}
}

// TestReplay_PushesQueuedOps tests that queued ops reach the server and
// leave the queue
func TestReplay_PushesQueuedOps(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	db := rig.db(t)
	e := notedb.Entry{Date: "2024-01-01", Content: "queued", UpdatedAt: time.Now().UTC()}
	if err := db.UpsertEntry(&e); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := db.AddPending(notedb.EntryUpsertOp{Entry: e}); err != nil {
		t.Fatalf("AddPending() failed: %v", err)
	}

	res, err := rig.orch.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}
	if res.Replayed != 1 {
		t.Errorf("replayed = %d, want 1", res.Replayed)
	}
	if !res.RePulled {
		t.Error("sync did not re-pull after a successful replay")
	}

	if _, ok := rig.fake.Entry("2024-01-01"); !ok {
		t.Error("queued entry never reached the server")
	}
	n, err := rig.db(t).CountPending()
	if err != nil {
		t.Fatalf("CountPending() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("queue holds %d ops after replay, want 0", n)
	}
}

// TestReplay_OfflineKeepsQueue tests that failed pushes stay queued and
// succeed after reconnect
func TestReplay_OfflineKeepsQueue(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	db := rig.db(t)
	e := notedb.Entry{Date: "2024-01-01", Content: "offline edit", UpdatedAt: time.Now().UTC()}
	if err := db.UpsertEntry(&e); err != nil {
		t.Fatalf("UpsertEntry() failed: %v", err)
	}
	if err := db.AddPending(notedb.EntryUpsertOp{Entry: e}); err != nil {
		t.Fatalf("AddPending() failed: %v", err)
	}

	rig.fake.SetOffline(true)
	res, err := rig.orch.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending() failed: %v", err)
	}
	if res.Replayed != 0 {
		t.Errorf("replayed = %d while offline, want 0", res.Replayed)
	}
	if rig.orch.Online() {
		t.Error("orchestrator still online after ErrUnavailable")
	}
	n, _ := rig.db(t).CountPending()
	if n != 1 {
		t.Fatalf("queue = %d after offline replay, want 1", n)
	}

	rig.fake.SetOffline(false)
	rig.orch.SetOnline(true)
	res, err = rig.orch.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending() after reconnect failed: %v", err)
	}
	if res.Replayed != 1 {
		t.Errorf("replayed = %d after reconnect, want 1", res.Replayed)
	}
	if _, ok := rig.fake.Entry("2024-01-01"); !ok {
		t.Error("entry never reached the server after reconnect")
	}
}

// TestReplay_OfflineDeleteReachesServer tests that a delete queued while
// offline lands on the server as a tombstone after reconnect, and that the
// entry stays absent locally through the re-pull
func TestReplay_OfflineDeleteReachesServer(t *testing.T) {
	rig := newTestRig(t)
	rig.fake.SeedEntry(notedb.Entry{Date: "2024-01-01", Content: "doomed", UpdatedAt: time.Now().UTC().Add(-time.Hour)})
	rig.login(t, "alice")

	db := rig.db(t)
	if err := db.DeleteEntryByDate("2024-01-01"); err != nil {
		t.Fatalf("DeleteEntryByDate() failed: %v", err)
	}
	if err := db.AddPending(notedb.EntryDeleteOp{Date: "2024-01-01", DeletedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("AddPending() failed: %v", err)
	}

	rig.fake.SetOffline(true)
	res, err := rig.orch.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending() failed: %v", err)
	}
	if res.Replayed != 0 {
		t.Errorf("replayed = %d while offline, want 0", res.Replayed)
	}
	if n, _ := rig.db(t).CountPending(); n != 1 {
		t.Fatalf("queue = %d after offline replay, want 1", n)
	}

	rig.fake.SetOffline(false)
	rig.orch.SetOnline(true)
	res, err = rig.orch.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}
	if res.Replayed != 1 {
		t.Errorf("replayed = %d after reconnect, want 1", res.Replayed)
	}

	e, ok := rig.fake.Entry("2024-01-01")
	if !ok || !e.Tombstone() {
		t.Errorf("server record = (%+v, %v), want a tombstone", e, ok)
	}
	local, err := rig.db(t).GetEntryByDate("2024-01-01")
	if err != nil {
		t.Fatalf("GetEntryByDate() failed: %v", err)
	}
	if local != nil {
		t.Errorf("entry resurrected locally after re-pull: %+v", local)
	}
}

// TestFullSync_OfflinePullCountsFailure tests that an unreachable server
// marks the orchestrator offline instead of erroring out
func TestFullSync_OfflinePullCountsFailure(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	rig.fake.SetOffline(true)
	res, err := rig.orch.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}
	if res.Failed == 0 {
		t.Error("offline sync reported no failures")
	}
	if rig.orch.Online() {
		t.Error("orchestrator still online after failed pulls")
	}
}

// TestPullWebhooks_ServerAuthoritative tests the wholesale webhook replace
func TestPullWebhooks_ServerAuthoritative(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	db := rig.db(t)
	if err := db.UpsertWebhook(&notedb.Webhook{Name: "local-only", URL: "http://l"}); err != nil {
		t.Fatalf("UpsertWebhook() failed: %v", err)
	}
	if _, err := rig.fake.SaveWebhook(context.Background(), notedb.Webhook{Name: "canonical", URL: "http://s"}); err != nil {
		t.Fatalf("SaveWebhook() failed: %v", err)
	}

	if _, err := rig.orch.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}

	webhooks, err := rig.db(t).ListWebhooks()
	if err != nil {
		t.Fatalf("ListWebhooks() failed: %v", err)
	}
	if len(webhooks) != 1 || webhooks[0].Name != "canonical" {
		t.Errorf("webhooks = %+v, want only canonical", webhooks)
	}
}

// TestPullSkipDays_Union tests insert-if-absent skip day merging
func TestPullSkipDays_Union(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	if err := rig.db(t).AddSkipDay(&notedb.SkipDay{Kind: notedb.SkipWeekday, Value: "saturday"}); err != nil {
		t.Fatalf("AddSkipDay() failed: %v", err)
	}
	if _, err := rig.fake.AddSkipDay(context.Background(), notedb.SkipDay{Kind: notedb.SkipWeekday, Value: "sunday"}); err != nil {
		t.Fatalf("fake AddSkipDay() failed: %v", err)
	}

	if _, err := rig.orch.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}

	skipDays, err := rig.db(t).ListSkipDays()
	if err != nil {
		t.Fatalf("ListSkipDays() failed: %v", err)
	}
	if len(skipDays) != 2 {
		t.Errorf("got %d skip days, want 2 (union)", len(skipDays))
	}
}

// TestLastResult_ClearedOnLogout tests per-user sync state hygiene
func TestLastResult_ClearedOnLogout(t *testing.T) {
	rig := newTestRig(t)
	rig.login(t, "alice")

	if _, err := rig.orch.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync() failed: %v", err)
	}
	if rig.orch.LastResult() == nil {
		t.Fatal("LastResult() = nil after a sync")
	}

	if err := rig.orch.HandleLogout(context.Background()); err != nil {
		t.Fatalf("HandleLogout() failed: %v", err)
	}
	if rig.orch.LastResult() != nil {
		t.Error("LastResult() survived logout")
	}
}
