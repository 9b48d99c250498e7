package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/metrics"
	"github.com/jotworks/daybook/internal/notedb"
	"github.com/jotworks/daybook/internal/session"
)

// HandleLogin runs the login sync flow.
//
//   - New user, merge: the anonymous data is captured before the switch,
//     migrated into the (expected-empty) user database, queued for push,
//     and a full sync drains the queue to the server.
//   - New user, no merge: switch and full-sync empty state.
//   - Existing user: switch and pull only. Pushing a stale local snapshot
//     could shadow real server data, so nothing is pushed unless a merge
//     queues it explicitly.
//   - Existing user, merge: after the pull, each anonymous entry is kept
//     only if strictly newer than the server/local copy (the server copy
//     wins equal timestamps); winners are queued for push and replayed.
//
// In every merge path the anonymous namespace's stored data is discarded
// once captured. A login superseded by a newer switch aborts silently.
func (o *Orchestrator) HandleLogin(ctx context.Context, userID string, isNewUser, mergeAnonymous bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidLogin
	}

	// Capture anonymous data before the switch closes its database.
	var captured *notedb.Snapshot
	if mergeAnonymous && o.machine.State() == session.StateAnonymous {
		db, err := o.mgr.EnsureInitialized(ctx)
		if err != nil {
			return err
		}
		captured, err = db.ExportAll()
		if err != nil {
			return err
		}
	}

	ok, err := o.machine.BeginLogin(ctx, userID, isNewUser, mergeAnonymous)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	db, err := o.mgr.EnsureInitialized(ctx)
	if err != nil {
		return err
	}

	if isNewUser {
		if n, err := db.CountRows(); err == nil && n > 0 {
			// A namespace expected empty carrying rows means a leaked
			// cross-namespace read somewhere upstream.
			metrics.IntegrityAnomalies.Inc()
			o.logger.Printf("CRITICAL: new user namespace %s contains %d existing rows", userID, n)
		}
		if captured != nil {
			if err := o.migrateSnapshot(ctx, db, userID, captured); err != nil {
				return err
			}
		}
		res := o.syncRun(ctx, db)
		o.mu.Lock()
		o.lastResult = res
		o.mu.Unlock()
	} else {
		res := &Result{Started: time.Now()}
		o.pullAll(ctx, db, res)
		if captured != nil {
			o.mergeSnapshot(db, userID, captured, res)
			o.replayPending(ctx, db, res)
		}
		res.Duration = time.Since(res.Started)
		o.mu.Lock()
		o.lastResult = res
		o.mu.Unlock()
	}

	if captured != nil {
		if err := o.mgr.ClearData(ctx, lifecycle.Anonymous); err != nil {
			o.logger.Printf("WARNING: failed to discard anonymous data: %v", err)
		}
	}

	if err := o.mgr.Persist(ctx); err != nil {
		o.logger.Printf("WARNING: persist after login failed: %v", err)
	}

	o.machine.CompleteLogin(userID)
	return nil
}

// migrateSnapshot copies captured anonymous data into an empty user
// database and queues everything for push. Preferences have no pending-op
// kind; they are pushed directly, best effort, and otherwise win later
// pulls by timestamp.
func (o *Orchestrator) migrateSnapshot(ctx context.Context, db *notedb.DB, userID string, snap *notedb.Snapshot) error {
	for i := range snap.Entries {
		e := snap.Entries[i]
		e.OwnerID = userID
		if err := db.UpsertEntry(&e); err != nil {
			return err
		}
		if err := db.AddPending(notedb.EntryUpsertOp{Entry: e}); err != nil {
			return err
		}
	}
	for i := range snap.SkipDays {
		sd := snap.SkipDays[i]
		sd.OwnerID = userID
		if err := db.AddSkipDay(&sd); err != nil {
			return err
		}
		if err := db.AddPending(notedb.SkipDayOp{Action: notedb.ActionCreate, SkipDay: sd}); err != nil {
			return err
		}
	}
	for i := range snap.Templates {
		t := snap.Templates[i]
		t.OwnerID = userID
		if err := db.UpsertTemplate(&t); err != nil {
			return err
		}
		if err := db.AddPending(notedb.TemplateOp{Action: notedb.ActionCreate, Template: t}); err != nil {
			return err
		}
	}
	if snap.Preferences != nil {
		p := *snap.Preferences
		p.OwnerID = userID
		if err := db.UpsertPreferences(&p); err != nil {
			return err
		}
		if _, err := o.client.SavePreferences(ctx, p); err != nil {
			o.logger.Printf("WARNING: failed to push migrated preferences: %v", err)
		}
	}
	o.logger.Printf("Migrated %d entries, %d skip days, %d templates from anonymous namespace",
		len(snap.Entries), len(snap.SkipDays), len(snap.Templates))
	return nil
}

// mergeSnapshot merges captured anonymous entries into an existing user's
// state after a pull: an anonymous entry wins only when strictly newer
// than the local (server-reconciled) copy. Winners are queued for push.
func (o *Orchestrator) mergeSnapshot(db *notedb.DB, userID string, snap *notedb.Snapshot, res *Result) {
	kept := 0
	for i := range snap.Entries {
		e := snap.Entries[i]
		local, err := db.GetEntryByDate(e.Date)
		if err != nil {
			o.logger.Printf("WARNING: merge lookup for %s failed: %v", e.Date, err)
			res.Failed++
			continue
		}
		if local != nil && !e.UpdatedAt.After(local.UpdatedAt) {
			continue
		}
		e.OwnerID = userID
		if err := db.UpsertEntry(&e); err != nil {
			o.logger.Printf("WARNING: merge upsert for %s failed: %v", e.Date, err)
			res.Failed++
			continue
		}
		if err := db.AddPending(notedb.EntryUpsertOp{Entry: e}); err != nil {
			o.logger.Printf("WARNING: failed to queue merged entry %s: %v", e.Date, err)
			res.Failed++
			continue
		}
		kept++
	}
	if kept > 0 {
		o.logger.Printf("Merge kept %d anonymous entries over server state", kept)
	}
}

// HandleLogout persists, clears in-memory sync state, and hands control
// back to the state machine to switch to the anonymous namespace.
func (o *Orchestrator) HandleLogout(ctx context.Context) error {
	ok, err := o.machine.BeginLogout(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return o.machine.CompleteLogout(ctx)
}
