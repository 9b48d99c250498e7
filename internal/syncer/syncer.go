// Package syncer reconciles local and server state. It is the only
// component that talks to the remote server.
//
// Conflict resolution is last-write-wins on updatedAt everywhere, with the
// server winning exact ties. Deletes travel as tombstones carrying their
// own deletedAt so they order correctly against concurrent edits. Webhooks
// are the one exception: the server is fully authoritative and local rows
// are replaced wholesale on pull (a queued-but-unsent webhook edit that
// races a pull is re-applied from the pending queue during replay, and is
// only lost if that replay permanently fails).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/metrics"
	"github.com/jotworks/daybook/internal/notedb"
	"github.com/jotworks/daybook/internal/remote"
	"github.com/jotworks/daybook/internal/session"
)

// ErrInvalidLogin is returned for malformed login input.
var ErrInvalidLogin = errors.New("invalid login input")

// Result summarizes one sync run. Failures are counted, not thrown: a
// partial sync reports partial success.
type Result struct {
	Pulled   int           `json:"pulled"`
	Applied  int           `json:"applied"`
	Replayed int           `json:"replayed"`
	Failed   int           `json:"failed"`
	RePulled bool          `json:"rePulled"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Orchestrator drives full syncs, pending replay, and the login/logout
// sync flows.
type Orchestrator struct {
	mgr     *lifecycle.Manager
	machine *session.Machine
	client  remote.Client
	logger  *log.Logger

	mu         sync.Mutex
	online     bool
	lastResult *Result
}

// New creates an Orchestrator and subscribes it to session events.
//
// If logger is nil, a default logger writing to stderr is used.
func New(mgr *lifecycle.Manager, machine *session.Machine, client remote.Client, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	o := &Orchestrator{
		mgr:     mgr,
		machine: machine,
		client:  client,
		logger:  logger,
		online:  true,
	}
	machine.Subscribe(func(ev session.Event) {
		if ev.Kind == session.EventLogoutCompleted {
			o.mu.Lock()
			o.lastResult = nil
			o.mu.Unlock()
		}
	})
	return o
}

// SetOnline records the connectivity status reported by the host.
func (o *Orchestrator) SetOnline(online bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.online = online
}

// Online returns the last known connectivity status.
func (o *Orchestrator) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

// LastResult returns the most recent sync result, or nil.
func (o *Orchestrator) LastResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResult
}

// FullSync runs pull, replay, and a conditional re-pull against the
// current namespace. It is a no-op outside the authenticated state: the
// anonymous namespace never syncs.
func (o *Orchestrator) FullSync(ctx context.Context) (*Result, error) {
	if o.machine.State() != session.StateAuthenticated {
		return &Result{Started: time.Now()}, nil
	}
	db, err := o.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	res := o.syncRun(ctx, db)
	if err := o.mgr.Persist(ctx); err != nil {
		o.logger.Printf("WARNING: persist after sync failed: %v", err)
	}

	o.mu.Lock()
	o.lastResult = res
	o.mu.Unlock()
	return res, nil
}

// syncRun is the pull → replay → conditional re-pull cycle.
//
// Pulling first means replay pushes on top of the latest known server
// state; the re-pull after a successful replay picks up server-assigned
// ids and side effects before the queue is considered drained.
func (o *Orchestrator) syncRun(ctx context.Context, db *notedb.DB) *Result {
	res := &Result{Started: time.Now()}

	o.pullAll(ctx, db, res)
	o.replayPending(ctx, db, res)
	if res.Replayed > 0 {
		res.RePulled = true
		o.pullAll(ctx, db, res)
	}

	res.Duration = time.Since(res.Started)
	o.logger.Printf("Sync complete: pulled=%d applied=%d replayed=%d failed=%d repulled=%v",
		res.Pulled, res.Applied, res.Replayed, res.Failed, res.RePulled)
	return res
}

// pullAll fetches all remote state and applies it locally. Failures are
// counted into res and logged; they never abort the run.
func (o *Orchestrator) pullAll(ctx context.Context, db *notedb.DB, res *Result) {
	o.pullEntries(ctx, db, res)
	o.pullSkipDays(ctx, db, res)
	o.pullTemplates(ctx, db, res)
	o.pullPreferences(ctx, db, res)
	o.pullWebhooks(ctx, db, res)
}

func (o *Orchestrator) pullEntries(ctx context.Context, db *notedb.DB, res *Result) {
	cursor := ""
	for {
		page, err := o.client.ListEntries(ctx, cursor, true)
		if err != nil {
			o.failPull(res, "entries", err)
			return
		}
		for i := range page.Entries {
			res.Pulled++
			applied, err := o.applyRemoteEntry(db, &page.Entries[i])
			if err != nil {
				o.logger.Printf("WARNING: failed to apply entry %s: %v", page.Entries[i].Date, err)
				res.Failed++
				continue
			}
			if applied {
				res.Applied++
			}
		}
		if page.NextCursor == "" {
			return
		}
		cursor = page.NextCursor
	}
}

// applyRemoteEntry applies one pulled record. Tombstones delete the local
// copy if present; live records win unless the local copy is strictly
// newer (server wins ties).
func (o *Orchestrator) applyRemoteEntry(db *notedb.DB, e *notedb.Entry) (bool, error) {
	local, err := db.GetEntryByDate(e.Date)
	if err != nil {
		return false, err
	}

	if e.Tombstone() {
		if local == nil {
			return false, nil
		}
		return true, db.DeleteEntryByDate(e.Date)
	}

	if local != nil && local.UpdatedAt.After(e.UpdatedAt) {
		return false, nil
	}
	cp := *e
	return true, db.UpsertEntry(&cp)
}

func (o *Orchestrator) pullSkipDays(ctx context.Context, db *notedb.DB, res *Result) {
	skipDays, err := o.client.ListSkipDays(ctx)
	if err != nil {
		o.failPull(res, "skip days", err)
		return
	}
	for i := range skipDays {
		res.Pulled++
		cp := skipDays[i]
		if err := db.AddSkipDay(&cp); err != nil {
			o.logger.Printf("WARNING: failed to apply skip day %s/%s: %v", cp.Kind, cp.Value, err)
			res.Failed++
			continue
		}
		res.Applied++
	}
}

func (o *Orchestrator) pullTemplates(ctx context.Context, db *notedb.DB, res *Result) {
	templates, err := o.client.ListTemplates(ctx)
	if err != nil {
		o.failPull(res, "templates", err)
		return
	}
	for i := range templates {
		res.Pulled++
		t := templates[i]
		local, err := db.GetTemplate(t.ID)
		if err == nil && local != nil && local.UpdatedAt.After(t.UpdatedAt) {
			continue
		}
		if err := db.UpsertTemplate(&t); err != nil {
			o.logger.Printf("WARNING: failed to apply template %s: %v", t.Name, err)
			res.Failed++
			continue
		}
		res.Applied++
	}
}

func (o *Orchestrator) pullPreferences(ctx context.Context, db *notedb.DB, res *Result) {
	prefs, err := o.client.GetPreferences(ctx)
	if err != nil {
		o.failPull(res, "preferences", err)
		return
	}
	if prefs == nil {
		return
	}
	res.Pulled++
	local, err := db.GetPreferences()
	if err == nil && local != nil && local.UpdatedAt.After(prefs.UpdatedAt) {
		return
	}
	if err := db.UpsertPreferences(prefs); err != nil {
		o.logger.Printf("WARNING: failed to apply preferences: %v", err)
		res.Failed++
		return
	}
	res.Applied++
}

func (o *Orchestrator) pullWebhooks(ctx context.Context, db *notedb.DB, res *Result) {
	webhooks, err := o.client.ListWebhooks(ctx)
	if err != nil {
		o.failPull(res, "webhooks", err)
		return
	}
	res.Pulled += len(webhooks)
	if err := db.ReplaceWebhooks(webhooks); err != nil {
		o.logger.Printf("WARNING: failed to replace webhooks: %v", err)
		res.Failed++
		return
	}
	res.Applied += len(webhooks)
}

func (o *Orchestrator) failPull(res *Result, what string, err error) {
	o.logger.Printf("WARNING: failed to pull %s: %v", what, err)
	res.Failed++
	metrics.SyncFailures.Inc()
	if errors.Is(err, remote.ErrUnavailable) {
		o.SetOnline(false)
	}
}

// ProcessPending replays the queue without a surrounding pull, for
// background wake-ups on reconnect.
func (o *Orchestrator) ProcessPending(ctx context.Context) (*Result, error) {
	db, err := o.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Started: time.Now()}
	o.replayPending(ctx, db, res)
	res.Duration = time.Since(res.Started)
	if err := o.mgr.Persist(ctx); err != nil {
		o.logger.Printf("WARNING: persist after replay failed: %v", err)
	}
	return res, nil
}

// replayPending attempts every queued operation in insertion order. An op
// is removed only after the server confirms it; failed ops stay queued.
func (o *Orchestrator) replayPending(ctx context.Context, db *notedb.DB, res *Result) {
	ops, err := db.ListPending()
	if err != nil {
		o.logger.Printf("WARNING: failed to list pending ops: %v", err)
		res.Failed++
		return
	}

	for _, q := range ops {
		if err := o.PushOp(ctx, q.Op); err != nil {
			o.logger.Printf("WARNING: replay of %s failed, keeping queued: %v", q.Op.OpKind(), err)
			res.Failed++
			metrics.SyncFailures.Inc()
			if errors.Is(err, remote.ErrUnavailable) {
				o.SetOnline(false)
			}
			continue
		}
		if err := db.RemovePending(q.ID); err != nil {
			o.logger.Printf("WARNING: failed to dequeue replayed op: %v", err)
			res.Failed++
			continue
		}
		res.Replayed++
		metrics.ReplayedOps.Inc()
	}
}

// PushPreferences writes preferences to the server directly. Preferences
// have no pending-op kind; callers treat failures as best effort.
func (o *Orchestrator) PushPreferences(ctx context.Context, p notedb.Preferences) error {
	_, err := o.client.SavePreferences(ctx, p)
	return err
}

// PushOp performs the remote write for a single operation.
func (o *Orchestrator) PushOp(ctx context.Context, op notedb.Op) error {
	switch op := op.(type) {
	case notedb.EntryUpsertOp:
		_, err := o.client.UpsertEntry(ctx, op.Entry)
		return err
	case notedb.EntryDeleteOp:
		return o.client.DeleteEntry(ctx, op.Date, op.DeletedAt)
	case notedb.SkipDayOp:
		if op.Action == notedb.ActionDelete {
			return o.client.DeleteSkipDay(ctx, op.SkipDay.ID)
		}
		_, err := o.client.AddSkipDay(ctx, op.SkipDay)
		return err
	case notedb.TemplateOp:
		if op.Action == notedb.ActionDelete {
			return o.client.DeleteTemplate(ctx, op.Template.ID)
		}
		_, err := o.client.UpsertTemplate(ctx, op.Template)
		return err
	case notedb.WebhookOp:
		if op.Action == notedb.ActionDelete {
			return o.client.DeleteWebhook(ctx, op.Webhook.ID)
		}
		_, err := o.client.SaveWebhook(ctx, op.Webhook)
		return err
	default:
		return fmt.Errorf("unknown pending op kind %q", op.OpKind())
	}
}
