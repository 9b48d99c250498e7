// Package router maps logical entity operations onto the lifecycle manager
// and the local database, and owns the write-side contract: apply locally,
// persist, then push immediately or queue for replay.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/notedb"
	"github.com/jotworks/daybook/internal/session"
	"github.com/jotworks/daybook/internal/syncer"
)

// MaxWebhooks caps webhooks per authenticated owner.
const MaxWebhooks = 5

var (
	// ErrWebhookLimit is returned when the webhook cap is reached.
	ErrWebhookLimit = fmt.Errorf("webhook limit of %d reached", MaxWebhooks)

	// ErrWebhooksUnavailable is returned for webhook operations from the
	// anonymous namespace.
	ErrWebhooksUnavailable = errors.New("webhooks require a signed-in user")
)

// Router is the caller-facing surface of the engine.
type Router struct {
	mgr     *lifecycle.Manager
	machine *session.Machine
	sync    *syncer.Orchestrator
	logger  *log.Logger

	mu   sync.Mutex
	wake func()
}

// New creates a Router.
//
// If logger is nil, a default logger writing to stderr is used.
func New(mgr *lifecycle.Manager, machine *session.Machine, sync *syncer.Orchestrator, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(os.Stderr, "[router] ", log.LstdFlags)
	}
	return &Router{mgr: mgr, machine: machine, sync: sync, logger: logger}
}

// RegisterWake installs the host callback asking to be woken when
// connectivity returns. It is invoked whenever an operation is queued.
func (r *Router) RegisterWake(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake = fn
}

func (r *Router) requestWake() {
	r.mu.Lock()
	fn := r.wake
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *Router) ownerID() string {
	return r.machine.UserID()
}

// afterWrite completes the write-side contract once the local change is
// applied: persist, then — for authenticated namespaces — push now or
// queue for replay. A push failure demotes to queueing, never drops.
func (r *Router) afterWrite(ctx context.Context, db *notedb.DB, op notedb.Op) error {
	if err := r.mgr.Persist(ctx); err != nil {
		r.logger.Printf("WARNING: persist after write failed: %v", err)
	}

	if r.machine.State() != session.StateAuthenticated {
		return nil
	}

	if r.sync.Online() {
		err := r.sync.PushOp(ctx, op)
		if err == nil {
			return nil
		}
		r.logger.Printf("Push failed, queueing %s: %v", op.OpKind(), err)
		r.sync.SetOnline(false)
	}

	if err := db.AddPending(op); err != nil {
		return err
	}
	if err := r.mgr.Persist(ctx); err != nil {
		r.logger.Printf("WARNING: persist after queueing failed: %v", err)
	}
	r.requestWake()
	return nil
}

// --- entries ---

// SaveEntry upserts the entry for a date.
func (r *Router) SaveEntry(ctx context.Context, date, content string) (*notedb.Entry, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	e := &notedb.Entry{Date: date, Content: content, OwnerID: r.ownerID(), UpdatedAt: now}
	if existing, err := db.GetEntryByDate(date); err == nil && existing != nil {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	}
	if err := db.UpsertEntry(e); err != nil {
		return nil, err
	}
	if err := r.afterWrite(ctx, db, notedb.EntryUpsertOp{Entry: *e}); err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEntry removes the entry for a date. The deletion time is captured
// here so the tombstone orders correctly against concurrent edits.
func (r *Router) DeleteEntry(ctx context.Context, date string) error {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return err
	}
	if err := db.DeleteEntryByDate(date); err != nil {
		return err
	}
	return r.afterWrite(ctx, db, notedb.EntryDeleteOp{Date: date, DeletedAt: time.Now().UTC()})
}

// GetEntry reads an entry from the local database. Reads never touch the
// server.
func (r *Router) GetEntry(ctx context.Context, date string) (*notedb.Entry, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.GetEntryByDate(date)
}

// ListEntries lists all local entries.
func (r *Router) ListEntries(ctx context.Context) ([]notedb.Entry, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.ListEntries()
}

// --- skip days ---

// AddSkipDay records a day the user does not write.
func (r *Router) AddSkipDay(ctx context.Context, kind notedb.SkipDayKind, value string) (*notedb.SkipDay, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	sd := &notedb.SkipDay{Kind: kind, Value: value, OwnerID: r.ownerID()}
	if err := db.AddSkipDay(sd); err != nil {
		return nil, err
	}
	if err := r.afterWrite(ctx, db, notedb.SkipDayOp{Action: notedb.ActionCreate, SkipDay: *sd}); err != nil {
		return nil, err
	}
	return sd, nil
}

// RemoveSkipDay deletes a skip day by id.
func (r *Router) RemoveSkipDay(ctx context.Context, id string) error {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return err
	}
	if err := db.DeleteSkipDay(id); err != nil {
		return err
	}
	op := notedb.SkipDayOp{Action: notedb.ActionDelete, SkipDay: notedb.SkipDay{ID: id}}
	return r.afterWrite(ctx, db, op)
}

// ListSkipDays lists all local skip days.
func (r *Router) ListSkipDays(ctx context.Context) ([]notedb.SkipDay, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.ListSkipDays()
}

// --- templates ---

// SaveTemplate creates or updates a template. A template with no id is a
// create; its pending-op identity is the name until the server assigns one.
func (r *Router) SaveTemplate(ctx context.Context, t notedb.Template) (*notedb.Template, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	action := notedb.ActionUpdate
	if t.ID == "" {
		action = notedb.ActionCreate
	}
	t.OwnerID = r.ownerID()
	t.UpdatedAt = time.Now().UTC()
	if err := db.UpsertTemplate(&t); err != nil {
		return nil, err
	}
	if err := r.afterWrite(ctx, db, notedb.TemplateOp{Action: action, Template: t}); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTemplate removes a template by id.
func (r *Router) DeleteTemplate(ctx context.Context, id string) error {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return err
	}
	if err := db.DeleteTemplate(id); err != nil {
		return err
	}
	op := notedb.TemplateOp{Action: notedb.ActionDelete, Template: notedb.Template{ID: id}}
	return r.afterWrite(ctx, db, op)
}

// ListTemplates lists all local templates.
func (r *Router) ListTemplates(ctx context.Context) ([]notedb.Template, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.ListTemplates()
}

// --- preferences ---

// SavePreferences writes the namespace's preferences row. Preferences have
// no pending-op kind: they are pushed best effort and, being newest by
// timestamp, survive later pulls until a push succeeds.
func (r *Router) SavePreferences(ctx context.Context, aiConfig, theme string) (*notedb.Preferences, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	p := &notedb.Preferences{OwnerID: r.ownerID(), AIConfig: aiConfig, Theme: theme, UpdatedAt: time.Now().UTC()}
	if existing, err := db.GetPreferences(); err == nil && existing != nil {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	if err := db.UpsertPreferences(p); err != nil {
		return nil, err
	}
	if err := r.mgr.Persist(ctx); err != nil {
		r.logger.Printf("WARNING: persist after write failed: %v", err)
	}
	if r.machine.State() == session.StateAuthenticated && r.sync.Online() {
		if err := r.sync.PushPreferences(ctx, *p); err != nil {
			r.logger.Printf("WARNING: failed to push preferences: %v", err)
		}
	}
	return p, nil
}

// GetPreferences reads the namespace's preferences row.
func (r *Router) GetPreferences(ctx context.Context) (*notedb.Preferences, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.GetPreferences()
}

// --- webhooks ---

// SaveWebhook creates or updates a webhook. Webhooks are unavailable to
// the anonymous namespace and capped at MaxWebhooks per owner.
func (r *Router) SaveWebhook(ctx context.Context, w notedb.Webhook) (*notedb.Webhook, error) {
	if r.machine.State() != session.StateAuthenticated {
		return nil, ErrWebhooksUnavailable
	}
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	action := notedb.ActionUpdate
	if w.ID == "" {
		action = notedb.ActionCreate
		n, err := db.CountWebhooks()
		if err != nil {
			return nil, err
		}
		if n >= MaxWebhooks {
			return nil, ErrWebhookLimit
		}
	}
	w.OwnerID = r.ownerID()
	w.UpdatedAt = time.Now().UTC()
	if err := db.UpsertWebhook(&w); err != nil {
		return nil, err
	}
	if err := r.afterWrite(ctx, db, notedb.WebhookOp{Action: action, Webhook: w}); err != nil {
		return nil, err
	}
	return &w, nil
}

// DeleteWebhook removes a webhook by id.
func (r *Router) DeleteWebhook(ctx context.Context, id string) error {
	if r.machine.State() != session.StateAuthenticated {
		return ErrWebhooksUnavailable
	}
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return err
	}
	if err := db.DeleteWebhook(id); err != nil {
		return err
	}
	op := notedb.WebhookOp{Action: notedb.ActionDelete, Webhook: notedb.Webhook{ID: id}}
	return r.afterWrite(ctx, db, op)
}

// ListWebhooks lists all local webhooks.
func (r *Router) ListWebhooks(ctx context.Context) ([]notedb.Webhook, error) {
	if r.machine.State() != session.StateAuthenticated {
		return nil, ErrWebhooksUnavailable
	}
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.ListWebhooks()
}

// --- control surface ---

// Bootstrap guarantees the anonymous database exists regardless of
// navigation path.
func (r *Router) Bootstrap(ctx context.Context) error {
	_, err := r.machine.AnonymousBootstrap(ctx)
	return err
}

// LoginStart begins a login and runs the login sync flow.
func (r *Router) LoginStart(ctx context.Context, userID string, isNewUser, mergeAnonymous bool) error {
	return r.sync.HandleLogin(ctx, userID, isNewUser, mergeAnonymous)
}

// Logout ends the session and returns to the anonymous namespace.
func (r *Router) Logout(ctx context.Context) error {
	return r.sync.HandleLogout(ctx)
}

// SyncNow triggers a full sync.
func (r *Router) SyncNow(ctx context.Context) (*syncer.Result, error) {
	return r.sync.FullSync(ctx)
}

// RetryPending replays the queue without a surrounding pull.
func (r *Router) RetryPending(ctx context.Context) (*syncer.Result, error) {
	return r.sync.ProcessPending(ctx)
}

// SetOnlineStatus records host connectivity. Coming back online triggers a
// pending replay, fulfilling the background wake-up contract.
func (r *Router) SetOnlineStatus(ctx context.Context, online bool) {
	wasOnline := r.sync.Online()
	r.sync.SetOnline(online)
	if online && !wasOnline {
		if _, err := r.sync.ProcessPending(ctx); err != nil {
			r.logger.Printf("WARNING: replay on reconnect failed: %v", err)
		}
	}
}

// ClearLocalData wipes the current namespace's local data and durable
// snapshot.
func (r *Router) ClearLocalData(ctx context.Context) error {
	return r.mgr.ClearData(ctx, r.mgr.Current())
}

// HasData reports whether a user namespace has stored data, for the
// login-time merge prompt.
func (r *Router) HasData(ctx context.Context, userID string) (bool, error) {
	return r.mgr.HasData(ctx, lifecycle.Namespace(userID))
}

// ExportAllData dumps the current namespace for migration tooling.
func (r *Router) ExportAllData(ctx context.Context) (*notedb.Snapshot, error) {
	db, err := r.mgr.EnsureInitialized(ctx)
	if err != nil {
		return nil, err
	}
	return db.ExportAll()
}

// DebugState is the read-only introspection surface.
type DebugState struct {
	Session      string          `json:"session"`
	UserID       string          `json:"userId,omitempty"`
	Lifecycle    lifecycle.State `json:"lifecycle"`
	Online       bool            `json:"online"`
	PendingCount int             `json:"pendingCount"`
	LastSync     *syncer.Result  `json:"lastSync,omitempty"`
}

// Debug returns the current engine state.
func (r *Router) Debug(ctx context.Context) DebugState {
	state := DebugState{
		Session:   r.machine.State().String(),
		UserID:    r.machine.UserID(),
		Lifecycle: r.mgr.DebugState(),
		Online:    r.sync.Online(),
		LastSync:  r.sync.LastResult(),
	}
	if db, err := r.mgr.EnsureInitialized(ctx); err == nil {
		if n, err := db.CountPending(); err == nil {
			state.PendingCount = n
		}
	}
	return state
}
