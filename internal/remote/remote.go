// Package remote is the client for the authoritative server. It is the only
// place the engine talks to the network.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/jotworks/daybook/internal/notedb"
)

// ErrUnavailable wraps transport-level failures (timeouts, connection
// refused, 5xx after retries). Callers treat it as retryable: the operation
// stays queued.
var ErrUnavailable = errors.New("server unavailable")

// EntryPage is one page of a cursor-paginated entry listing.
type EntryPage struct {
	Entries    []notedb.Entry `json:"entries"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// Client is the abstract server API.
//
// Writes are idempotent where feasible: entry upserts key on date, skip-day
// adds are add-if-absent, deletes of missing records succeed. Create calls
// return the server's copy so callers can pick up server-assigned ids.
type Client interface {
	// ListEntries returns one page of entries. Tombstoned entries are
	// included when includeDeleted is set.
	ListEntries(ctx context.Context, cursor string, includeDeleted bool) (*EntryPage, error)
	UpsertEntry(ctx context.Context, e notedb.Entry) (*notedb.Entry, error)
	// DeleteEntry records a tombstone with the client-observed deletion
	// time so the delete orders correctly against concurrent edits.
	DeleteEntry(ctx context.Context, date string, deletedAt time.Time) error

	ListSkipDays(ctx context.Context) ([]notedb.SkipDay, error)
	AddSkipDay(ctx context.Context, sd notedb.SkipDay) (*notedb.SkipDay, error)
	DeleteSkipDay(ctx context.Context, id string) error

	ListTemplates(ctx context.Context) ([]notedb.Template, error)
	UpsertTemplate(ctx context.Context, t notedb.Template) (*notedb.Template, error)
	DeleteTemplate(ctx context.Context, id string) error

	// GetPreferences returns nil when the user has no stored preferences.
	GetPreferences(ctx context.Context) (*notedb.Preferences, error)
	SavePreferences(ctx context.Context, p notedb.Preferences) (*notedb.Preferences, error)

	ListWebhooks(ctx context.Context) ([]notedb.Webhook, error)
	SaveWebhook(ctx context.Context, w notedb.Webhook) (*notedb.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}
