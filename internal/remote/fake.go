package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jotworks/daybook/internal/notedb"
)

// Fake is an in-memory Client holding server-side state, used by tests in
// place of a live server.
//
// Set Offline to make every call fail with ErrUnavailable. PageSize
// controls entry list pagination (default 100; tests set it low to
// exercise cursors).
type Fake struct {
	mu sync.Mutex

	Offline  bool
	PageSize int

	entries   map[string]notedb.Entry // by date, tombstones included
	skipDays  map[string]notedb.SkipDay
	templates map[string]notedb.Template
	prefs     *notedb.Preferences
	webhooks  map[string]notedb.Webhook

	// Upserts counts entry upserts accepted, for push assertions.
	Upserts int
}

// NewFake returns an empty fake server.
func NewFake() *Fake {
	return &Fake{
		entries:   make(map[string]notedb.Entry),
		skipDays:  make(map[string]notedb.SkipDay),
		templates: make(map[string]notedb.Template),
		webhooks:  make(map[string]notedb.Webhook),
		PageSize:  100,
	}
}

func (f *Fake) check() error {
	if f.Offline {
		return ErrUnavailable
	}
	return nil
}

// SetOffline toggles simulated connectivity.
func (f *Fake) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Offline = offline
}

// SeedEntry installs a server-side entry directly.
func (f *Fake) SeedEntry(e notedb.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	f.entries[e.Date] = e
}

// Entry returns the server-side record for a date and whether it exists.
func (f *Fake) Entry(date string) (notedb.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[date]
	return e, ok
}

// ListEntries implements Client.
func (f *Fake) ListEntries(ctx context.Context, cursor string, includeDeleted bool) (*EntryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}

	dates := make([]string, 0, len(f.entries))
	for date, e := range f.entries {
		if e.Tombstone() && !includeDeleted {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(dates, cursor)
		if start < len(dates) && dates[start] == cursor {
			start++
		}
	}

	page := &EntryPage{}
	for i := start; i < len(dates) && len(page.Entries) < f.PageSize; i++ {
		page.Entries = append(page.Entries, f.entries[dates[i]])
	}
	if start+len(page.Entries) < len(dates) {
		page.NextCursor = page.Entries[len(page.Entries)-1].Date
	}
	return page, nil
}

// UpsertEntry implements Client.
func (f *Fake) UpsertEntry(ctx context.Context, e notedb.Entry) (*notedb.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if prev, ok := f.entries[e.Date]; ok {
		e.ID = prev.ID
	} else if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.DeletedAt = nil
	f.entries[e.Date] = e
	f.Upserts++
	return &e, nil
}

// DeleteEntry implements Client.
func (f *Fake) DeleteEntry(ctx context.Context, date string, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	e, ok := f.entries[date]
	if !ok {
		e = notedb.Entry{ID: uuid.NewString(), Date: date}
	}
	at := deletedAt
	e.DeletedAt = &at
	e.UpdatedAt = deletedAt
	f.entries[date] = e
	return nil
}

// ListSkipDays implements Client.
func (f *Fake) ListSkipDays(ctx context.Context) ([]notedb.SkipDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	out := make([]notedb.SkipDay, 0, len(f.skipDays))
	for _, sd := range f.skipDays {
		out = append(out, sd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AddSkipDay implements Client. Adding an existing (kind, value) pair
// returns the existing row.
func (f *Fake) AddSkipDay(ctx context.Context, sd notedb.SkipDay) (*notedb.SkipDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	for _, existing := range f.skipDays {
		if existing.Kind == sd.Kind && existing.Value == sd.Value {
			return &existing, nil
		}
	}
	if sd.ID == "" {
		sd.ID = uuid.NewString()
	}
	f.skipDays[sd.ID] = sd
	return &sd, nil
}

// DeleteSkipDay implements Client.
func (f *Fake) DeleteSkipDay(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	delete(f.skipDays, id)
	return nil
}

// ListTemplates implements Client.
func (f *Fake) ListTemplates(ctx context.Context) ([]notedb.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	out := make([]notedb.Template, 0, len(f.templates))
	for _, t := range f.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertTemplate implements Client.
func (f *Fake) UpsertTemplate(ctx context.Context, t notedb.Template) (*notedb.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	f.templates[t.ID] = t
	return &t, nil
}

// DeleteTemplate implements Client.
func (f *Fake) DeleteTemplate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	delete(f.templates, id)
	return nil
}

// GetPreferences implements Client.
func (f *Fake) GetPreferences(ctx context.Context) (*notedb.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if f.prefs == nil {
		return nil, nil
	}
	p := *f.prefs
	return &p, nil
}

// SavePreferences implements Client.
func (f *Fake) SavePreferences(ctx context.Context, p notedb.Preferences) (*notedb.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	f.prefs = &p
	return &p, nil
}

// ListWebhooks implements Client.
func (f *Fake) ListWebhooks(ctx context.Context) ([]notedb.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	out := make([]notedb.Webhook, 0, len(f.webhooks))
	for _, w := range f.webhooks {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveWebhook implements Client.
func (f *Fake) SaveWebhook(ctx context.Context, w notedb.Webhook) (*notedb.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	f.webhooks[w.ID] = w
	return &w, nil
}

// DeleteWebhook implements Client.
func (f *Fake) DeleteWebhook(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	delete(f.webhooks, id)
	return nil
}
