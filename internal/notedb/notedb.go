// Package notedb implements the typed local database for a single
// namespace: entries, skip days, templates, preferences, webhooks, and the
// pending-operation queue, all stored in one embedded engine instance so a
// namespace's entire state exports as one snapshot.
package notedb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jotworks/daybook/internal/engine"
)

// timeFmt preserves sub-second ordering across export/import round trips.
const timeFmt = time.RFC3339Nano

// DB wraps an engine instance with typed operations.
type DB struct {
	eng *engine.Engine
}

// Open creates a database from a snapshot (nil for empty) and runs the
// idempotent schema DDL.
func Open(ctx context.Context, snapshot []byte) (*DB, error) {
	eng, err := engine.Open(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	db := &DB{eng: eng}
	if err := db.initSchema(); err != nil {
		_ = eng.Close()
		return nil, err
	}
	return db, nil
}

// Export serializes the whole database to bytes.
func (db *DB) Export() ([]byte, error) {
	return db.eng.Export()
}

// Close releases the underlying engine instance.
func (db *DB) Close() error {
	return db.eng.Close()
}

func (db *DB) initSchema() error {
	ddl := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL UNIQUE,
		content TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS skip_days (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (kind, value)
	);

	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL UNIQUE,
		ai_config TEXT NOT NULL DEFAULT '',
		theme TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS webhooks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		time TEXT NOT NULL DEFAULT '',
		days TEXT NOT NULL DEFAULT '[]',
		timezone TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_ops (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		target_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date);
	CREATE INDEX IF NOT EXISTS idx_pending_target ON pending_ops(target_key);
	CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_ops(created_at);
	`
	if err := db.eng.Exec(ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// --- entries ---

// UpsertEntry inserts or updates an entry by its date. A zero ID is
// assigned; zero timestamps default to now.
func (db *DB) UpsertEntry(e *Entry) error {
	if e.Date == "" {
		return fmt.Errorf("entry date is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = now
	}

	query := `
	INSERT INTO entries (id, date, content, owner_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(date) DO UPDATE SET
		content = excluded.content,
		owner_id = excluded.owner_id,
		updated_at = excluded.updated_at
	`
	err := db.eng.Run(query,
		e.ID, e.Date, e.Content, e.OwnerID,
		e.CreatedAt.Format(timeFmt), e.UpdatedAt.Format(timeFmt))
	if err != nil {
		return fmt.Errorf("failed to upsert entry %s: %w", e.Date, err)
	}
	return nil
}

// GetEntryByDate returns the entry for a date, or nil if absent.
func (db *DB) GetEntryByDate(date string) (*Entry, error) {
	rows, err := db.eng.Query(
		`SELECT id, date, content, owner_id, created_at, updated_at
		 FROM entries WHERE date = ?`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", date, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return scanEntry(rows[0]), nil
}

// ListEntries returns all entries ordered by date.
func (db *DB) ListEntries() ([]Entry, error) {
	rows, err := db.eng.Query(
		`SELECT id, date, content, owner_id, created_at, updated_at
		 FROM entries ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, *scanEntry(row))
	}
	return entries, nil
}

// DeleteEntryByDate hard-deletes an entry. Deleting a missing date is a
// no-op; tombstoning happens at the sync boundary, not here.
func (db *DB) DeleteEntryByDate(date string) error {
	if err := db.eng.Run(`DELETE FROM entries WHERE date = ?`, date); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", date, err)
	}
	return nil
}

func scanEntry(row engine.Row) *Entry {
	return &Entry{
		ID:        text(row["id"]),
		Date:      text(row["date"]),
		Content:   text(row["content"]),
		OwnerID:   text(row["owner_id"]),
		CreatedAt: parseTime(text(row["created_at"])),
		UpdatedAt: parseTime(text(row["updated_at"])),
	}
}

// --- skip days ---

// AddSkipDay inserts a skip day; duplicates on (kind, value) are idempotent
// and keep the existing row's id.
func (db *DB) AddSkipDay(sd *SkipDay) error {
	if sd.Kind != SkipWeekday && sd.Kind != SkipSpecificDate {
		return fmt.Errorf("invalid skip day kind %q", sd.Kind)
	}
	if sd.ID == "" {
		sd.ID = uuid.NewString()
	}
	if sd.CreatedAt.IsZero() {
		sd.CreatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO skip_days (id, kind, value, owner_id, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(kind, value) DO NOTHING
	`
	err := db.eng.Run(query, sd.ID, string(sd.Kind), sd.Value, sd.OwnerID,
		sd.CreatedAt.Format(timeFmt))
	if err != nil {
		return fmt.Errorf("failed to add skip day %s/%s: %w", sd.Kind, sd.Value, err)
	}
	return nil
}

// ListSkipDays returns all skip days ordered by creation.
func (db *DB) ListSkipDays() ([]SkipDay, error) {
	rows, err := db.eng.Query(
		`SELECT id, kind, value, owner_id, created_at
		 FROM skip_days ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list skip days: %w", err)
	}
	out := make([]SkipDay, 0, len(rows))
	for _, row := range rows {
		out = append(out, SkipDay{
			ID:        text(row["id"]),
			Kind:      SkipDayKind(text(row["kind"])),
			Value:     text(row["value"]),
			OwnerID:   text(row["owner_id"]),
			CreatedAt: parseTime(text(row["created_at"])),
		})
	}
	return out, nil
}

// DeleteSkipDay removes a skip day by id.
func (db *DB) DeleteSkipDay(id string) error {
	if err := db.eng.Run(`DELETE FROM skip_days WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete skip day %s: %w", id, err)
	}
	return nil
}

// --- templates ---

// UpsertTemplate inserts or updates a template by id. When the template is
// marked default, any other default in the namespace is cleared first so the
// single-default invariant holds.
func (db *DB) UpsertTemplate(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	if t.IsDefault {
		if err := db.eng.Run(`UPDATE templates SET is_default = 0 WHERE id != ?`, t.ID); err != nil {
			return fmt.Errorf("failed to clear default templates: %w", err)
		}
	}

	query := `
	INSERT INTO templates (id, name, content, is_default, owner_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		content = excluded.content,
		is_default = excluded.is_default,
		owner_id = excluded.owner_id,
		updated_at = excluded.updated_at
	`
	err := db.eng.Run(query, t.ID, t.Name, t.Content, t.IsDefault, t.OwnerID,
		t.CreatedAt.Format(timeFmt), t.UpdatedAt.Format(timeFmt))
	if err != nil {
		return fmt.Errorf("failed to upsert template %s: %w", t.Name, err)
	}
	return nil
}

// GetTemplate returns a template by id, or nil if absent.
func (db *DB) GetTemplate(id string) (*Template, error) {
	rows, err := db.eng.Query(
		`SELECT id, name, content, is_default, owner_id, created_at, updated_at
		 FROM templates WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	t := scanTemplate(rows[0])
	return &t, nil
}

// ListTemplates returns all templates ordered by name.
func (db *DB) ListTemplates() ([]Template, error) {
	rows, err := db.eng.Query(
		`SELECT id, name, content, is_default, owner_id, created_at, updated_at
		 FROM templates ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	out := make([]Template, 0, len(rows))
	for _, row := range rows {
		out = append(out, scanTemplate(row))
	}
	return out, nil
}

// DeleteTemplate removes a template by id.
func (db *DB) DeleteTemplate(id string) error {
	if err := db.eng.Run(`DELETE FROM templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}
	return nil
}

func scanTemplate(row engine.Row) Template {
	return Template{
		ID:        text(row["id"]),
		Name:      text(row["name"]),
		Content:   text(row["content"]),
		IsDefault: integer(row["is_default"]) != 0,
		OwnerID:   text(row["owner_id"]),
		CreatedAt: parseTime(text(row["created_at"])),
		UpdatedAt: parseTime(text(row["updated_at"])),
	}
}

// --- preferences ---

// GetPreferences returns the namespace's preferences row, or nil if never
// written.
func (db *DB) GetPreferences() (*Preferences, error) {
	rows, err := db.eng.Query(
		`SELECT id, owner_id, ai_config, theme, created_at, updated_at
		 FROM preferences LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &Preferences{
		ID:        text(row["id"]),
		OwnerID:   text(row["owner_id"]),
		AIConfig:  text(row["ai_config"]),
		Theme:     text(row["theme"]),
		CreatedAt: parseTime(text(row["created_at"])),
		UpdatedAt: parseTime(text(row["updated_at"])),
	}, nil
}

// UpsertPreferences writes the single preferences row, keyed by owner.
func (db *DB) UpsertPreferences(p *Preferences) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	query := `
	INSERT INTO preferences (id, owner_id, ai_config, theme, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET
		ai_config = excluded.ai_config,
		theme = excluded.theme,
		updated_at = excluded.updated_at
	`
	err := db.eng.Run(query, p.ID, p.OwnerID, p.AIConfig, p.Theme,
		p.CreatedAt.Format(timeFmt), p.UpdatedAt.Format(timeFmt))
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

// --- webhooks ---

// UpsertWebhook inserts or updates a webhook by id.
func (db *DB) UpsertWebhook(w *Webhook) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}
	daysJSON, err := json.Marshal(w.Days)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook days: %w", err)
	}
	query := `
	INSERT INTO webhooks (id, name, url, message, time, days, timezone, enabled, owner_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		url = excluded.url,
		message = excluded.message,
		time = excluded.time,
		days = excluded.days,
		timezone = excluded.timezone,
		enabled = excluded.enabled,
		updated_at = excluded.updated_at
	`
	err = db.eng.Run(query, w.ID, w.Name, w.URL, w.Message, w.Time,
		string(daysJSON), w.Timezone, w.Enabled, w.OwnerID,
		w.CreatedAt.Format(timeFmt), w.UpdatedAt.Format(timeFmt))
	if err != nil {
		return fmt.Errorf("failed to upsert webhook %s: %w", w.Name, err)
	}
	return nil
}

// ListWebhooks returns all webhooks ordered by creation.
func (db *DB) ListWebhooks() ([]Webhook, error) {
	rows, err := db.eng.Query(
		`SELECT id, name, url, message, time, days, timezone, enabled, owner_id, created_at, updated_at
		 FROM webhooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	out := make([]Webhook, 0, len(rows))
	for _, row := range rows {
		w := Webhook{
			ID:        text(row["id"]),
			Name:      text(row["name"]),
			URL:       text(row["url"]),
			Message:   text(row["message"]),
			Time:      text(row["time"]),
			Timezone:  text(row["timezone"]),
			Enabled:   integer(row["enabled"]) != 0,
			OwnerID:   text(row["owner_id"]),
			CreatedAt: parseTime(text(row["created_at"])),
			UpdatedAt: parseTime(text(row["updated_at"])),
		}
		if daysJSON := text(row["days"]); daysJSON != "" && daysJSON != "null" {
			if err := json.Unmarshal([]byte(daysJSON), &w.Days); err != nil {
				return nil, fmt.Errorf("failed to unmarshal webhook days: %w", err)
			}
		}
		out = append(out, w)
	}
	return out, nil
}

// DeleteWebhook removes a webhook by id.
func (db *DB) DeleteWebhook(id string) error {
	if err := db.eng.Run(`DELETE FROM webhooks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete webhook %s: %w", id, err)
	}
	return nil
}

// CountWebhooks returns the number of webhooks in the namespace.
func (db *DB) CountWebhooks() (int, error) {
	rows, err := db.eng.Query(`SELECT COUNT(*) AS n FROM webhooks`)
	if err != nil {
		return 0, fmt.Errorf("failed to count webhooks: %w", err)
	}
	return int(integer(rows[0]["n"])), nil
}

// ReplaceWebhooks replaces all local webhooks with the given set. The
// server is authoritative for webhooks during pulls.
func (db *DB) ReplaceWebhooks(webhooks []Webhook) error {
	if err := db.eng.Run(`DELETE FROM webhooks`); err != nil {
		return fmt.Errorf("failed to clear webhooks: %w", err)
	}
	for i := range webhooks {
		if err := db.UpsertWebhook(&webhooks[i]); err != nil {
			return err
		}
	}
	return nil
}

// --- whole-namespace helpers ---

// CountRows returns the total number of user-visible rows (entries, skip
// days, templates, webhooks). Used by has-data checks and the
// expected-empty integrity check on new-user login.
func (db *DB) CountRows() (int, error) {
	rows, err := db.eng.Query(`
		SELECT (SELECT COUNT(*) FROM entries)
		     + (SELECT COUNT(*) FROM skip_days)
		     + (SELECT COUNT(*) FROM templates)
		     + (SELECT COUNT(*) FROM webhooks) AS n`)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return int(integer(rows[0]["n"])), nil
}

// ExportAll dumps every user-visible table. Pending operations are
// intentionally excluded; they are replay state, not data.
func (db *DB) ExportAll() (*Snapshot, error) {
	entries, err := db.ListEntries()
	if err != nil {
		return nil, err
	}
	skipDays, err := db.ListSkipDays()
	if err != nil {
		return nil, err
	}
	templates, err := db.ListTemplates()
	if err != nil {
		return nil, err
	}
	prefs, err := db.GetPreferences()
	if err != nil {
		return nil, err
	}
	webhooks, err := db.ListWebhooks()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Entries:     entries,
		SkipDays:    skipDays,
		Templates:   templates,
		Preferences: prefs,
		Webhooks:    webhooks,
	}, nil
}

// --- scan helpers ---

func text(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int64 {
	n, _ := v.(int64)
	return n
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFmt, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
