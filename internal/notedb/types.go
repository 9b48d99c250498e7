package notedb

import "time"

// Entry is a single daily note.
//
// Date is the natural key ("2024-01-01"): local upserts and sync
// reconciliation both match on it. ID is the stable identity assigned at
// creation (or by the server) and survives sync round trips.
//
// DeletedAt is only ever set on records travelling through sync: a remote
// record carrying it is a tombstone. Local storage hard-deletes instead.
type Entry struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"`
	Content   string     `json:"content"`
	OwnerID   string     `json:"ownerId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Tombstone reports whether the record marks a deletion.
func (e *Entry) Tombstone() bool {
	return e.DeletedAt != nil
}

// SkipDayKind distinguishes recurring weekday skips from one-off dates.
type SkipDayKind string

const (
	SkipWeekday      SkipDayKind = "weekday"
	SkipSpecificDate SkipDayKind = "date"
)

// SkipDay marks a day the user does not write. Uniqueness is enforced on
// (Kind, Value).
type SkipDay struct {
	ID        string      `json:"id"`
	Kind      SkipDayKind `json:"kind"`
	Value     string      `json:"value"`
	OwnerID   string      `json:"ownerId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Template is a reusable note body. At most one template per namespace is
// the default.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	IsDefault bool      `json:"isDefault"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preferences is the single per-namespace settings row. AIConfig is an
// opaque JSON blob passed through to sync untouched.
type Preferences struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	AIConfig  string    `json:"aiConfigJson,omitempty"`
	Theme     string    `json:"theme,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Webhook is a scheduled notification target. Webhooks exist only for
// authenticated namespaces and are capped per owner (see router).
type Webhook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Message   string    `json:"message"`
	Time      string    `json:"time"`
	Days      []string  `json:"days"`
	Timezone  string    `json:"timezone"`
	Enabled   bool      `json:"enabled"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is a full dump of a namespace's data, used for the
// anonymous-merge login path and the export-all-data surface.
type Snapshot struct {
	Entries     []Entry      `json:"entries"`
	SkipDays    []SkipDay    `json:"skipDays"`
	Templates   []Template   `json:"templates"`
	Preferences *Preferences `json:"preferences,omitempty"`
	Webhooks    []Webhook    `json:"webhooks,omitempty"`
}
