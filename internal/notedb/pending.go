package notedb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpKind discriminates queued operation payloads at the storage boundary.
type OpKind string

const (
	OpEntryUpsert    OpKind = "entry_upsert"
	OpEntryDelete    OpKind = "entry_delete"
	OpSkipDayChange  OpKind = "skip_day_change"
	OpTemplateChange OpKind = "template_change"
	OpWebhookChange  OpKind = "webhook_change"
)

// ConfigAction is the intent of a config change operation.
type ConfigAction string

const (
	ActionCreate ConfigAction = "create"
	ActionUpdate ConfigAction = "update"
	ActionDelete ConfigAction = "delete"
)

// Op is a not-yet-acknowledged local mutation awaiting push.
//
// Concrete types carry strongly-typed fields; JSON appears only when an op
// crosses the pending_ops storage boundary. TargetKey identifies the
// logical target for dedup: enqueueing a new op deletes any queued op with
// the same target, so at most one op per target is ever pending.
type Op interface {
	OpKind() OpKind
	TargetKey() string
}

// EntryUpsertOp pushes an entry's latest content.
type EntryUpsertOp struct {
	Entry Entry `json:"entry"`
}

func (op EntryUpsertOp) OpKind() OpKind { return OpEntryUpsert }

// TargetKey shares the entry-delete key space: a later delete for the same
// date supersedes a queued upsert, and vice versa.
func (op EntryUpsertOp) TargetKey() string { return "entry:" + op.Entry.Date }

// EntryDeleteOp pushes an entry tombstone.
type EntryDeleteOp struct {
	Date      string    `json:"date"`
	DeletedAt time.Time `json:"deletedAt"`
}

func (op EntryDeleteOp) OpKind() OpKind    { return OpEntryDelete }
func (op EntryDeleteOp) TargetKey() string { return "entry:" + op.Date }

// SkipDayOp pushes a skip-day create or delete.
type SkipDayOp struct {
	Action  ConfigAction `json:"action"`
	SkipDay SkipDay      `json:"skipDay"`
}

func (op SkipDayOp) OpKind() OpKind { return OpSkipDayChange }

func (op SkipDayOp) TargetKey() string {
	return "skipday:" + string(op.Action) + ":" + configIdentity(op.Action, op.SkipDay.ID, string(op.SkipDay.Kind)+"/"+op.SkipDay.Value)
}

// TemplateOp pushes a template create, update, or delete.
type TemplateOp struct {
	Action   ConfigAction `json:"action"`
	Template Template     `json:"template"`
}

func (op TemplateOp) OpKind() OpKind { return OpTemplateChange }

func (op TemplateOp) TargetKey() string {
	return "template:" + string(op.Action) + ":" + configIdentity(op.Action, op.Template.ID, op.Template.Name)
}

// WebhookOp pushes a webhook create, update, or delete.
type WebhookOp struct {
	Action  ConfigAction `json:"action"`
	Webhook Webhook      `json:"webhook"`
}

func (op WebhookOp) OpKind() OpKind { return OpWebhookChange }

func (op WebhookOp) TargetKey() string {
	return "webhook:" + string(op.Action) + ":" + configIdentity(op.Action, op.Webhook.ID, op.Webhook.Name)
}

// configIdentity picks the dedup identity for a config change: the stable
// id for updates and deletes, the human-chosen name for creates (no server
// id exists yet).
func configIdentity(action ConfigAction, id, name string) string {
	if action == ActionCreate {
		return name
	}
	return id
}

// QueuedOp is an Op as read back from the queue.
type QueuedOp struct {
	ID        string
	CreatedAt time.Time
	Op        Op
}

// AddPending enqueues op, superseding any queued op for the same target.
func (db *DB) AddPending(op Op) error {
	payload, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal pending op: %w", err)
	}

	if err := db.eng.Run(`DELETE FROM pending_ops WHERE target_key = ?`, op.TargetKey()); err != nil {
		return fmt.Errorf("failed to dedup pending ops: %w", err)
	}

	err = db.eng.Run(
		`INSERT INTO pending_ops (id, kind, target_key, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), string(op.OpKind()), op.TargetKey(), string(payload),
		time.Now().UTC().Format(timeFmt))
	if err != nil {
		return fmt.Errorf("failed to enqueue pending op: %w", err)
	}
	return nil
}

// ListPending returns queued ops in insertion order.
func (db *DB) ListPending() ([]QueuedOp, error) {
	rows, err := db.eng.Query(
		`SELECT id, kind, payload, created_at FROM pending_ops ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending ops: %w", err)
	}
	out := make([]QueuedOp, 0, len(rows))
	for _, row := range rows {
		op, err := decodeOp(OpKind(text(row["kind"])), []byte(text(row["payload"])))
		if err != nil {
			return nil, err
		}
		out = append(out, QueuedOp{
			ID:        text(row["id"]),
			CreatedAt: parseTime(text(row["created_at"])),
			Op:        op,
		})
	}
	return out, nil
}

// RemovePending deletes a queued op after it was confirmed remotely.
func (db *DB) RemovePending(id string) error {
	if err := db.eng.Run(`DELETE FROM pending_ops WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove pending op %s: %w", id, err)
	}
	return nil
}

// ClearPending drops the whole queue.
func (db *DB) ClearPending() error {
	if err := db.eng.Run(`DELETE FROM pending_ops`); err != nil {
		return fmt.Errorf("failed to clear pending ops: %w", err)
	}
	return nil
}

// CountPending returns the queue length.
func (db *DB) CountPending() (int, error) {
	rows, err := db.eng.Query(`SELECT COUNT(*) AS n FROM pending_ops`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	return int(integer(rows[0]["n"])), nil
}

func decodeOp(kind OpKind, payload []byte) (Op, error) {
	var (
		op  Op
		err error
	)
	switch kind {
	case OpEntryUpsert:
		var v EntryUpsertOp
		err = json.Unmarshal(payload, &v)
		op = v
	case OpEntryDelete:
		var v EntryDeleteOp
		err = json.Unmarshal(payload, &v)
		op = v
	case OpSkipDayChange:
		var v SkipDayOp
		err = json.Unmarshal(payload, &v)
		op = v
	case OpTemplateChange:
		var v TemplateOp
		err = json.Unmarshal(payload, &v)
		op = v
	case OpWebhookChange:
		var v WebhookOp
		err = json.Unmarshal(payload, &v)
		op = v
	default:
		return nil, fmt.Errorf("unknown pending op kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode pending op %s: %w", kind, err)
	}
	return op, nil
}
