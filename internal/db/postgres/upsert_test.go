package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpsertSQL_Ignore(t *testing.T) {
	u := Upsert{
		Table:     "user_task_events",
		Columns:   []string{"user_id", "schedule", "event_key"},
		Conflict:  []string{"user_id", "schedule", "event_key"},
		Policy:    ConflictIgnore,
		Returning: []string{"id"},
	}
	assert.Equal(t,
		"INSERT INTO user_task_events (user_id, schedule, event_key) VALUES ($1, $2, $3)"+
			" ON CONFLICT (user_id, schedule, event_key) DO NOTHING RETURNING id",
		u.SQL())
}

func TestUpsertSQL_IgnoreAnyKey(t *testing.T) {
	u := Upsert{Table: "balances", Columns: []string{"user_id"}, Policy: ConflictIgnore}
	assert.Equal(t, "INSERT INTO balances (user_id) VALUES ($1) ON CONFLICT DO NOTHING", u.SQL())
}

func TestUpsertSQL_Merge(t *testing.T) {
	u := Upsert{
		Table:    "user_items",
		Columns:  []string{"user_id", "item_type", "quantity"},
		Conflict: []string{"user_id", "item_type"},
		Policy:   ConflictMerge,
		Merge:    "quantity = user_items.quantity + EXCLUDED.quantity",
	}
	assert.Equal(t,
		"INSERT INTO user_items (user_id, item_type, quantity) VALUES ($1, $2, $3)"+
			" ON CONFLICT (user_id, item_type) DO UPDATE SET quantity = user_items.quantity + EXCLUDED.quantity",
		u.SQL())
}

func TestUpsertSQL_UnknownPolicyPanics(t *testing.T) {
	u := Upsert{Table: "t", Columns: []string{"a"}, Policy: ConflictPolicy(42)}
	assert.Panics(t, func() { _ = u.SQL() })
}
