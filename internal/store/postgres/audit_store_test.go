package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polytrend/internal/domain"
)

func TestAuditStore_ListByPrefix(t *testing.T) {
	client := setupTestDB(t)
	store := NewAuditStore(client.Pool())
	ctx := context.Background()

	require.NoError(t, store.Log(ctx, domain.AuditRunCompleted, map[string]any{"runId": "r1", "accepted": 12}))
	require.NoError(t, store.Log(ctx, domain.AuditArchived, map[string]any{"key": "archive/x.jsonl"}))
	require.NoError(t, store.Log(ctx, domain.AuditRunFailed, map[string]any{"runId": "r2"}))

	runs, err := store.List(ctx, "run.", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, domain.AuditRunFailed, runs[0].Event)
	assert.Equal(t, "r2", runs[0].Detail["runId"])
	assert.Equal(t, domain.AuditRunCompleted, runs[1].Event)
	assert.EqualValues(t, 12, runs[1].Detail["accepted"])

	all, err := store.List(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAuditListQuery(t *testing.T) {
	query, args := auditListQuery("", domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC", query)
	assert.Empty(t, args)

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	query, args = auditListQuery("run.", domain.ListOpts{Since: &since, Limit: 5, Offset: 10})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log"+
		" WHERE starts_with(event, $1) AND created_at >= $2"+
		" ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4", query)
	assert.Equal(t, []any{"run.", since, 5, 10}, args)
}

func TestAuditStore_EmptyDetailIsNull(t *testing.T) {
	client := setupTestDB(t)
	store := NewAuditStore(client.Pool())
	ctx := context.Background()

	require.NoError(t, store.Log(ctx, domain.AuditRunCompleted, nil))

	var isNull bool
	require.NoError(t, client.Pool().QueryRow(ctx, `SELECT detail IS NULL FROM audit_log`).Scan(&isNull))
	assert.True(t, isNull)

	entries, err := store.List(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Detail)
	assert.Equal(t, time.UTC, entries[0].CreatedAt.Location())
}
