package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectio/finding-overrides/pkg/findings"
)

func appendPublish(t *testing.T, s *Store, key findings.Key, entity findings.EntityType, label string, before, after Snapshot) {
	t.Helper()
	tr := &Transition{Key: key, Before: before, After: after, FromVersion: before.VersionText(), ToVersion: label}
	require.NoError(t, s.Audit.Append(context.Background(), NewEntry(entity, ActionPublish, tr, "bob", "batch-1")))
}

func TestAuditAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	appendPublish(t, s, findings.DimensionsKey("F1"), findings.EntityDimensions, "L1", nil, Snapshot{"severity": 2.0})
	appendPublish(t, s, findings.DimensionsKey("F2"), findings.EntityDimensions, "L1", nil, Snapshot{"severity": 3.0})
	appendPublish(t, s, findings.MessagesKey("F1", "en"), findings.EntityMessages, "L1", nil, Snapshot{"title": "x"})

	all, next, total, err := s.Audit.List(ctx, AuditFilter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, next)
	require.Len(t, all, 3)
	assert.Equal(t, findings.EntityMessages, all[0].EntityType, "newest first")
	assert.Equal(t, "en", *all[0].Lang)

	dims, _, total, err := s.Audit.List(ctx, AuditFilter{EntityType: findings.EntityDimensions, FindingID: "F1"}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, dims, 1)
	diff := dims[0].Diff.Data()
	assert.Nil(t, diff.Before)
	assert.EqualValues(t, 2, diff.After["severity"])
	assert.Nil(t, dims[0].Lang)

	batch, _, total, err := s.Audit.List(ctx, AuditFilter{BatchID: "batch-1", Action: ActionPublish}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, batch, 3)
	_, _, total, err = s.Audit.List(ctx, AuditFilter{BatchID: "other"}, 10, "")
	require.NoError(t, err)
	assert.Zero(t, total)

	page, next, _, err := s.Audit.List(ctx, AuditFilter{}, 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotEmpty(t, next)
	rest, next, _, err := s.Audit.List(ctx, AuditFilter{}, 2, next)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.Empty(t, next)
}

func TestAuditAppendRejectsStoredEntries(t *testing.T) {
	s := newTestStore(t)
	entry := NewEntry(findings.EntityDimensions, ActionPublish, &Transition{Key: findings.DimensionsKey("F1"), ToVersion: "L1"}, "bob", "")
	require.NoError(t, s.Audit.Append(context.Background(), entry))
	assert.Error(t, s.Audit.Append(context.Background(), entry))
}

func TestLatestPublishAndPublishedKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f1 := findings.DimensionsKey("F1")

	appendPublish(t, s, f1, findings.EntityDimensions, "L1", nil, Snapshot{"severity": 1.0, "version_text": "L1"})
	appendPublish(t, s, f1, findings.EntityDimensions, "L1", Snapshot{"severity": 1.0, "version_text": "L1"}, Snapshot{"severity": 2.0, "version_text": "L1"})
	appendPublish(t, s, findings.DimensionsKey("F2"), findings.EntityDimensions, "L1", nil, Snapshot{})
	appendPublish(t, s, findings.MessagesKey("F3", "fr"), findings.EntityMessages, "L1", nil, Snapshot{})

	latest, err := s.Audit.LatestPublish(ctx, findings.EntityDimensions, "L1", f1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.EqualValues(t, 1, latest.Diff.Data().Before["severity"])
	assert.Equal(t, "L1", latest.FromVersion)

	missing, err := s.Audit.LatestPublish(ctx, findings.EntityDimensions, "L9", f1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	keys, err := s.Audit.PublishedKeys(ctx, findings.EntityDimensions, "L1", "")
	require.NoError(t, err)
	assert.Equal(t, []findings.Key{{FindingID: "F1"}, {FindingID: "F2"}}, keys)

	keys, err = s.Audit.PublishedKeys(ctx, findings.EntityMessages, "L1", "")
	require.NoError(t, err)
	assert.Equal(t, []findings.Key{{FindingID: "F3", Lang: "fr"}}, keys)
}
