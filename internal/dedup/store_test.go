package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_MarkAndCheckPublished(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	published, err := s.IsEventPublished(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, s.MarkAsPublished(ctx, "evt-1"))

	published, err = s.IsEventPublished(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, published)
}

func TestMemoryStore_MarkAsPublishedIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.MarkAsPublished(ctx, "evt-1"))
	require.NoError(t, s.MarkAsPublished(ctx, "evt-1"))

	count, err := s.GetPublishedCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMemoryStore_GetPublishedCount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.MarkAsPublished(ctx, "evt-1"))
	require.NoError(t, s.MarkAsPublished(ctx, "evt-2"))
	require.NoError(t, s.MarkAsPublished(ctx, "evt-3"))

	count, err := s.GetPublishedCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestMemoryStore_DeletePublishedBeforeOnlyRemovesOlderEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.MarkAsPublished(ctx, "old-1"))
	require.NoError(t, s.MarkAsPublished(ctx, "old-2"))
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	require.NoError(t, s.MarkAsPublished(ctx, "new-1"))

	deleted, err := s.DeletePublishedBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	published, err := s.IsEventPublished(ctx, "new-1")
	require.NoError(t, err)
	assert.True(t, published)

	count, err := s.GetPublishedCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
