package reputation

import (
	"context"
	"testing"
	"time"

	"validator-backend/internal/database"
	"validator-backend/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrganicPenaltyConsumeOnce(t *testing.T) {
	penalties := NewOrganicPenalties(testDB(t), 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, penalties.Increment(ctx, "m1"))
	require.NoError(t, penalties.Increment(ctx, "m1"))
	require.NoError(t, penalties.Increment(ctx, "m2"))

	pending, err := penalties.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[protocol.MinerID]int{"m1": 2, "m2": 1}, pending)

	// Second read gets nothing: the counts were handed out exactly once.
	pending, err = penalties.Consume(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOrganicPenaltyRetention(t *testing.T) {
	db := testDB(t)
	penalties := NewOrganicPenalties(db, 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, penalties.Increment(ctx, "stale"))
	require.NoError(t, db.Model(&database.OrganicPenalty{MinerId: "stale"}).
		Update("updated_at", time.Now().UTC().Add(-3*time.Hour)).Error)

	require.NoError(t, penalties.Increment(ctx, "recent"))

	pending, err := penalties.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[protocol.MinerID]int{"recent": 1}, pending)
}

func TestOrganicPenaltyIncrementAfterConsume(t *testing.T) {
	penalties := NewOrganicPenalties(testDB(t), 2*time.Hour)
	ctx := context.Background()

	require.NoError(t, penalties.Increment(ctx, "m1"))
	_, err := penalties.Consume(ctx)
	require.NoError(t, err)

	require.NoError(t, penalties.Increment(ctx, "m1"))
	pending, err := penalties.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[protocol.MinerID]int{"m1": 1}, pending)
}
