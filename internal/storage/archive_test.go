package storage

import (
	"context"
	"testing"
	"time"

	"validator-backend/internal/rewards"
	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundArchiveRoundTrip(t *testing.T) {
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreateBucket(ctx, "archives"))

	archive := RoundArchive{
		RoundId: uuid.New(),
		Task:    protocol.QueryTask{Query: "q", MaxExecutionTime: 10},
		Result: rewards.RoundResult{
			Rewards:     map[protocol.MinerID]float64{"m1": 0.8},
			Multipliers: map[protocol.MinerID]float64{"m1": 1.0},
			Events:      []rewards.Event{{Miner: "m1", Model: "relevance", Score: 0.8}},
		},
		CompletedAt: time.Now().UTC(),
	}

	require.NoError(t, SaveRoundArchive(ctx, store, "archives", archive))

	loaded, err := LoadRoundArchive(ctx, store, "archives", archive.RoundId)
	require.NoError(t, err)
	assert.Equal(t, archive.RoundId, loaded.RoundId)
	assert.Equal(t, archive.Result.Rewards, loaded.Result.Rewards)

	ids, err := ListRoundArchives(ctx, store, "archives")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, archive.RoundId, ids[0])
}

func TestLocalObjectStoreList(t *testing.T) {
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreateBucket(ctx, "b"))

	objects, err := store.ListObjects(ctx, "b", "")
	require.NoError(t, err)
	assert.Empty(t, objects)
}
