package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"validator-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueRoundTrip(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	ctx := context.Background()
	roundId := uuid.New()

	require.NoError(t, queue.PublishSyntheticRound(ctx, models.SyntheticRoundPayload{RoundId: roundId, Query: "q"}))
	require.NoError(t, queue.PublishReplay(ctx, models.ReplayPayload{RoundId: roundId}))

	task := <-queue.Tasks()
	assert.Equal(t, SyntheticRoundQueue, task.Type())

	var payload models.SyntheticRoundPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, roundId, payload.RoundId)
	assert.Equal(t, "q", payload.Query)
	require.NoError(t, task.Ack())

	task = <-queue.Tasks()
	assert.Equal(t, ReplayQueue, task.Type())
}

func TestInMemoryQueueCloseDrainsReceivers(t *testing.T) {
	queue := NewInMemoryQueue()

	require.NoError(t, queue.PublishReplay(context.Background(), models.ReplayPayload{RoundId: uuid.New()}))

	queue.Close()
	queue.Close() // closing twice must be safe

	// The buffered task is still delivered, then the channel reports closed
	// instead of blocking.
	task, ok := <-queue.Tasks()
	require.True(t, ok)
	assert.Equal(t, ReplayQueue, task.Type())

	_, ok = <-queue.Tasks()
	assert.False(t, ok)
}
