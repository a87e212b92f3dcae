package messaging

import (
	"context"
	"encoding/json"
	"sync"

	"validator-backend/pkg/models"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue backs local mode and tests: a single process acts as both
// publisher and receiver.
type InMemoryQueue struct {
	tasks     chan Task
	closeOnce sync.Once
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) publishTaskInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.tasks <- &inMemoryTask{queue: queue, payload: data}

	return nil
}

func (q *InMemoryQueue) PublishSyntheticRound(ctx context.Context, payload models.SyntheticRoundPayload) error {
	return q.publishTaskInternal(SyntheticRoundQueue, payload)
}

func (q *InMemoryQueue) PublishOrganicScore(ctx context.Context, payload models.OrganicScorePayload) error {
	return q.publishTaskInternal(OrganicScoreQueue, payload)
}

func (q *InMemoryQueue) PublishReplay(ctx context.Context, payload models.ReplayPayload) error {
	return q.publishTaskInternal(ReplayQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

// Close shuts the task channel. Tasks keeps returning the closed channel so
// receive loops drain and exit instead of blocking on a nil channel.
func (q *InMemoryQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
}
