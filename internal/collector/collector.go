package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"validator-backend/internal/config"
	"validator-backend/internal/transport"
	"validator-backend/pkg/protocol"
)

// Collector fans a task out to a set of miners and gathers the replies.
// Output ordering always matches the input miner ordering, regardless of
// completion order, and a miner that errors or times out keeps its slot as
// an explicit failure marker.
type Collector struct {
	pool  *transport.Pool
	grace time.Duration

	// chunkSize bounds how many miners are in flight at once; batches above
	// it are dispatched in fixed-size groups.
	chunkSize int
}

func New(pool *transport.Pool, chunkSize int, grace time.Duration) *Collector {
	return &Collector{pool: pool, chunkSize: chunkSize, grace: grace}
}

func (c *Collector) Collect(ctx context.Context, task protocol.QueryTask, miners []config.MinerEndpoint) []protocol.MinerResponse {
	responses := make([]protocol.MinerResponse, len(miners))

	for start := 0; start < len(miners); start += c.chunkSize {
		end := min(start+c.chunkSize, len(miners))
		c.collectChunk(ctx, task, miners[start:end], responses[start:end])
	}

	return responses
}

func (c *Collector) collectChunk(ctx context.Context, task protocol.QueryTask, miners []config.MinerEndpoint, out []protocol.MinerResponse) {
	var wg sync.WaitGroup
	wg.Add(len(miners))

	for i, miner := range miners {
		client := c.pool.Next()

		go func(i int, miner config.MinerEndpoint, client transport.Client) {
			defer wg.Done()
			out[i] = c.collectOne(ctx, client, task, miner)
		}(i, miner, client)
	}

	wg.Wait()
}

func (c *Collector) collectOne(ctx context.Context, client transport.Client, task protocol.QueryTask, miner config.MinerEndpoint) protocol.MinerResponse {
	callCtx, cancel := context.WithTimeout(ctx, task.Deadline(c.grace))
	defer cancel()

	if task.Streaming {
		return c.collectStream(callCtx, client, task, miner)
	}

	response, err := client.Call(callCtx, miner, task)
	if err != nil {
		slog.Warn("miner call failed", "miner", miner.Id, "task_id", task.Id, "error", err)
		return protocol.FailureResponse(miner.Id, task)
	}

	response.Miner = miner.Id
	return *response
}

// collectStream drains one miner's chunk stream with a single reader. The
// terminal chunk ends the wait; a stream that ends without one is a failure.
func (c *Collector) collectStream(ctx context.Context, client transport.Client, task protocol.QueryTask, miner config.MinerEndpoint) protocol.MinerResponse {
	chunks, err := client.CallStreaming(ctx, miner, task)
	if err != nil {
		slog.Warn("miner stream failed to open", "miner", miner.Id, "task_id", task.Id, "error", err)
		return protocol.FailureResponse(miner.Id, task)
	}

	var partial []protocol.ScrapedRecord
	for chunk := range chunks {
		if chunk.Final != nil {
			final := *chunk.Final
			final.Miner = miner.Id
			return final
		}
		partial = append(partial, chunk.Records...)
	}

	slog.Warn("miner stream ended without terminal chunk", "miner", miner.Id, "task_id", task.Id, "partial_records", len(partial))
	return protocol.FailureResponse(miner.Id, task)
}
