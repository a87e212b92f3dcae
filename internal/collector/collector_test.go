package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"validator-backend/internal/config"
	"validator-backend/internal/transport"
	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    int
	inFlight atomic.Int64
	maxSeen  atomic.Int64

	delay   map[protocol.MinerID]time.Duration
	fail    map[protocol.MinerID]bool
	stream  func(miner protocol.MinerID) []transport.Chunk
	records int
}

func (f *fakeClient) Call(ctx context.Context, miner config.MinerEndpoint, task protocol.QueryTask) (*protocol.MinerResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	if d, ok := f.delay[miner.Id]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[miner.Id] {
		return nil, fmt.Errorf("miner %s unreachable", miner.Id)
	}

	n := f.records
	if n == 0 {
		n = 1
	}
	records := make([]protocol.ScrapedRecord, n)
	for i := range records {
		records[i] = protocol.ScrapedRecord{Uri: fmt.Sprintf("https://%s/%d", miner.Id, i)}
	}

	return &protocol.MinerResponse{Records: records, ProcessingTime: 0.5}, nil
}

func (f *fakeClient) CallStreaming(ctx context.Context, miner config.MinerEndpoint, task protocol.QueryTask) (<-chan transport.Chunk, error) {
	if f.fail[miner.Id] {
		return nil, fmt.Errorf("miner %s unreachable", miner.Id)
	}

	out := make(chan transport.Chunk)
	go func() {
		defer close(out)
		for _, chunk := range f.stream(miner.Id) {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func endpoints(n int) []config.MinerEndpoint {
	miners := make([]config.MinerEndpoint, n)
	for i := range miners {
		miners[i] = config.MinerEndpoint{Id: protocol.MinerID(fmt.Sprintf("miner-%03d", i)), Url: "http://unused"}
	}
	return miners
}

func task() protocol.QueryTask {
	return protocol.QueryTask{Id: uuid.New(), Query: "q", MaxExecutionTime: 2}
}

func TestCollectPreservesOrdering(t *testing.T) {
	client := &fakeClient{delay: map[protocol.MinerID]time.Duration{
		// First miner finishes last.
		"miner-000": 100 * time.Millisecond,
		"miner-001": 50 * time.Millisecond,
	}}
	c := New(transport.NewStaticPool(client), 80, time.Second)

	miners := endpoints(5)
	responses := c.Collect(context.Background(), task(), miners)

	require.Len(t, responses, 5)
	for i, resp := range responses {
		assert.Equal(t, miners[i].Id, resp.Miner, "slot %d", i)
	}
}

func TestCollectFailureMarkers(t *testing.T) {
	client := &fakeClient{fail: map[protocol.MinerID]bool{"miner-001": true}}
	c := New(transport.NewStaticPool(client), 80, time.Second)

	tk := task()
	responses := c.Collect(context.Background(), tk, endpoints(3))

	require.Len(t, responses, 3)
	assert.False(t, responses[0].Failed)
	assert.True(t, responses[1].Failed)
	assert.Empty(t, responses[1].Records)
	assert.Equal(t, tk.MaxExecutionTime, responses[1].ProcessingTime)
	assert.False(t, responses[2].Failed)
}

func TestCollectTimeoutBecomesFailure(t *testing.T) {
	client := &fakeClient{delay: map[protocol.MinerID]time.Duration{"miner-000": time.Minute}}
	c := New(transport.NewStaticPool(client), 80, 10*time.Millisecond)

	tk := task()
	tk.MaxExecutionTime = 0.05

	responses := c.Collect(context.Background(), tk, endpoints(1))
	require.Len(t, responses, 1)
	assert.True(t, responses[0].Failed)
}

func TestCollectChunkedDispatch(t *testing.T) {
	client := &fakeClient{delay: map[protocol.MinerID]time.Duration{}}
	for _, m := range endpoints(200) {
		client.delay[m.Id] = 5 * time.Millisecond
	}
	c := New(transport.NewStaticPool(client), 80, time.Second)

	responses := c.Collect(context.Background(), task(), endpoints(200))

	require.Len(t, responses, 200)
	assert.Equal(t, 200, client.calls)
	// Chunking bounds concurrency at the chunk size.
	assert.LessOrEqual(t, client.maxSeen.Load(), int64(80))
}

func TestCollectStreaming(t *testing.T) {
	client := &fakeClient{
		fail: map[protocol.MinerID]bool{"miner-001": true},
		stream: func(miner protocol.MinerID) []transport.Chunk {
			if miner == "miner-002" {
				// Stream ends without a terminal chunk.
				return []transport.Chunk{{Records: []protocol.ScrapedRecord{{Uri: "https://partial"}}}}
			}
			return []transport.Chunk{
				{Records: []protocol.ScrapedRecord{{Uri: "https://a"}}},
				{Final: &protocol.MinerResponse{
					Records:        []protocol.ScrapedRecord{{Uri: "https://a"}},
					ProcessingTime: 0.7,
				}},
			}
		},
	}
	c := New(transport.NewStaticPool(client), 80, time.Second)

	tk := task()
	tk.Streaming = true

	responses := c.Collect(context.Background(), tk, endpoints(3))
	require.Len(t, responses, 3)

	assert.False(t, responses[0].Failed)
	assert.Equal(t, 0.7, responses[0].ProcessingTime)
	assert.True(t, responses[1].Failed)
	assert.True(t, responses[2].Failed)
}
