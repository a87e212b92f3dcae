package transport

import (
	"context"
	"sync/atomic"

	"validator-backend/internal/config"
	"validator-backend/pkg/protocol"
)

// Chunk is one element of a streamed miner reply. Records carries a partial
// batch; Final is set on the terminal chunk only and holds the complete
// response. Streams are finite and cannot be restarted.
type Chunk struct {
	Records []protocol.ScrapedRecord `json:"records,omitempty"`
	Final   *protocol.MinerResponse  `json:"final,omitempty"`
}

type Client interface {
	Call(ctx context.Context, miner config.MinerEndpoint, task protocol.QueryTask) (*protocol.MinerResponse, error)

	// CallStreaming returns a channel of chunks. The channel is closed after
	// the terminal chunk or when ctx is cancelled; cancellation affects only
	// this stream.
	CallStreaming(ctx context.Context, miner config.MinerEndpoint, task protocol.QueryTask) (<-chan Chunk, error)
}

// Pool hands out a fixed set of transport clients round-robin so a large
// round spreads connections instead of funneling through one client.
type Pool struct {
	clients []Client
	next    atomic.Uint64
}

func NewPool(size int, factory func() Client) *Pool {
	clients := make([]Client, size)
	for i := range clients {
		clients[i] = factory()
	}
	return &Pool{clients: clients}
}

func NewStaticPool(clients ...Client) *Pool {
	return &Pool{clients: clients}
}

func (p *Pool) Next() Client {
	n := p.next.Add(1)
	return p.clients[(n-1)%uint64(len(p.clients))]
}

func (p *Pool) Size() int {
	return len(p.clients)
}
