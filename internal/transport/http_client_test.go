package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"validator-backend/internal/config"
	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask() protocol.QueryTask {
	return protocol.QueryTask{
		Id:               uuid.New(),
		Kind:             protocol.SyntheticRound,
		Source:           "web",
		Query:            "golang generics",
		ResultCount:      5,
		MaxExecutionTime: 10,
	}
}

func TestCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)

		var task protocol.QueryTask
		require.NoError(t, json.NewDecoder(r.Body).Decode(&task))
		assert.Equal(t, "golang generics", task.Query)

		resp := protocol.MinerResponse{
			Records:        []protocol.ScrapedRecord{{Uri: "https://a", Content: "x"}},
			ProcessingTime: 1.2,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := NewHTTPClient()
	res, err := client.Call(context.Background(), config.MinerEndpoint{Id: "m1", Url: server.URL}, testTask())
	require.NoError(t, err)

	assert.Equal(t, protocol.MinerID("m1"), res.Miner)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1.2, res.ProcessingTime)
}

func TestCallErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient()
	_, err := client.Call(context.Background(), config.MinerEndpoint{Id: "m1", Url: server.URL}, testTask())
	assert.Error(t, err)
}

func TestCallStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query/stream", r.URL.Path)

		enc := json.NewEncoder(w)
		require.NoError(t, enc.Encode(Chunk{Records: []protocol.ScrapedRecord{{Uri: "https://a"}}}))
		require.NoError(t, enc.Encode(Chunk{Records: []protocol.ScrapedRecord{{Uri: "https://b"}}}))
		require.NoError(t, enc.Encode(Chunk{Final: &protocol.MinerResponse{
			Records:        []protocol.ScrapedRecord{{Uri: "https://a"}, {Uri: "https://b"}},
			ProcessingTime: 0.5,
		}}))
	}))
	defer server.Close()

	client := NewHTTPClient()
	chunks, err := client.CallStreaming(context.Background(), config.MinerEndpoint{Id: "m2", Url: server.URL}, testTask())
	require.NoError(t, err)

	var partials int
	var final *protocol.MinerResponse
	for chunk := range chunks {
		if chunk.Final != nil {
			final = chunk.Final
		} else {
			partials++
		}
	}

	assert.Equal(t, 2, partials)
	require.NotNil(t, final)
	assert.Equal(t, protocol.MinerID("m2"), final.Miner)
	assert.Len(t, final.Records, 2)
}

func TestCallStreamingCancellation(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		require.NoError(t, enc.Encode(Chunk{Records: []protocol.ScrapedRecord{{Uri: "https://a"}}}))
		w.(http.Flusher).Flush()
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewHTTPClient()
	chunks, err := client.CallStreaming(ctx, config.MinerEndpoint{Id: "m3", Url: server.URL}, testTask())
	require.NoError(t, err)

	<-chunks
	cancel()

	select {
	case _, open := <-chunks:
		assert.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestPoolRoundRobin(t *testing.T) {
	a, b, c := NewHTTPClient(), NewHTTPClient(), NewHTTPClient()
	pool := NewStaticPool(a, b, c)

	assert.Equal(t, 3, pool.Size())
	assert.Same(t, a, pool.Next().(*HTTPClient))
	assert.Same(t, b, pool.Next().(*HTTPClient))
	assert.Same(t, c, pool.Next().(*HTTPClient))
	assert.Same(t, a, pool.Next().(*HTTPClient))
}
