package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"validator-backend/internal/config"
	"validator-backend/pkg/protocol"

	"github.com/go-resty/resty/v2"
)

const (
	queryPath  = "/query"
	streamPath = "/query/stream"
)

// HTTPClient speaks the miner HTTP protocol: unary calls through resty,
// streaming calls as newline-delimited JSON chunks read off a raw response
// body.
type HTTPClient struct {
	client *resty.Client
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{client: resty.New()}
}

func (c *HTTPClient) Call(ctx context.Context, miner config.MinerEndpoint, task protocol.QueryTask) (*protocol.MinerResponse, error) {
	var response protocol.MinerResponse

	res, err := c.client.R().
		SetContext(ctx).
		SetBody(task).
		SetResult(&response).
		Post(miner.Url + queryPath)
	if err != nil {
		return nil, fmt.Errorf("error calling miner %s: %w", miner.Id, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("miner %s returned status %d", miner.Id, res.StatusCode())
	}

	response.Miner = miner.Id
	return &response, nil
}

func (c *HTTPClient) CallStreaming(ctx context.Context, miner config.MinerEndpoint, task protocol.QueryTask) (<-chan Chunk, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(task).
		SetDoNotParseResponse(true).
		Post(miner.Url + streamPath)
	if err != nil {
		return nil, fmt.Errorf("error opening stream to miner %s: %w", miner.Id, err)
	}
	if res.StatusCode() != http.StatusOK {
		res.RawBody().Close()
		return nil, fmt.Errorf("miner %s returned status %d", miner.Id, res.StatusCode())
	}

	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)
		defer res.RawBody().Close()

		scanner := bufio.NewScanner(res.RawBody())
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk Chunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				slog.Error("error decoding stream chunk", "miner", miner.Id, "error", err)
				return
			}

			if chunk.Final != nil {
				chunk.Final.Miner = miner.Id
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}

			if chunk.Final != nil {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			slog.Error("error reading stream", "miner", miner.Id, "error", err)
		}
	}()

	return chunks, nil
}
