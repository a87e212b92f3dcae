package groundtruth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"validator-backend/pkg/protocol"

	"github.com/go-resty/resty/v2"
)

// Fetcher re-fetches claimed records from the source of truth. Partial
// success is expected: the returned map holds whatever resolved, and an
// error is returned only when the fetch as a whole failed.
type Fetcher interface {
	Fetch(ctx context.Context, uris []string) (map[string]protocol.ScrapedRecord, error)
}

type HTTPFetcher struct {
	client   *resty.Client
	url      string
	attempts int
	backoff  time.Duration
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(url string, attempts int, backoff time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client:   resty.New(),
		url:      url,
		attempts: attempts,
		backoff:  backoff,
	}
}

type fetchRequest struct {
	Uris []string `json:"uris"`
}

type fetchResponse struct {
	Records map[string]protocol.ScrapedRecord `json:"records"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uris []string) (map[string]protocol.ScrapedRecord, error) {
	var lastErr error

	for attempt := 1; attempt <= f.attempts; attempt++ {
		records, err := f.fetchOnce(ctx, uris)
		if err == nil {
			return records, nil
		}
		lastErr = err

		slog.Warn("ground truth fetch failed", "attempt", attempt, "max_attempts", f.attempts, "uris", len(uris), "error", err)

		if attempt < f.attempts {
			select {
			case <-time.After(f.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("ground truth fetch failed after %d attempts: %w", f.attempts, lastErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, uris []string) (map[string]protocol.ScrapedRecord, error) {
	var response fetchResponse

	res, err := f.client.R().
		SetContext(ctx).
		SetBody(fetchRequest{Uris: uris}).
		SetResult(&response).
		Post(f.url)
	if err != nil {
		return nil, fmt.Errorf("error calling validation endpoint: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("validation endpoint returned status %d", res.StatusCode())
	}

	return response.Records, nil
}
