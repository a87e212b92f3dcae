package groundtruth

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"validator-backend/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	seen    map[string]int
	missing map[string]bool
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, uris []string) (map[string]protocol.ScrapedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.seen == nil {
		f.seen = make(map[string]int)
	}

	out := make(map[string]protocol.ScrapedRecord)
	for _, uri := range uris {
		f.seen[uri]++
		if f.missing[uri] {
			continue
		}
		out[uri] = protocol.ScrapedRecord{Uri: uri, Content: "truth"}
	}

	return out, f.err
}

func responseWith(miner string, uris ...string) protocol.MinerResponse {
	records := make([]protocol.ScrapedRecord, len(uris))
	for i, uri := range uris {
		records[i] = protocol.ScrapedRecord{Uri: uri, Content: "claimed"}
	}
	return protocol.MinerResponse{Miner: protocol.MinerID(miner), Records: records}
}

func TestPopulateAttachesGroundTruth(t *testing.T) {
	fetcher := &fakeFetcher{}
	sampler := NewSampler(fetcher, 42)

	responses := []protocol.MinerResponse{
		responseWith("m1", "https://a", "https://b"),
		responseWith("m2", "https://b", "https://c"),
	}

	require.NoError(t, sampler.Populate(context.Background(), responses))

	for i, resp := range responses {
		assert.NotEmpty(t, resp.GroundTruth, "response %d", i)
		for uri, truth := range resp.GroundTruth {
			assert.Equal(t, uri, truth.Uri)
			assert.Equal(t, "truth", truth.Content)
		}
	}
}

func TestPopulateDedupsAcrossBatch(t *testing.T) {
	fetcher := &fakeFetcher{}
	sampler := NewSampler(fetcher, 7)

	// Every miner claims the same single record, so only one uri can be
	// sampled and it must be fetched exactly once.
	responses := make([]protocol.MinerResponse, 10)
	for i := range responses {
		responses[i] = responseWith(fmt.Sprintf("m%d", i), "https://shared")
	}

	require.NoError(t, sampler.Populate(context.Background(), responses))

	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, 1, fetcher.seen["https://shared"])
	for i := range responses {
		assert.Contains(t, responses[i].GroundTruth, "https://shared")
	}
}

func TestPopulateSamplesBetweenOneAndThree(t *testing.T) {
	fetcher := &fakeFetcher{}
	sampler := NewSampler(fetcher, 99)

	uris := make([]string, 20)
	for i := range uris {
		uris[i] = fmt.Sprintf("https://r/%d", i)
	}
	responses := []protocol.MinerResponse{responseWith("m1", uris...)}

	require.NoError(t, sampler.Populate(context.Background(), responses))

	n := len(fetcher.seen)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, 3)
}

func TestPopulateDroppedClaims(t *testing.T) {
	fetcher := &fakeFetcher{missing: map[string]bool{"https://gone": true}}
	sampler := NewSampler(fetcher, 3)

	responses := []protocol.MinerResponse{responseWith("m1", "https://gone")}

	require.NoError(t, sampler.Populate(context.Background(), responses))
	assert.Empty(t, responses[0].GroundTruth)
}

func TestPopulateSurvivesFetchOutage(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("validation endpoint down")}
	sampler := NewSampler(fetcher, 3)

	responses := []protocol.MinerResponse{responseWith("m1", "https://a")}

	// An exhausted fetch drops the sample instead of failing the round.
	require.NoError(t, sampler.Populate(context.Background(), responses))
	assert.Empty(t, responses[0].GroundTruth)
	assert.Equal(t, 1, fetcher.calls)
}

func TestPopulateEmptyResponses(t *testing.T) {
	fetcher := &fakeFetcher{}
	sampler := NewSampler(fetcher, 3)

	responses := []protocol.MinerResponse{{Miner: "m1"}}

	require.NoError(t, sampler.Populate(context.Background(), responses))
	assert.Equal(t, 0, fetcher.calls)
}
