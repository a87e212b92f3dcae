package groundtruth

import (
	"context"
	"log/slog"
	"math/rand"

	"validator-backend/pkg/protocol"
)

const (
	minClaims = 1
	maxClaims = 3
)

// Sampler picks a handful of claims per response, fetches each unique uri at
// most once per round, and attaches the results to every response that
// referenced them.
type Sampler struct {
	fetcher Fetcher
	rng     *rand.Rand
}

func NewSampler(fetcher Fetcher, seed int64) *Sampler {
	return &Sampler{fetcher: fetcher, rng: rand.New(rand.NewSource(seed))}
}

// Populate samples claims across the batch and fills each response's
// GroundTruth map in place. Uris that fail to resolve are dropped, and a
// fetch that exhausts its retries drops the whole sample; either way the
// round proceeds and responses left with an empty map score 0 downstream.
func (s *Sampler) Populate(ctx context.Context, responses []protocol.MinerResponse) error {
	sampled := make(map[string]struct{})

	for i := range responses {
		for _, uri := range s.sampleClaims(responses[i]) {
			sampled[uri] = struct{}{}
		}
	}

	if len(sampled) == 0 {
		return nil
	}

	uris := make([]string, 0, len(sampled))
	for uri := range sampled {
		uris = append(uris, uri)
	}

	records, err := s.fetcher.Fetch(ctx, uris)
	if err != nil {
		// A validation outage must not abort the round: every sampled claim
		// is dropped and the affected responses score 0 downstream.
		slog.Error("ground truth fetch failed, continuing without verification", "sampled", len(uris), "error", err)
		return nil
	}
	if len(records) < len(uris) {
		slog.Warn("some claims did not resolve", "sampled", len(uris), "resolved", len(records))
	}

	for i := range responses {
		attachRecords(&responses[i], records)
	}

	return nil
}

// sampleClaims picks 1-3 claim uris from a response's claim-bearing fields.
func (s *Sampler) sampleClaims(response protocol.MinerResponse) []string {
	if len(response.Records) == 0 {
		return nil
	}

	n := minClaims + s.rng.Intn(maxClaims-minClaims+1)
	if n > len(response.Records) {
		n = len(response.Records)
	}

	perm := s.rng.Perm(len(response.Records))
	uris := make([]string, 0, n)
	for _, idx := range perm[:n] {
		if uri := response.Records[idx].Uri; uri != "" {
			uris = append(uris, uri)
		}
	}

	return uris
}

func attachRecords(response *protocol.MinerResponse, fetched map[string]protocol.ScrapedRecord) {
	for _, record := range response.Records {
		if truth, ok := fetched[record.Uri]; ok {
			if response.GroundTruth == nil {
				response.GroundTruth = make(map[string]protocol.ScrapedRecord)
			}
			response.GroundTruth[record.Uri] = truth
		}
	}
}
