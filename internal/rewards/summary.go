package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"validator-backend/internal/semantic"
	"validator-backend/pkg/protocol"
)

const summaryScale = 10

const summarySystemPrompt = `You grade whether a stated fact is supported by source material.
Reply with a line of the form "Score: N" where N is an integer from 0 (unsupported) to 10 (fully supported).`

// SummaryModel grades each surfaced fact through the semantic scorer, then
// scales the average by how many facts were surfaced relative to what the
// task asked for.
type SummaryModel struct {
	scorer semantic.Scorer
}

var _ Model = (*SummaryModel)(nil)

func NewSummaryModel(scorer semantic.Scorer) *SummaryModel {
	return &SummaryModel{scorer: scorer}
}

func (m *SummaryModel) Name() string {
	return string(Summary)
}

func (m *SummaryModel) Apply(ctx context.Context, task protocol.QueryTask, responses []protocol.MinerResponse) ([]Event, error) {
	events := make([]Event, len(responses))
	for i, response := range responses {
		events[i] = m.scoreResponse(ctx, task, response)
	}
	return events, nil
}

func (m *SummaryModel) scoreResponse(ctx context.Context, task protocol.QueryTask, response protocol.MinerResponse) Event {
	event := Event{Miner: response.Miner, Model: m.Name()}

	if len(response.Facts) == 0 {
		event.Explanation = "no facts surfaced"
		return event
	}

	var total float64
	var graded int
	for _, fact := range response.Facts {
		reply, err := m.scorer.Score(ctx, summarySystemPrompt, factPrompt(task, response, fact))
		if err != nil {
			slog.Error("error grading fact", "miner", response.Miner, "error", err)
			continue
		}
		total += semantic.ExtractScore(reply, summaryScale) / summaryScale
		graded++
	}

	if graded == 0 {
		event.Explanation = "fact grading failed"
		return event
	}

	score := total / float64(graded)

	// Scale by surfaced/required, capped at 1: surfacing fewer facts than
	// asked dilutes the score, surfacing more never inflates it.
	if task.RequiredFacts > 0 {
		coverage := float64(len(response.Facts)) / float64(task.RequiredFacts)
		if coverage > 1 {
			coverage = 1
		}
		score *= coverage
	}

	event.Score = clamp01(score)
	event.Explanation = fmt.Sprintf("graded %d/%d facts", graded, len(response.Facts))
	return event
}

func factPrompt(task protocol.QueryTask, response protocol.MinerResponse, fact string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\n", task.Query)
	fmt.Fprintf(&b, "Fact: %s\n\n", fact)
	b.WriteString("Source material:\n")
	for _, record := range response.Records {
		fmt.Fprintf(&b, "- %s\n", record.Content)
	}
	return b.String()
}
