package protocol

import (
	"time"

	"github.com/google/uuid"
)

// MinerID identifies a miner on the network. IDs are opaque hotkey strings
// assigned by the chain, not something the validator mints.
type MinerID string

type RoundKind string

const (
	SyntheticRound RoundKind = "synthetic"
	OrganicRound   RoundKind = "organic"
)

// QueryTask is the unit of work dispatched to miners. The same shape is used
// for synthetic rounds generated by the validator and organic rounds
// originating from user queries.
type QueryTask struct {
	Id   uuid.UUID `json:"id"`
	Kind RoundKind `json:"kind"`

	Source string `json:"source"`
	Query  string `json:"query"`

	ResultCount   int `json:"result_count"`
	RequiredFacts int `json:"required_facts"`

	// MaxExecutionTime is the time budget, in seconds, a miner is given to
	// answer. The collector adds a small grace on top for transit.
	MaxExecutionTime float64 `json:"max_execution_time"`

	Streaming bool `json:"streaming"`
}

func (t QueryTask) Deadline(grace time.Duration) time.Duration {
	return time.Duration(t.MaxExecutionTime*float64(time.Second)) + grace
}

// ScrapedRecord is a single item a miner claims to have scraped. Uri is the
// record's identity for ground-truth validation, Metrics holds numeric
// engagement counters, Extra holds platform-specific nested payload.
type ScrapedRecord struct {
	Uri       string             `json:"uri"`
	Author    string             `json:"author"`
	Content   string             `json:"content"`
	CreatedAt string             `json:"created_at"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Extra     map[string]any     `json:"extra,omitempty"`
}

// MinerResponse is what one miner returned for a task. Failed responses keep
// their slot in the round: empty records, full-timeout processing time.
type MinerResponse struct {
	Miner MinerID `json:"miner"`

	Records []ScrapedRecord `json:"records"`
	Facts   []string        `json:"facts,omitempty"`
	Summary string          `json:"summary,omitempty"`

	// ProcessingTime is the miner-reported wall time in seconds.
	ProcessingTime float64 `json:"processing_time"`

	Failed bool `json:"failed,omitempty"`

	// GroundTruth is attached by the validator after re-fetching sampled
	// claims, keyed by record uri. Never sent over the wire to miners.
	GroundTruth map[string]ScrapedRecord `json:"-"`
}

// FailureResponse builds the explicit marker stored in a miner's slot when
// the call errored or timed out.
func FailureResponse(miner MinerID, task QueryTask) MinerResponse {
	return MinerResponse{
		Miner:          miner,
		ProcessingTime: task.MaxExecutionTime,
		Failed:         true,
	}
}
