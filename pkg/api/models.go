package api

import (
	"time"

	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
)

type SearchRequest struct {
	Source string `json:"source"`
	Query  string `json:"query"`

	ResultCount      int     `json:"result_count,omitempty"`
	MaxExecutionTime float64 `json:"max_execution_time,omitempty"`
}

type SearchResponse struct {
	RoundId uuid.UUID                `json:"round_id"`
	Records []protocol.ScrapedRecord `json:"records"`
	Miners  int                      `json:"miners"`
}

// SearchChunk is one element of a streamed search. Final is set on the last
// chunk only and carries the merged result.
type SearchChunk struct {
	Records []protocol.ScrapedRecord `json:"records,omitempty"`
	Final   *SearchResponse          `json:"final,omitempty"`
}

type MinerScoresQuery struct {
	Limit int `schema:"limit"`
}

type MinerScore struct {
	Miner     protocol.MinerID `json:"miner"`
	Score     float64          `json:"score"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type MinerScoresResponse struct {
	ScoreVersion int          `json:"score_version"`
	Scores       []MinerScore `json:"scores"`
}

type RoundResponse struct {
	RoundId        uuid.UUID          `json:"round_id"`
	Kind           string             `json:"kind"`
	Query          string             `json:"query"`
	Status         string             `json:"status"`
	CreationTime   time.Time          `json:"creation_time"`
	CompletionTime *time.Time         `json:"completion_time,omitempty"`
	Rewards        map[string]float64 `json:"rewards,omitempty"`
	Error          string             `json:"error,omitempty"`
}
