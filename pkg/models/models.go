package models

import (
	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
)

// Queue payloads shared between the API process and the round worker.

type SyntheticRoundPayload struct {
	RoundId uuid.UUID

	// Query is optional; when empty the worker generates one from its
	// synthetic prompt set.
	Source string
	Query  string

	ResultCount int
}

type OrganicScorePayload struct {
	RoundId uuid.UUID

	Task      protocol.QueryTask
	Responses []protocol.MinerResponse
}

type ReplayPayload struct {
	RoundId uuid.UUID
}
