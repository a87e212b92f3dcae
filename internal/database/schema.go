package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoundRunning   string = "RUNNING"
	RoundCompleted string = "COMPLETED"
	RoundFailed    string = "FAILED"
)

// MinerScore is one miner's persisted moving average under a score version.
// Bumping the version resets every average to zero.
type MinerScore struct {
	MinerId string `gorm:"primaryKey"`

	Score        float64 `gorm:"not null;default:0"`
	ScoreVersion int     `gorm:"not null"`

	UpdatedAt time.Time
}

// RoundRecord is the durable trail of one scoring round. Rewards and Events
// hold the per-miner outcome as JSON so a round can be replayed without the
// original responses.
type RoundRecord struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Kind   string `gorm:"size:20;not null"`
	Source string
	Query  string

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	CompletionTime sql.NullTime

	Rewards datatypes.JSON `gorm:"type:jsonb"`
	Events  datatypes.JSON `gorm:"type:jsonb"`

	Error sql.NullString
}

// OrganicPenalty counts organic-round failures pending consumption by the
// next synthetic round. Rows untouched past the retention window are purged.
type OrganicPenalty struct {
	MinerId string `gorm:"primaryKey"`

	Pending   int `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// ScoreVersion pins the version of the persisted averages, a single-row
// table checked at startup.
type ScoreVersion struct {
	Id      int `gorm:"primaryKey"`
	Version int `gorm:"not null"`
}
