package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateRoundStatus(ctx context.Context, txn *gorm.DB, roundId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == RoundCompleted || status == RoundFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&RoundRecord{Id: roundId}).Updates(updates).Error; err != nil {
		slog.Error("error updating round status", "round_id", roundId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveRoundError(ctx context.Context, txn *gorm.DB, roundId uuid.UUID, errorMessage string) {
	updates := map[string]any{
		"status":          RoundFailed,
		"completion_time": time.Now().UTC(),
		"error":           errorMessage,
	}

	if err := txn.WithContext(ctx).Model(&RoundRecord{Id: roundId}).Updates(updates).Error; err != nil {
		slog.Error("error saving round error", "round_id", roundId, "error", err)
	}
}

func SaveRoundOutcome(ctx context.Context, txn *gorm.DB, roundId uuid.UUID, rewards, events any) error {
	bRewards, err := json.Marshal(rewards)
	if err != nil {
		return fmt.Errorf("could not marshal rewards: %w", err)
	}
	bEvents, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("could not marshal events: %w", err)
	}

	updates := map[string]any{
		"status":          RoundCompleted,
		"completion_time": time.Now().UTC(),
		"rewards":         bRewards,
		"events":          bEvents,
	}

	if err := txn.WithContext(ctx).Model(&RoundRecord{Id: roundId}).Updates(updates).Error; err != nil {
		return fmt.Errorf("could not save round outcome: %w", err)
	}
	return nil
}
