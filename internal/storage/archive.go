package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"validator-backend/internal/rewards"
	"validator-backend/pkg/protocol"

	"github.com/google/uuid"
)

const archivePrefix = "rounds/"

// RoundArchive is the self-contained record of one scored round, enough to
// recompute an allocation without the database.
type RoundArchive struct {
	RoundId     uuid.UUID           `json:"round_id"`
	Task        protocol.QueryTask  `json:"task"`
	Result      rewards.RoundResult `json:"result"`
	CompletedAt time.Time           `json:"completed_at"`
}

func archiveKey(roundId uuid.UUID) string {
	return archivePrefix + roundId.String() + ".json"
}

func SaveRoundArchive(ctx context.Context, store ObjectStore, bucket string, archive RoundArchive) error {
	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("error marshalling round archive: %w", err)
	}

	if err := store.PutObject(ctx, bucket, archiveKey(archive.RoundId), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error archiving round %s: %w", archive.RoundId, err)
	}

	return nil
}

func LoadRoundArchive(ctx context.Context, store ObjectStore, bucket string, roundId uuid.UUID) (RoundArchive, error) {
	var archive RoundArchive

	data, err := store.GetObject(ctx, bucket, archiveKey(roundId))
	if err != nil {
		return archive, fmt.Errorf("error loading round archive %s: %w", roundId, err)
	}

	if err := json.Unmarshal(data, &archive); err != nil {
		return archive, fmt.Errorf("error parsing round archive %s: %w", roundId, err)
	}

	return archive, nil
}

// ListRoundArchives returns the ids of every archived round in the bucket.
func ListRoundArchives(ctx context.Context, store ObjectStore, bucket string) ([]uuid.UUID, error) {
	objects, err := store.ListObjects(ctx, bucket, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("error listing round archives: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Name, archivePrefix), ".json")
		id, err := uuid.Parse(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}
