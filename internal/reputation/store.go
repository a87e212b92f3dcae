package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"validator-backend/internal/database"
	"validator-backend/pkg/protocol"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the single writer for the persisted moving averages. All merges
// go through one mutex; readers get copies.
type Store struct {
	mu sync.Mutex

	db      *gorm.DB
	alpha   float64
	version int

	averages map[protocol.MinerID]float64
}

func NewStore(db *gorm.DB, alpha float64, scoreVersion int) (*Store, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in (0, 1], got %v", alpha)
	}

	s := &Store{
		db:       db,
		alpha:    alpha,
		version:  scoreVersion,
		averages: make(map[protocol.MinerID]float64),
	}

	if err := s.ensureVersion(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureVersion compares the persisted score version against the configured
// one. A mismatch wipes the averages but keeps round history.
func (s *Store) ensureVersion() error {
	var row database.ScoreVersion
	err := s.db.First(&row, 1).Error

	switch {
	case err == gorm.ErrRecordNotFound:
		return s.db.Create(&database.ScoreVersion{Id: 1, Version: s.version}).Error
	case err != nil:
		return fmt.Errorf("error reading score version: %w", err)
	}

	if row.Version == s.version {
		return nil
	}

	slog.Warn("score version changed, resetting miner averages", "stored", row.Version, "configured", s.version)

	return s.db.Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("1 = 1").Delete(&database.MinerScore{}).Error; err != nil {
			return fmt.Errorf("error clearing miner scores: %w", err)
		}
		if err := txn.Model(&database.ScoreVersion{Id: 1}).Update("version", s.version).Error; err != nil {
			return fmt.Errorf("error updating score version: %w", err)
		}
		return nil
	})
}

func (s *Store) load() error {
	var rows []database.MinerScore
	if err := s.db.Where("score_version = ?", s.version).Find(&rows).Error; err != nil {
		return fmt.Errorf("error loading miner scores: %w", err)
	}

	for _, row := range rows {
		s.averages[protocol.MinerID(row.MinerId)] = row.Score
	}

	slog.Info("loaded miner averages", "miners", len(rows), "score_version", s.version)
	return nil
}

// Averages returns a copy of the current moving averages.
func (s *Store) Averages() map[protocol.MinerID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[protocol.MinerID]float64, len(s.averages))
	for miner, score := range s.averages {
		out[miner] = score
	}
	return out
}

// Merge folds one round's rewards into the averages and persists the result.
// Scatter then blend: a known miner absent from the round decays toward
// zero, a new miner starts from zero.
func (s *Store) Merge(ctx context.Context, rewards map[protocol.MinerID]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for miner := range rewards {
		if _, ok := s.averages[miner]; !ok {
			s.averages[miner] = 0
		}
	}

	for miner, old := range s.averages {
		reward := rewards[miner] // zero when absent, which is the decay path
		s.averages[miner] = s.alpha*reward + (1-s.alpha)*old
	}

	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	now := time.Now().UTC()

	rows := make([]database.MinerScore, 0, len(s.averages))
	for miner, score := range s.averages {
		rows = append(rows, database.MinerScore{
			MinerId:      string(miner),
			Score:        score,
			ScoreVersion: s.version,
			UpdatedAt:    now,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "miner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "score_version", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("error persisting miner scores: %w", err)
	}

	return nil
}
