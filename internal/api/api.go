package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"validator-backend/internal/config"
	"validator-backend/internal/database"
	"validator-backend/internal/messaging"
	"validator-backend/pkg/api"
	"validator-backend/pkg/models"
	"validator-backend/pkg/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultResultCount    = 10
	defaultExecutionTime  = 12.0
	defaultScoresLimit    = 256
	organicPublishTimeout = 5 * time.Second
)

// RoundCollector is the part of the collector the API needs.
type RoundCollector interface {
	Collect(ctx context.Context, task protocol.QueryTask, miners []config.MinerEndpoint) []protocol.MinerResponse
}

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	collector RoundCollector

	miners       []config.MinerEndpoint
	scoreVersion int
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, collector RoundCollector, cfg config.RewardConfig) *BackendService {
	return &BackendService{
		db:           db,
		publisher:    publisher,
		collector:    collector,
		miners:       cfg.Miners,
		scoreVersion: cfg.ScoreVersion,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/search", func(r chi.Router) {
		r.Post("/", RestHandler(s.Search))
		r.Post("/stream", RestStreamHandler(s.SearchStream))
	})
	r.Route("/miners", func(r chi.Router) {
		r.Get("/scores", RestHandler(s.GetMinerScores))
	})
	r.Route("/rounds", func(r chi.Router) {
		r.Get("/{round_id}", RestHandler(s.GetRound))
	})
}

func (s *BackendService) buildTask(req api.SearchRequest) (protocol.QueryTask, error) {
	if req.Query == "" {
		return protocol.QueryTask{}, CodedErrorf(http.StatusBadRequest, "query is required")
	}

	task := protocol.QueryTask{
		Id:               uuid.New(),
		Kind:             protocol.OrganicRound,
		Source:           req.Source,
		Query:            req.Query,
		ResultCount:      req.ResultCount,
		MaxExecutionTime: req.MaxExecutionTime,
	}
	if task.ResultCount <= 0 {
		task.ResultCount = defaultResultCount
	}
	if task.MaxExecutionTime <= 0 {
		task.MaxExecutionTime = defaultExecutionTime
	}

	return task, nil
}

func (s *BackendService) Search(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SearchRequest](r)
	if err != nil {
		return nil, err
	}

	task, err := s.buildTask(req)
	if err != nil {
		return nil, err
	}

	slog.Info("serving organic search", "round_id", task.Id, "source", task.Source)

	responses := s.collector.Collect(r.Context(), task, s.miners)

	s.enqueueScoring(task, responses)

	return api.SearchResponse{
		RoundId: task.Id,
		Records: mergeRecords(responses, task.ResultCount),
		Miners:  len(responses),
	}, nil
}

// SearchStream serves the same search over a chunked response: one chunk per
// answering miner, then a terminal chunk with the merged result.
func (s *BackendService) SearchStream(r *http.Request) (StreamResponse, error) {
	req, err := ParseRequest[api.SearchRequest](r)
	if err != nil {
		return nil, err
	}

	task, err := s.buildTask(req)
	if err != nil {
		return nil, err
	}

	slog.Info("serving streaming organic search", "round_id", task.Id, "source", task.Source)

	ctx := r.Context()

	return func(yield func(any, error) bool) {
		responses := s.collector.Collect(ctx, task, s.miners)

		s.enqueueScoring(task, responses)

		for _, response := range responses {
			if response.Failed || len(response.Records) == 0 {
				continue
			}
			if !yield(api.SearchChunk{Records: response.Records}, nil) {
				return
			}
		}

		yield(api.SearchChunk{Final: &api.SearchResponse{
			RoundId: task.Id,
			Records: mergeRecords(responses, task.ResultCount),
			Miners:  len(responses),
		}}, nil)
	}, nil
}

// enqueueScoring hands the responses to the round worker. Scoring is
// best-effort from the caller's point of view: a queue failure is logged and
// the search result is still returned.
func (s *BackendService) enqueueScoring(task protocol.QueryTask, responses []protocol.MinerResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), organicPublishTimeout)
	defer cancel()

	payload := models.OrganicScorePayload{
		RoundId:   task.Id,
		Task:      task,
		Responses: responses,
	}
	if err := s.publisher.PublishOrganicScore(ctx, payload); err != nil {
		slog.Error("error enqueueing organic score round", "round_id", task.Id, "error", err)
	}
}

// mergeRecords folds all miner answers into one result set, first answer per
// uri wins, capped at the requested count.
func mergeRecords(responses []protocol.MinerResponse, limit int) []protocol.ScrapedRecord {
	seen := make(map[string]bool)
	merged := make([]protocol.ScrapedRecord, 0, limit)

	for _, response := range responses {
		if response.Failed {
			continue
		}
		for _, record := range response.Records {
			if record.Uri == "" || seen[record.Uri] {
				continue
			}
			seen[record.Uri] = true
			merged = append(merged, record)
			if len(merged) == limit {
				return merged
			}
		}
	}

	return merged
}

func (s *BackendService) GetMinerScores(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.MinerScoresQuery](r)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 {
		params.Limit = defaultScoresLimit
	}

	var rows []database.MinerScore
	err = s.db.WithContext(r.Context()).
		Where("score_version = ?", s.scoreVersion).
		Order("score DESC").
		Limit(params.Limit).
		Find(&rows).Error
	if err != nil {
		slog.Error("error listing miner scores", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to list miner scores")
	}

	scores := make([]api.MinerScore, 0, len(rows))
	for _, row := range rows {
		scores = append(scores, api.MinerScore{
			Miner:     protocol.MinerID(row.MinerId),
			Score:     row.Score,
			UpdatedAt: row.UpdatedAt,
		})
	}

	return api.MinerScoresResponse{ScoreVersion: s.scoreVersion, Scores: scores}, nil
}

func (s *BackendService) GetRound(r *http.Request) (any, error) {
	roundId, err := URLParamUUID(r, "round_id")
	if err != nil {
		return nil, err
	}

	var record database.RoundRecord
	if err := s.db.WithContext(r.Context()).First(&record, "id = ?", roundId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "round %v not found", roundId)
		}
		slog.Error("error fetching round", "round_id", roundId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to fetch round")
	}

	response := api.RoundResponse{
		RoundId:      record.Id,
		Kind:         record.Kind,
		Query:        record.Query,
		Status:       record.Status,
		CreationTime: record.CreationTime,
	}
	if record.CompletionTime.Valid {
		response.CompletionTime = &record.CompletionTime.Time
	}
	if record.Error.Valid {
		response.Error = record.Error.String
	}
	if len(record.Rewards) > 0 {
		if err := json.Unmarshal(record.Rewards, &response.Rewards); err != nil {
			slog.Error("error parsing stored round rewards", "round_id", roundId, "error", err)
		}
	}

	return response, nil
}
