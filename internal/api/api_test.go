package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	backend "validator-backend/internal/api"
	"validator-backend/internal/config"
	"validator-backend/internal/database"
	"validator-backend/internal/messaging"
	"validator-backend/pkg/api"
	"validator-backend/pkg/models"
	"validator-backend/pkg/protocol"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCollector struct {
	responses []protocol.MinerResponse
}

func (c *fakeCollector) Collect(ctx context.Context, task protocol.QueryTask, miners []config.MinerEndpoint) []protocol.MinerResponse {
	return c.responses
}

type testEnv struct {
	db     *gorm.DB
	queue  *messaging.InMemoryQueue
	server *httptest.Server
}

func setupTest(t *testing.T, responses []protocol.MinerResponse) *testEnv {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	cfg := config.DefaultRewardConfig()
	cfg.Miners = []config.MinerEndpoint{{Id: "m1", Url: "http://m1"}, {Id: "m2", Url: "http://m2"}}

	service := backend.NewBackendService(db, queue, &fakeCollector{responses: responses}, cfg)

	router := chi.NewRouter()
	service.AddRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{db: db, queue: queue, server: server}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	data, err := json.Marshal(body)
	require.NoError(t, err)

	res, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return res
}

func (e *testEnv) nextTask(t *testing.T) messaging.Task {
	select {
	case task := <-e.queue.Tasks():
		return task
	case <-time.After(time.Second):
		t.Fatal("no task on queue")
		return nil
	}
}

func minerResponses() []protocol.MinerResponse {
	return []protocol.MinerResponse{
		{Miner: "m1", Records: []protocol.ScrapedRecord{
			{Uri: "u1", Content: "first"},
			{Uri: "u2", Content: "second"},
		}, ProcessingTime: 1},
		{Miner: "m2", Records: []protocol.ScrapedRecord{
			{Uri: "u2", Content: "second again"},
			{Uri: "u3", Content: "third"},
		}, ProcessingTime: 2},
	}
}

func TestSearchMergesRecordsAndEnqueuesScoring(t *testing.T) {
	env := setupTest(t, minerResponses())

	res := env.post(t, "/search", api.SearchRequest{Source: "x", Query: "anything"})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var searchRes api.SearchResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&searchRes))

	assert.Equal(t, 2, searchRes.Miners)
	require.Len(t, searchRes.Records, 3) // u2 deduplicated
	assert.Equal(t, "u1", searchRes.Records[0].Uri)
	assert.Equal(t, "first", searchRes.Records[0].Content)

	task := env.nextTask(t)
	assert.Equal(t, messaging.OrganicScoreQueue, task.Type())

	var payload models.OrganicScorePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, searchRes.RoundId, payload.RoundId)
	assert.Equal(t, protocol.OrganicRound, payload.Task.Kind)
	assert.Len(t, payload.Responses, 2)
}

func TestSearchSkipsFailedMinersInMerge(t *testing.T) {
	responses := minerResponses()
	responses[1] = protocol.FailureResponse("m2", protocol.QueryTask{MaxExecutionTime: 12})

	env := setupTest(t, responses)

	res := env.post(t, "/search", api.SearchRequest{Query: "anything"})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var searchRes api.SearchResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&searchRes))
	assert.Len(t, searchRes.Records, 2)

	// The failed response still rides along for scoring.
	var payload models.OrganicScorePayload
	require.NoError(t, json.Unmarshal(env.nextTask(t).Payload(), &payload))
	require.Len(t, payload.Responses, 2)
	assert.True(t, payload.Responses[1].Failed)
}

func TestSearchRequiresQuery(t *testing.T) {
	env := setupTest(t, nil)

	res := env.post(t, "/search", api.SearchRequest{Source: "x"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSearchStream(t *testing.T) {
	env := setupTest(t, minerResponses())

	res := env.post(t, "/search/stream", api.SearchRequest{Query: "anything"})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var chunks []api.SearchChunk
	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		var msg backend.StreamMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		require.Equal(t, http.StatusOK, msg.Code)
		require.Empty(t, msg.Error)

		data, err := json.Marshal(msg.Data)
		require.NoError(t, err)

		var chunk api.SearchChunk
		require.NoError(t, json.Unmarshal(data, &chunk))
		chunks = append(chunks, chunk)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, chunks, 3) // one per answering miner plus the terminal chunk
	assert.Nil(t, chunks[0].Final)
	assert.Nil(t, chunks[1].Final)
	require.NotNil(t, chunks[2].Final)
	assert.Len(t, chunks[2].Final.Records, 3)
}

func TestGetMinerScores(t *testing.T) {
	env := setupTest(t, nil)

	now := time.Now().UTC()
	require.NoError(t, env.db.Create(&[]database.MinerScore{
		{MinerId: "m1", Score: 0.9, ScoreVersion: 1, UpdatedAt: now},
		{MinerId: "m2", Score: 0.4, ScoreVersion: 1, UpdatedAt: now},
		{MinerId: "old", Score: 0.99, ScoreVersion: 0, UpdatedAt: now},
	}).Error)

	res, err := http.Get(env.server.URL + "/miners/scores")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var scoresRes api.MinerScoresResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&scoresRes))

	assert.Equal(t, 1, scoresRes.ScoreVersion)
	require.Len(t, scoresRes.Scores, 2) // stale version excluded
	assert.Equal(t, protocol.MinerID("m1"), scoresRes.Scores[0].Miner)

	res, err = http.Get(env.server.URL + "/miners/scores?limit=1")
	require.NoError(t, err)
	defer res.Body.Close()

	require.NoError(t, json.NewDecoder(res.Body).Decode(&scoresRes))
	require.Len(t, scoresRes.Scores, 1)
	assert.Equal(t, protocol.MinerID("m1"), scoresRes.Scores[0].Miner)
}

func TestGetRound(t *testing.T) {
	env := setupTest(t, nil)

	roundId := uuid.New()
	rewards, _ := json.Marshal(map[string]float64{"m1": 0.8})
	require.NoError(t, env.db.Create(&database.RoundRecord{
		Id:           roundId,
		Kind:         string(protocol.SyntheticRound),
		Query:        "q",
		Status:       database.RoundCompleted,
		CreationTime: time.Now().UTC(),
		Rewards:      rewards,
	}).Error)

	res, err := http.Get(env.server.URL + fmt.Sprintf("/rounds/%s", roundId))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var roundRes api.RoundResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&roundRes))
	assert.Equal(t, roundId, roundRes.RoundId)
	assert.Equal(t, database.RoundCompleted, roundRes.Status)
	assert.InDelta(t, 0.8, roundRes.Rewards["m1"], 1e-9)

	res, err = http.Get(env.server.URL + fmt.Sprintf("/rounds/%s", uuid.New()))
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
