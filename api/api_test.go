package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/api"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	store   *memory.Store
	eng     *engine.Engine
	handler http.Handler
	email   *job.Definition[string]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}
	eng, err := engine.New(f.store)
	require.NoError(t, err)
	f.eng = eng
	f.email = job.NewDefinition("send-email", func(context.Context, string) error { return nil })
	engine.Register(eng, f.email)
	f.handler = api.New(eng).Handler()
	return f
}

// addFailure records a failed job whose payload is a valid record, so it
// can be retried.
func (f *fixture) addFailure(t *testing.T, id, queue string, happenedAt time.Time) {
	t.Helper()
	target, _, err := f.eng.Registry().Encode(f.email.Call("a@example.com"))
	require.NoError(t, err)
	payload, err := job.EncodeRecord(&job.Record{
		ID: id, Name: "send-email", Attempts: 3, MaxAttempts: 3, RunningTimeoutSec: 60, Target: target,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.PushDLQ(context.Background(), &dlq.Entry{
		ID:         id,
		Queue:      queue,
		Name:       "send-email",
		Payload:    payload,
		Attempts:   3,
		Exception:  dlq.NewException(errors.New("smtp timeout")),
		HappenedAt: happenedAt,
	}))
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListFailed(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.addFailure(t, "job_a", "default", now.Add(-2*time.Minute))
	f.addFailure(t, "job_b", "mail", now.Add(-time.Minute))
	f.addFailure(t, "job_c", "mail", now)

	rec := f.do(t, http.MethodGet, "/v1/failed")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]dlq.Entry](t, rec)
	require.Len(t, all, 3)
	assert.Equal(t, "job_a", all[0].ID)
	assert.Equal(t, "smtp timeout", all[0].Exception.Message)

	rec = f.do(t, http.MethodGet, "/v1/failed?queue=mail&limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[[]dlq.Entry](t, rec)
	require.Len(t, page, 1)
	assert.Equal(t, "job_c", page[0].ID)
}

func TestListFailed_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/failed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListFailed_BadLimit(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/failed?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFailed(t *testing.T) {
	f := newFixture(t)
	f.addFailure(t, "job_a", "default", time.Now())

	rec := f.do(t, http.MethodGet, "/v1/failed/job_a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job_a", decode[dlq.Entry](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/v1/failed/job_missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Error, "not found")
}

func TestCountFailed(t *testing.T) {
	f := newFixture(t)
	f.addFailure(t, "job_a", "default", time.Now())
	f.addFailure(t, "job_b", "default", time.Now())

	rec := f.do(t, http.MethodGet, "/v1/failed/count")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[api.CountResponse](t, rec).Count)
}

func TestRetryFailed(t *testing.T) {
	f := newFixture(t)
	f.addFailure(t, "job_a", "mail", time.Now())

	rec := f.do(t, http.MethodPost, "/v1/failed/job_a/retry")
	require.Equal(t, http.StatusNoContent, rec.Code)

	stats, err := f.eng.Stats(context.Background(), "mail")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Ready)

	n, _ := f.store.CountDLQ(context.Background())
	assert.Zero(t, n)

	rec = f.do(t, http.MethodPost, "/v1/failed/job_a/retry")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryAllFailed(t *testing.T) {
	f := newFixture(t)
	f.addFailure(t, "job_a", "mail", time.Now())
	f.addFailure(t, "job_b", "mail", time.Now())
	f.addFailure(t, "job_c", "default", time.Now())

	rec := f.do(t, http.MethodPost, "/v1/failed/retry?queue=mail")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[api.RetryAllResponse](t, rec).Retried)

	n, _ := f.store.CountDLQ(context.Background())
	assert.EqualValues(t, 1, n)
}

func TestForgetFailed(t *testing.T) {
	f := newFixture(t)
	f.addFailure(t, "job_a", "default", time.Now())

	rec := f.do(t, http.MethodDelete, "/v1/failed/job_a")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/failed/job_a")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlushFailed(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.addFailure(t, "job_old", "default", now.Add(-48*time.Hour))
	f.addFailure(t, "job_new", "default", now)

	rec := f.do(t, http.MethodDelete, "/v1/failed?older_than=24h")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[api.DeleteResponse](t, rec).Deleted)

	rec = f.do(t, http.MethodDelete, "/v1/failed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[api.DeleteResponse](t, rec).Deleted)

	rec = f.do(t, http.MethodDelete, "/v1/failed?older_than=soon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := engine.Enqueue(ctx, f.eng, f.email, "a@example.com", job.WithQueue("mail"))
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, f.eng, f.email, "b@example.com", job.WithQueue("mail"), job.WithDelay(time.Hour))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/v1/queues/mail/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"mail","ready":1,"delayed":1,"reserved":0,"total":2}`, rec.Body.String())
}

func TestRestartWorkers(t *testing.T) {
	f := newFixture(t)
	since := time.Now().Add(-time.Second)

	rec := f.do(t, http.MethodPost, "/v1/workers/restart")
	require.Equal(t, http.StatusAccepted, rec.Code)

	restart, err := f.eng.Queue("").ShallWorkerRestart(context.Background(), since)
	require.NoError(t, err)
	assert.True(t, restart)
}

func TestListCrons(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, engine.RegisterCron(f.eng, &cron.Definition[string]{
		Name: "digest", Schedule: "@hourly", Job: f.email, Payload: "digest@example.com",
	}))

	rec := f.do(t, http.MethodGet, "/v1/crons")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]cron.Status](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "digest", entries[0].Name)
	assert.Equal(t, "@hourly", entries[0].Schedule)
}

// queueOnly exposes only the queue methods of a store.
type queueOnly struct{ queue.Store }

func TestNoFailureStore(t *testing.T) {
	eng, err := engine.New(queueOnly{memory.New()})
	require.NoError(t, err)
	h := api.New(eng).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/failed", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
