package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/courtres/internal/actor"
	"github.com/example/courtres/internal/obs"
	"github.com/example/courtres/internal/scheduler"
)

type stubInspector map[string]scheduler.State

func (s stubInspector) Inspect(_ context.Context, id string) (scheduler.State, error) {
	if id == "boom" {
		return scheduler.State{}, errors.New("backend down")
	}
	if err := actor.ValidateID(id); err != nil {
		return scheduler.State{}, err
	}
	return s[id], nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRoutes(t *testing.T) {
	id := actor.IDFromName("reserve:web")
	at := time.Date(2026, 4, 8, 9, 0, 0, 0, time.UTC)
	m := obs.NewMetrics()
	m.IncWake("done")

	s := &Server{
		Actors:  stubInspector{id: {ID: id, Params: json.RawMessage(`{"facilityId":1}`), ExecuteAt: &at}},
		Metrics: m,
	}
	h := s.Routes()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `courtres_actor_wake_total{outcome="done"} 1`)

	rec = get(t, h, "/actors/"+id)
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduler.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, id, st.ID)
	assert.JSONEq(t, `{"facilityId":1}`, string(st.Params))
	assert.True(t, st.ExecuteAt.Equal(at))

	assert.Equal(t, http.StatusNotFound, get(t, h, "/actors/"+actor.IDFromName("reserve:other")).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/actors/short").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/actors/boom").Code)
}

func TestReadyzReportsFailures(t *testing.T) {
	s := &Server{
		Actors: stubInspector{},
		Checks: []Check{
			{Name: "catalog", Ping: func(context.Context) error { return nil }},
			{Name: "actors", Ping: func(context.Context) error { return errors.New("redis: connection refused") }},
		},
	}
	rec := get(t, s.Routes(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "connection refused"))
	assert.NotContains(t, rec.Body.String(), "catalog")
}
