/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/adapters/jira"
	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/ankit10009/jira-cloud-api/internal/repo"
	"github.com/ankit10009/jira-cloud-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeJira struct {
	mu     sync.Mutex
	total  int
	err    error
	failAt int
	jqls   []string
}

func (f *fakeJira) Search(_ context.Context, jql string, startAt, maxResults int) (*domain.SearchPage, error) {
	f.mu.Lock()
	f.jqls = append(f.jqls, jql)
	f.mu.Unlock()
	if f.err != nil && startAt == f.failAt {
		return nil, f.err
	}
	page := &domain.SearchPage{StartAt: startAt, MaxResults: maxResults, Total: f.total}
	for i := startAt; i < f.total && i < startAt+maxResults; i++ {
		var iss domain.RemoteIssue
		raw := fmt.Sprintf(`{"id":"%d","key":"ABC-%d","fields":{"issuetype":{"name":"Story"},"status":{"name":"Open"}}}`, i+1, i+1)
		if err := json.Unmarshal([]byte(raw), &iss); err != nil {
			return nil, err
		}
		page.Issues = append(page.Issues, iss)
	}
	return page, nil
}

type fakeJobs struct {
	mu  sync.Mutex
	ran []string
}

func (f *fakeJobs) Known(name string) bool { return name == "retention" }
func (f *fakeJobs) Run(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, name)
	return true
}

func newTestRouter(t *testing.T, src *fakeJira) (*gin.Engine, *repo.MemoryStore) {
	t.Helper()
	store := repo.NewMemoryStore()
	cfg := config.Config{AppEnv: "test", JiraMaxResults: 50, JiraProjectKey: "ABC", TZ: "UTC"}
	svc := services.New(cfg, zerolog.Nop(), store, src)
	return NewRouter(cfg, zerolog.Nop(), svc, &fakeJobs{}, nil), store
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t, &fakeJira{})
	w := do(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestYesterday_ReturnsIssuesWithoutStoring(t *testing.T) {
	src := &fakeJira{total: 3}
	r, store := newTestRouter(t, src)

	w := do(r, http.MethodGet, "/api/jira/issues/yesterday/Story")
	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 3)
	assert.Equal(t, "ABC-1", got[0]["key"])
	assert.Equal(t, 0, store.Len())
	assert.Contains(t, src.jqls[0], "project = 'ABC' AND (issueType = 'Story' AND (updated >= '")
}

func TestSync_ReportsCount(t *testing.T) {
	r, store := newTestRouter(t, &fakeJira{total: 120})

	w := do(r, http.MethodPost, "/api/jira/issues/sync/Story")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Synced 120 Story issues to database", w.Body.String())
	assert.Equal(t, 120, store.Len())
	assert.Empty(t, w.Header().Get(HeaderPartial))
}

func TestSync_PartialAndFailedFetch(t *testing.T) {
	t.Run("partial", func(t *testing.T) {
		r, store := newTestRouter(t, &fakeJira{total: 120, failAt: 50, err: &jira.TransportError{Op: "search", Err: context.DeadlineExceeded}})
		w := do(r, http.MethodPost, "/api/jira/issues/sync/Bug")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "true", w.Header().Get(HeaderPartial))
		assert.Equal(t, "Synced 50 Bug issues to database", w.Body.String())
		assert.Equal(t, 50, store.Len())
	})

	t.Run("remote error on first page", func(t *testing.T) {
		r, _ := newTestRouter(t, &fakeJira{total: 10, failAt: 0, err: &jira.RemoteError{StatusCode: 401, Body: "unauthorized"}})
		w := do(r, http.MethodPost, "/api/jira/issues/sync/Bug")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.JSONEq(t, `{"error":"jira returned status 401"}`, w.Body.String())
	})

	t.Run("timeout on first page", func(t *testing.T) {
		r, _ := newTestRouter(t, &fakeJira{total: 10, failAt: 0, err: &jira.TransportError{Op: "search", Err: context.DeadlineExceeded}})
		w := do(r, http.MethodGet, "/api/jira/issues/yesterday/Bug")
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
}

func TestStored_HoursParameter(t *testing.T) {
	r, _ := newTestRouter(t, &fakeJira{total: 2})
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/jira/issues/sync/Story").Code)

	w := do(r, http.MethodGet, "/api/jira/issues/stored/Story")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []domain.StagingRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)

	w = do(r, http.MethodGet, "/api/jira/issues/stored/Bug?hours=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, bad := range []string{"abc", "0", "-3"} {
		w = do(r, http.MethodGet, "/api/jira/issues/stored/Story?hours="+bad)
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestSearch_SaveToDb(t *testing.T) {
	src := &fakeJira{total: 4}
	r, store := newTestRouter(t, src)

	w := do(r, http.MethodGet, "/api/jira/issues/search?jql=project%20%3D%20ABC")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, "project = ABC", src.jqls[0])

	w = do(r, http.MethodGet, "/api/jira/issues/search?jql=project%20%3D%20ABC&saveToDb=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, store.Len())

	row, err := store.FindByKey(context.Background(), "ABC-1")
	require.NoError(t, err)
	assert.Equal(t, "Story", *row.IssueType)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/jira/issues/search").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/jira/issues/search?jql=x&saveToDb=maybe").Code)
}

func TestByKeyAndStats(t *testing.T) {
	r, _ := newTestRouter(t, &fakeJira{total: 3})
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/jira/issues/sync/Story").Code)

	w := do(r, http.MethodGet, "/api/jira/issues/key/ABC-2")
	require.Equal(t, http.StatusOK, w.Code)
	var row domain.StagingRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.Equal(t, "ABC-2", row.IssueKey)
	assert.False(t, row.FetchDate.IsZero())
	assert.WithinDuration(t, time.Now(), row.FetchDate, time.Minute)

	w = do(r, http.MethodGet, "/api/jira/issues/key/ABC-99")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/jira/issues/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"types":{"Story":3}}`, w.Body.String())
}

func TestRunJob(t *testing.T) {
	r, _ := newTestRouter(t, &fakeJira{})
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/admin/jobs/retention").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/admin/jobs/unknown").Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{&jira.RemoteError{StatusCode: 500}, http.StatusBadGateway},
		{&jira.TransportError{Op: "search", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&jira.TransportError{Op: "search", Err: fmt.Errorf("dial tcp: refused")}, http.StatusBadGateway},
		{fmt.Errorf("find: %w", repo.ErrNotFound), http.StatusNotFound},
		{context.Canceled, http.StatusServiceUnavailable},
		{fmt.Errorf("commit batch: broken pipe"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}

type fakeConn struct {
	conn *jira.Connection
	err  error
}

func (f fakeConn) CheckConnection(context.Context) (*jira.Connection, error) { return f.conn, f.err }

func TestConnection(t *testing.T) {
	cfg := config.Config{AppEnv: "test"}
	svc := services.New(cfg, zerolog.Nop(), repo.NewMemoryStore(), &fakeJira{})
	name := "Sync Bot"

	ok := fakeConn{conn: &jira.Connection{
		Server:        jira.ServerInfo{DeploymentType: "Cloud"},
		User:          domain.User{AccountID: "5b10", DisplayName: &name},
		MissingFields: []string{"customfield_10001"},
	}}
	w := do(NewRouter(cfg, zerolog.Nop(), svc, nil, ok), http.MethodGet, "/api/jira/connection")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Sync Bot", body["user"].(map[string]any)["displayName"])
	assert.Equal(t, []any{"customfield_10001"}, body["missingFields"])

	bad := fakeConn{err: &jira.RemoteError{StatusCode: 401}}
	w = do(NewRouter(cfg, zerolog.Nop(), svc, nil, bad), http.MethodGet, "/api/jira/connection")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"jira returned status 401"}`, w.Body.String())

	r, _ := newTestRouter(t, &fakeJira{})
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/jira/connection").Code)
}
