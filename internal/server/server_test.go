package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ai-novine/portal/internal/cache"
	"github.com/ai-novine/portal/internal/config"
	"github.com/ai-novine/portal/internal/model"
	"github.com/ai-novine/portal/internal/scheduler"
	"github.com/ai-novine/portal/internal/server"
)

type stubFetcher struct {
	fail bool
}

func (f *stubFetcher) FetchCategory(_ context.Context, category string) ([]model.Article, error) {
	if f.fail {
		return nil, errors.New("sources down")
	}
	return []model.Article{{Title: category + " vijest", Source: "test"}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		ListenAddr: ":0",
		Timezone:   "UTC",
		Redis:      config.Redis{Addr: "localhost:6379", KeyPrefix: "ai_novine:"},
		Categories: []config.Category{
			{Name: "Hrvatska", Priority: "high", Frequency: 1, Times: []string{"06:00"}, Feeds: []string{"https://example.com/hr"}},
			{Name: "Sport", Priority: "medium", Frequency: 1, Times: []string{"12:00"}, Feeds: []string{"https://example.com/sport"}},
		},
	}
}

func newTestServer(t *testing.T, fetcher *stubFetcher) (*server.Server, *cache.Cache) {
	t.Helper()
	cfg := testConfig()
	c := cache.NewWithBackend(cache.NewMemoryBackend(), cfg.Redis.KeyPrefix)
	sched, err := scheduler.New(cfg, c, fetcher)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return server.New(cfg, c, sched), c
}

func doRequest(t *testing.T, s *server.Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rec, body
}

func TestNewsMissTriggersOnDemandFetch(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{})

	rec, body := doRequest(t, s, http.MethodGet, "/api/news/Hrvatska")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
	if _, ok := body["cached_at"]; !ok {
		t.Error("response missing cached_at")
	}
}

func TestNewsServedFromCache(t *testing.T) {
	t.Parallel()
	s, c := newTestServer(t, &stubFetcher{fail: true})

	// Warm the cache directly; the failing fetcher must never be needed.
	c.SetArticles(context.Background(), "Sport", []model.Article{{Title: "utakmica"}}, model.PriorityMedium.TTL())

	rec, body := doRequest(t, s, http.MethodGet, "/api/news/Sport")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestNewsUnavailable(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{fail: true})

	rec, _ := doRequest(t, s, http.MethodGet, "/api/news/Hrvatska")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestNewsUnknownCategory(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{})

	rec, _ := doRequest(t, s, http.MethodGet, "/api/news/Kultura")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestManualRefreshEndpoint(t *testing.T) {
	t.Parallel()
	s, c := newTestServer(t, &stubFetcher{})

	rec, body := doRequest(t, s, http.MethodPost, "/api/admin/refresh/Sport")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["result"] != "success" {
		t.Errorf("result = %v, want success", body["result"])
	}
	if _, ok := c.Articles(context.Background(), "Sport"); !ok {
		t.Error("refresh did not warm the cache")
	}
}

func TestRefreshPriorityUnknownTier(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{})

	rec, _ := doRequest(t, s, http.MethodPost, "/api/admin/refresh/priority/urgent")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSchedulerLifecycleEndpoints(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{})

	_, body := doRequest(t, s, http.MethodGet, "/api/admin/scheduler/status")
	if body["is_running"] != false {
		t.Error("scheduler should start out stopped")
	}

	doRequest(t, s, http.MethodPost, "/api/admin/scheduler/start")
	_, body = doRequest(t, s, http.MethodGet, "/api/admin/scheduler/status")
	if body["is_running"] != true {
		t.Error("scheduler should be running after start")
	}
	if body["total_jobs"].(float64) != 2 {
		t.Errorf("total_jobs = %v, want 2", body["total_jobs"])
	}

	doRequest(t, s, http.MethodPost, "/api/admin/scheduler/stop")
	_, body = doRequest(t, s, http.MethodGet, "/api/admin/scheduler/status")
	if body["is_running"] != false {
		t.Error("scheduler should be stopped after stop")
	}
	if _, ok := body["next_run_by_category"]; ok {
		t.Error("stopped status must omit timer-derived fields")
	}
}

func TestTodayScheduleEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{})

	rec, body := doRequest(t, s, http.MethodGet, "/api/admin/scheduler/today")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	schedule := body["schedule"].([]interface{})
	if len(schedule) != 2 {
		t.Errorf("schedule has %d entries, want 2", len(schedule))
	}
}

func TestCacheEndpoints(t *testing.T) {
	t.Parallel()
	s, c := newTestServer(t, &stubFetcher{})
	c.SetArticles(context.Background(), "Hrvatska", []model.Article{{Title: "x"}}, model.PriorityHigh.TTL())

	_, body := doRequest(t, s, http.MethodGet, "/api/admin/cache/stats")
	if body["backend"] != "memory" {
		t.Errorf("backend = %v, want memory", body["backend"])
	}

	_, body = doRequest(t, s, http.MethodDelete, "/api/admin/cache/Hrvatska")
	if body["deleted"] != true {
		t.Error("expected the category cache entry to be deleted")
	}
	if _, ok := c.Articles(context.Background(), "Hrvatska"); ok {
		t.Error("entry still present after delete")
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &stubFetcher{})

	rec, body := doRequest(t, s, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body["cache_backend"] != "memory" {
		t.Errorf("cache_backend = %v", body["cache_backend"])
	}
	if body["scheduler_running"] != false {
		t.Errorf("scheduler_running = %v, want false", body["scheduler_running"])
	}
}
