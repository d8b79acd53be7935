package usage

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Recording
// ---------------------------------------------------------------------------

func TestTracker_Record(t *testing.T) {
	tracker := NewTracker(1000)
	m := &RequestMetric{
		Timestamp:    time.Now(),
		Method:       "GET",
		Path:         "/api/v1/registry/patients",
		StatusCode:   200,
		Duration:     50 * time.Millisecond,
		Surface:      "registry",
		RequestSize:  128,
		ResponseSize: 4096,
	}
	tracker.Record(m)

	overview := tracker.GetOverview()
	if overview.TotalRequests != 1 {
		t.Fatalf("expected TotalRequests=1, got %d", overview.TotalRequests)
	}
	if overview.TotalErrors != 0 {
		t.Fatalf("expected TotalErrors=0, got %d", overview.TotalErrors)
	}
}

func TestTracker_Record_MaxMetrics(t *testing.T) {
	maxMetrics := 100
	tracker := NewTracker(maxMetrics)

	for i := 0; i < 250; i++ {
		tracker.Record(&RequestMetric{
			Timestamp:  time.Now(),
			Method:     "GET",
			Path:       fmt.Sprintf("/api/v1/registry/patients/%d", i),
			StatusCode: 200,
			Duration:   time.Millisecond,
		})
	}

	tracker.mu.RLock()
	count := len(tracker.metrics)
	tracker.mu.RUnlock()

	if count != maxMetrics {
		t.Fatalf("expected ring buffer to cap at %d, got %d", maxMetrics, count)
	}

	overview := tracker.GetOverview()
	if overview.TotalRequests != 250 {
		t.Fatalf("expected TotalRequests=250, got %d", overview.TotalRequests)
	}
}

func TestTracker_Record_ConcurrentAccess(t *testing.T) {
	tracker := NewTracker(100000)
	var wg sync.WaitGroup
	goroutines := 100
	perGoroutine := 100

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				tracker.Record(&RequestMetric{
					Timestamp:  time.Now(),
					Method:     "GET",
					Path:       "/api/v1/registry/patients",
					StatusCode: 200,
					Duration:   time.Millisecond,
					Surface:    "registry",
				})
			}
		}()
	}
	wg.Wait()

	overview := tracker.GetOverview()
	expected := int64(goroutines * perGoroutine)
	if overview.TotalRequests != expected {
		t.Fatalf("expected TotalRequests=%d, got %d", expected, overview.TotalRequests)
	}
}

// ---------------------------------------------------------------------------
// Endpoint stats
// ---------------------------------------------------------------------------

func TestTracker_GetEndpointStats(t *testing.T) {
	tracker := NewTracker(1000)
	for i := 0; i < 10; i++ {
		tracker.Record(&RequestMetric{
			Timestamp:  time.Now(),
			Method:     "GET",
			Path:       "/api/v1/dashboard/pivot",
			StatusCode: 200,
			Duration:   10 * time.Millisecond,
		})
	}

	summary := tracker.GetEndpointStats("/api/v1/dashboard/pivot")
	if summary == nil {
		t.Fatal("expected endpoint stats, got nil")
	}
	if summary.TotalRequests != 10 {
		t.Fatalf("expected TotalRequests=10, got %d", summary.TotalRequests)
	}
	if summary.AvgLatency != 10*time.Millisecond {
		t.Fatalf("expected AvgLatency=10ms, got %v", summary.AvgLatency)
	}
}

func TestTracker_GetEndpointStats_NotFound(t *testing.T) {
	tracker := NewTracker(1000)
	summary := tracker.GetEndpointStats("/nonexistent")
	if summary != nil {
		t.Fatalf("expected nil for unknown path, got %+v", summary)
	}
}

func TestTracker_GetTopEndpoints(t *testing.T) {
	tracker := NewTracker(1000)

	for i := 0; i < 5; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/dashboard/pivot",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}
	for i := 0; i < 3; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "POST", Path: "/api/v1/registry/events",
			StatusCode: 201, Duration: time.Millisecond,
		})
	}

	top := tracker.GetTopEndpoints(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(top))
	}
	if top[0].Path != "/api/v1/dashboard/pivot" {
		t.Fatalf("expected top endpoint /api/v1/dashboard/pivot, got %s", top[0].Path)
	}
	if top[0].TotalRequests != 10 {
		t.Fatalf("expected 10, got %d", top[0].TotalRequests)
	}
	if top[1].Path != "/api/v1/registry/patients" {
		t.Fatalf("expected second endpoint /api/v1/registry/patients, got %s", top[1].Path)
	}
}

func TestTracker_GetEndpointStats_ErrorRate(t *testing.T) {
	tracker := NewTracker(1000)
	for i := 0; i < 8; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}
	for i := 0; i < 2; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
			StatusCode: 500, Duration: time.Millisecond,
		})
	}

	summary := tracker.GetEndpointStats("/api/v1/registry/patients")
	if summary == nil {
		t.Fatal("expected endpoint stats, got nil")
	}
	// 2 errors out of 10 = 0.2
	if summary.ErrorRate < 0.19 || summary.ErrorRate > 0.21 {
		t.Fatalf("expected ErrorRate ~0.2, got %f", summary.ErrorRate)
	}
}

// ---------------------------------------------------------------------------
// Surface stats
// ---------------------------------------------------------------------------

func TestTracker_GetSurfaceStats(t *testing.T) {
	tracker := NewTracker(1000)

	// CREATE
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "POST", Path: "/api/v1/registry/patients",
		StatusCode: 201, Duration: time.Millisecond, Surface: "registry",
	})
	// READ
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients/123",
		StatusCode: 200, Duration: time.Millisecond, Surface: "registry",
	})
	// UPDATE
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "PUT", Path: "/api/v1/registry/patients/123",
		StatusCode: 200, Duration: time.Millisecond, Surface: "registry",
	})
	// DELETE
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "DELETE", Path: "/api/v1/registry/patients/123",
		StatusCode: 204, Duration: time.Millisecond, Surface: "registry",
	})

	summary := tracker.GetSurfaceStats("registry")
	if summary == nil {
		t.Fatal("expected surface stats, got nil")
	}
	if summary.CreateCount != 1 {
		t.Fatalf("expected CreateCount=1, got %d", summary.CreateCount)
	}
	if summary.ReadCount != 1 {
		t.Fatalf("expected ReadCount=1, got %d", summary.ReadCount)
	}
	if summary.UpdateCount != 1 {
		t.Fatalf("expected UpdateCount=1, got %d", summary.UpdateCount)
	}
	if summary.DeleteCount != 1 {
		t.Fatalf("expected DeleteCount=1, got %d", summary.DeleteCount)
	}
	if summary.Total != 4 {
		t.Fatalf("expected Total=4, got %d", summary.Total)
	}
}

func TestTracker_GetSurfaceStats_ReadVsList(t *testing.T) {
	tracker := NewTracker(1000)

	// READ by ID
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients/123",
		StatusCode: 200, Duration: time.Millisecond, Surface: "registry",
	})
	// LIST (collection, no ID)
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
		StatusCode: 200, Duration: time.Millisecond, Surface: "registry",
	})

	summary := tracker.GetSurfaceStats("registry")
	if summary == nil {
		t.Fatal("expected surface stats, got nil")
	}
	if summary.ReadCount != 1 {
		t.Fatalf("expected ReadCount=1 (by-ID), got %d", summary.ReadCount)
	}
	if summary.ListCount != 1 {
		t.Fatalf("expected ListCount=1 (collection), got %d", summary.ListCount)
	}
}

func TestTracker_GetSurfaces_SortedByTotal(t *testing.T) {
	tracker := NewTracker(1000)
	for i := 0; i < 3; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/dashboard/pivot",
			StatusCode: 200, Duration: time.Millisecond, Surface: "dashboard",
		})
	}
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/themes",
		StatusCode: 200, Duration: time.Millisecond, Surface: "themes",
	})

	surfaces := tracker.GetSurfaces()
	if len(surfaces) != 2 {
		t.Fatalf("expected 2 surfaces, got %d", len(surfaces))
	}
	if surfaces[0].Surface != "dashboard" {
		t.Fatalf("expected dashboard first, got %s", surfaces[0].Surface)
	}
	if surfaces[0].Total != 3 {
		t.Fatalf("expected dashboard total 3, got %d", surfaces[0].Total)
	}
}

// ---------------------------------------------------------------------------
// Overview
// ---------------------------------------------------------------------------

func TestTracker_GetOverview(t *testing.T) {
	tracker := NewTracker(1000)
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
		StatusCode: 200, Duration: 10 * time.Millisecond,
	})
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "POST", Path: "/api/v1/registry/events",
		StatusCode: 500, Duration: 20 * time.Millisecond,
	})

	overview := tracker.GetOverview()
	if overview.TotalRequests != 2 {
		t.Fatalf("expected TotalRequests=2, got %d", overview.TotalRequests)
	}
	if overview.TotalErrors != 1 {
		t.Fatalf("expected TotalErrors=1, got %d", overview.TotalErrors)
	}
	if overview.UniqueEndpoints != 2 {
		t.Fatalf("expected UniqueEndpoints=2, got %d", overview.UniqueEndpoints)
	}
}

func TestTracker_GetErrorRate(t *testing.T) {
	tracker := NewTracker(1000)
	for i := 0; i < 7; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}
	for i := 0; i < 3; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
			StatusCode: 500, Duration: time.Millisecond,
		})
	}

	rate := tracker.GetErrorRate()
	if rate < 0.29 || rate > 0.31 {
		t.Fatalf("expected error rate ~0.3, got %f", rate)
	}
}

func TestTracker_GetAverageLatency(t *testing.T) {
	tracker := NewTracker(1000)
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
		StatusCode: 200, Duration: 10 * time.Millisecond,
	})
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
		StatusCode: 200, Duration: 30 * time.Millisecond,
	})

	avg := tracker.GetAverageLatency()
	if avg != 20*time.Millisecond {
		t.Fatalf("expected avg latency 20ms, got %v", avg)
	}
}

// ---------------------------------------------------------------------------
// Time series
// ---------------------------------------------------------------------------

func TestTracker_GetTimeSeries_1MinBuckets(t *testing.T) {
	tracker := NewTracker(10000)
	now := time.Now().Truncate(time.Minute)

	// Metrics in two different minutes.
	for i := 0; i < 5; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: now.Add(-2 * time.Minute), Method: "GET", Path: "/api/v1/dashboard/pivot",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}
	for i := 0; i < 3; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: now.Add(-1 * time.Minute), Method: "GET", Path: "/api/v1/dashboard/pivot",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}

	buckets := tracker.GetTimeSeries(time.Minute, 5*time.Minute)
	if len(buckets) == 0 {
		t.Fatal("expected non-empty time series")
	}

	totalCount := int64(0)
	for _, b := range buckets {
		totalCount += b.RequestCount
	}
	if totalCount != 8 {
		t.Fatalf("expected total 8 requests across buckets, got %d", totalCount)
	}
}

func TestTracker_GetTimeSeries_EmptyRange(t *testing.T) {
	tracker := NewTracker(1000)
	buckets := tracker.GetTimeSeries(time.Minute, time.Hour)
	// Buckets exist (empty) even with no data
	for _, b := range buckets {
		if b.RequestCount != 0 {
			t.Fatalf("expected 0 requests in empty bucket, got %d", b.RequestCount)
		}
	}
}

// ---------------------------------------------------------------------------
// Surface extraction
// ---------------------------------------------------------------------------

func TestExtractSurface(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/registry/patients/123", "registry"},
		{"/api/v1/registry/patients", "registry"},
		{"/api/v1/dashboard/pivot", "dashboard"},
		{"/api/v1/themes", "themes"},
		{"/api/v1/pivot/anxiety/p1", "pivot"},
		{"/health", ""},
		{"/metrics/usage", ""},
	}
	for _, tt := range tests {
		if got := extractSurface(tt.path); got != tt.want {
			t.Errorf("extractSurface(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestIsItemRequest(t *testing.T) {
	tests := []struct {
		path    string
		surface string
		want    bool
	}{
		{"/api/v1/registry/patients/123", "registry", true},
		{"/api/v1/registry/patients", "registry", false},
		{"/api/v1/dashboard/pivot", "dashboard", false},
		{"/api/v1/pivot/anxiety/p1", "pivot", true},
		{"/api/v1/themes", "themes", false},
	}
	for _, tt := range tests {
		if got := isItemRequest(tt.path, tt.surface); got != tt.want {
			t.Errorf("isItemRequest(%q, %q) = %v, want %v", tt.path, tt.surface, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestMiddleware_RecordsMetric(t *testing.T) {
	tracker := NewTracker(1000)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware(tracker)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	overview := tracker.GetOverview()
	if overview.TotalRequests != 1 {
		t.Fatalf("expected 1 recorded metric, got %d", overview.TotalRequests)
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	tracker := NewTracker(1000)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware(tracker)(func(c echo.Context) error {
		return c.String(http.StatusNotFound, "not found")
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := tracker.GetEndpointStats("/api/v1/registry/patients")
	if stats == nil {
		t.Fatal("expected endpoint stats")
	}
	if _, ok := stats.StatusBreakdown[404]; !ok {
		t.Fatalf("expected status 404 in breakdown, got %v", stats.StatusBreakdown)
	}
}

func TestMiddleware_CapturesDuration(t *testing.T) {
	tracker := NewTracker(1000)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware(tracker)(func(c echo.Context) error {
		time.Sleep(5 * time.Millisecond)
		return c.String(http.StatusOK, "ok")
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	avg := tracker.GetAverageLatency()
	if avg < 5*time.Millisecond {
		t.Fatalf("expected duration >= 5ms, got %v", avg)
	}
}

func TestMiddleware_TagsSurface(t *testing.T) {
	tracker := NewTracker(1000)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/risk", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Middleware(tracker)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	summary := tracker.GetSurfaceStats("dashboard")
	if summary == nil {
		t.Fatal("expected surface stats for dashboard")
	}
	if summary.Total != 1 {
		t.Fatalf("expected 1 request, got %d", summary.Total)
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestHandler_Overview(t *testing.T) {
	tracker := NewTracker(1000)
	tracker.Record(&RequestMetric{
		Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
		StatusCode: 200, Duration: time.Millisecond,
	})

	e := echo.New()
	h := NewHandler(tracker)
	req := httptest.NewRequest(http.MethodGet, "/metrics/usage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleOverview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var result Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.TotalRequests != 1 {
		t.Fatalf("expected TotalRequests=1, got %d", result.TotalRequests)
	}
}

func TestHandler_Endpoints(t *testing.T) {
	tracker := NewTracker(1000)
	for i := 0; i < 5; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/registry/patients",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/dashboard/pivot",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}

	e := echo.New()
	h := NewHandler(tracker)
	req := httptest.NewRequest(http.MethodGet, "/metrics/usage/endpoints?limit=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleEndpoints(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result []*EndpointSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(result))
	}
	if result[0].Path != "/api/v1/dashboard/pivot" {
		t.Fatalf("expected top endpoint /api/v1/dashboard/pivot, got %s", result[0].Path)
	}
}

func TestHandler_Endpoints_ByPath(t *testing.T) {
	tracker := NewTracker(1000)
	for i := 0; i < 7; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: time.Now(), Method: "GET", Path: "/api/v1/dashboard/risk",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}

	e := echo.New()
	h := NewHandler(tracker)
	req := httptest.NewRequest(http.MethodGet, "/metrics/usage/endpoints?path=/api/v1/dashboard/risk", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleEndpoints(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result EndpointSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if result.TotalRequests != 7 {
		t.Fatalf("expected 7 requests, got %d", result.TotalRequests)
	}
}

func TestHandler_Endpoints_UnknownPath(t *testing.T) {
	tracker := NewTracker(1000)

	e := echo.New()
	h := NewHandler(tracker)
	req := httptest.NewRequest(http.MethodGet, "/metrics/usage/endpoints?path=/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleEndpoints(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_TimeSeries(t *testing.T) {
	tracker := NewTracker(10000)
	now := time.Now()
	for i := 0; i < 5; i++ {
		tracker.Record(&RequestMetric{
			Timestamp: now.Add(-30 * time.Second), Method: "GET", Path: "/api/v1/dashboard/pivot",
			StatusCode: 200, Duration: time.Millisecond,
		})
	}

	e := echo.New()
	h := NewHandler(tracker)
	req := httptest.NewRequest(http.MethodGet, "/metrics/usage/timeseries?interval=1m&duration=5m", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.HandleTimeSeries(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result []*TimeSeriesBucket
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(result) == 0 {
		t.Fatal("expected non-empty time series")
	}

	total := int64(0)
	for _, b := range result {
		total += b.RequestCount
	}
	if total != 5 {
		t.Fatalf("expected 5 total requests, got %d", total)
	}
}

func TestParseDurationParam(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"", time.Minute},
		{"5m", 5 * time.Minute},
		{"1h", time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"garbage", time.Minute},
	}
	for _, tt := range tests {
		if got := parseDurationParam(tt.input, time.Minute); got != tt.want {
			t.Errorf("parseDurationParam(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
