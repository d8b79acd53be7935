package usage

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Core metric type
// ---------------------------------------------------------------------------

// RequestMetric captures a single API request's metadata.
type RequestMetric struct {
	Timestamp    time.Time     `json:"timestamp"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	Duration     time.Duration `json:"duration"`
	Surface      string        `json:"surface"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// ---------------------------------------------------------------------------
// Internal counter types
// ---------------------------------------------------------------------------

type endpointStats struct {
	Path          string
	TotalRequests int64
	TotalErrors   int64
	TotalDuration int64 // nanoseconds
	StatusCounts  map[int]int64
	mu            sync.Mutex
}

type surfaceStats struct {
	Surface     string
	ReadCount   int64
	ListCount   int64
	CreateCount int64
	UpdateCount int64
	DeleteCount int64
	mu          sync.Mutex
}

// ---------------------------------------------------------------------------
// Summary types (returned by query methods)
// ---------------------------------------------------------------------------

// EndpointSummary provides aggregated statistics for a single API endpoint.
type EndpointSummary struct {
	Path            string        `json:"path"`
	TotalRequests   int64         `json:"total_requests"`
	ErrorRate       float64       `json:"error_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
}

// SurfaceSummary provides an operation breakdown for one API surface
// (registry, dashboard, pivot, themes).
type SurfaceSummary struct {
	Surface     string `json:"surface"`
	ReadCount   int64  `json:"read_count"`
	ListCount   int64  `json:"list_count"`
	CreateCount int64  `json:"create_count"`
	UpdateCount int64  `json:"update_count"`
	DeleteCount int64  `json:"delete_count"`
	Total       int64  `json:"total"`
}

// Overview provides a high-level summary of API usage.
type Overview struct {
	TotalRequests   int64              `json:"total_requests"`
	TotalErrors     int64              `json:"total_errors"`
	ErrorRate       float64            `json:"error_rate"`
	AvgLatency      time.Duration      `json:"avg_latency"`
	UniqueEndpoints int                `json:"unique_endpoints"`
	TopEndpoints    []*EndpointSummary `json:"top_endpoints"`
}

// TimeSeriesBucket holds aggregated metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestCount int64         `json:"request_count"`
	ErrorCount   int64         `json:"error_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// ---------------------------------------------------------------------------
// Tracker
// ---------------------------------------------------------------------------

// Tracker provides thread-safe API usage tracking with an append-only ring
// buffer and per-endpoint and per-surface counters.
type Tracker struct {
	metrics          []*RequestMetric
	maxMetrics       int
	writePos         int
	full             bool
	endpointCounters map[string]*endpointStats
	surfaceCounters  map[string]*surfaceStats
	mu               sync.RWMutex
	totalRequests    int64
	totalErrors      int64
	totalDuration    int64 // nanoseconds
}

// NewTracker creates a new Tracker with the given ring buffer capacity.
func NewTracker(maxMetrics int) *Tracker {
	if maxMetrics <= 0 {
		maxMetrics = 100000
	}
	return &Tracker{
		metrics:          make([]*RequestMetric, 0, maxMetrics),
		maxMetrics:       maxMetrics,
		endpointCounters: make(map[string]*endpointStats),
		surfaceCounters:  make(map[string]*surfaceStats),
	}
}

// Record appends a metric to the ring buffer and updates all counters.
func (t *Tracker) Record(metric *RequestMetric) {
	isError := metric.StatusCode >= 400

	// Update atomic totals.
	atomic.AddInt64(&t.totalRequests, 1)
	if isError {
		atomic.AddInt64(&t.totalErrors, 1)
	}
	atomic.AddInt64(&t.totalDuration, int64(metric.Duration))

	t.mu.Lock()

	// Ring buffer insert.
	if t.full {
		t.metrics[t.writePos] = metric
	} else if len(t.metrics) < t.maxMetrics {
		t.metrics = append(t.metrics, metric)
	}
	t.writePos++
	if t.writePos >= t.maxMetrics {
		t.writePos = 0
		t.full = true
	}

	// Endpoint counters.
	ep, ok := t.endpointCounters[metric.Path]
	if !ok {
		ep = &endpointStats{
			Path:         metric.Path,
			StatusCounts: make(map[int]int64),
		}
		t.endpointCounters[metric.Path] = ep
	}

	// Surface counters.
	var ss *surfaceStats
	if metric.Surface != "" {
		ss, ok = t.surfaceCounters[metric.Surface]
		if !ok {
			ss = &surfaceStats{Surface: metric.Surface}
			t.surfaceCounters[metric.Surface] = ss
		}
	}

	t.mu.Unlock()

	// Update endpoint stats (per-endpoint mutex to reduce contention).
	ep.mu.Lock()
	ep.TotalRequests++
	if isError {
		ep.TotalErrors++
	}
	ep.TotalDuration += int64(metric.Duration)
	ep.StatusCounts[metric.StatusCode]++
	ep.mu.Unlock()

	// Update surface stats.
	if ss != nil {
		ss.mu.Lock()
		switch metric.Method {
		case "POST":
			ss.CreateCount++
		case "PUT", "PATCH":
			ss.UpdateCount++
		case "DELETE":
			ss.DeleteCount++
		case "GET":
			if isItemRequest(metric.Path, metric.Surface) {
				ss.ReadCount++
			} else {
				ss.ListCount++
			}
		}
		ss.mu.Unlock()
	}
}

// isItemRequest checks whether a GET targets a specific item, e.g.
// /api/v1/registry/patients/123, rather than a collection or view, e.g.
// /api/v1/registry/patients or /api/v1/dashboard/pivot.
func isItemRequest(path, surface string) bool {
	if surface == "" {
		return false
	}
	idx := strings.Index(path, "/"+surface+"/")
	if idx < 0 {
		return false
	}
	rest := strings.Trim(path[idx+len(surface)+2:], "/")
	return strings.Count(rest, "/") >= 1
}

// ---------------------------------------------------------------------------
// Query methods
// ---------------------------------------------------------------------------

// GetEndpointStats returns aggregated stats for a single endpoint path.
func (t *Tracker) GetEndpointStats(path string) *EndpointSummary {
	t.mu.RLock()
	ep, ok := t.endpointCounters[path]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.buildEndpointSummary(ep)
}

// GetSurfaceStats returns the operation breakdown for one surface.
func (t *Tracker) GetSurfaceStats(surface string) *SurfaceSummary {
	t.mu.RLock()
	ss, ok := t.surfaceCounters[surface]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return buildSurfaceSummary(ss)
}

// GetSurfaces returns the operation breakdown for every surface, sorted by
// total request count descending.
func (t *Tracker) GetSurfaces() []*SurfaceSummary {
	t.mu.RLock()
	summaries := make([]*SurfaceSummary, 0, len(t.surfaceCounters))
	for _, ss := range t.surfaceCounters {
		summaries = append(summaries, buildSurfaceSummary(ss))
	}
	t.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Total > summaries[j].Total
	})
	return summaries
}

// GetOverview returns a high-level usage summary.
func (t *Tracker) GetOverview() *Overview {
	total := atomic.LoadInt64(&t.totalRequests)
	errors := atomic.LoadInt64(&t.totalErrors)
	dur := atomic.LoadInt64(&t.totalDuration)

	var errorRate float64
	if total > 0 {
		errorRate = float64(errors) / float64(total)
	}

	var avgLatency time.Duration
	if total > 0 {
		avgLatency = time.Duration(dur / total)
	}

	t.mu.RLock()
	uniqueEndpoints := len(t.endpointCounters)
	t.mu.RUnlock()

	return &Overview{
		TotalRequests:   total,
		TotalErrors:     errors,
		ErrorRate:       errorRate,
		AvgLatency:      avgLatency,
		UniqueEndpoints: uniqueEndpoints,
		TopEndpoints:    t.GetTopEndpoints(5),
	}
}

// GetTopEndpoints returns the top N endpoints sorted by request count descending.
func (t *Tracker) GetTopEndpoints(limit int) []*EndpointSummary {
	t.mu.RLock()
	summaries := make([]*EndpointSummary, 0, len(t.endpointCounters))
	for _, ep := range t.endpointCounters {
		summaries = append(summaries, t.buildEndpointSummary(ep))
	}
	t.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].TotalRequests > summaries[j].TotalRequests
	})

	if limit > len(summaries) {
		limit = len(summaries)
	}
	return summaries[:limit]
}

// GetTimeSeries returns request counts bucketed by the given interval over the
// specified lookback duration.
func (t *Tracker) GetTimeSeries(interval, duration time.Duration) []*TimeSeriesBucket {
	now := time.Now()
	start := now.Add(-duration).Truncate(interval)
	numBuckets := int(duration/interval) + 1

	buckets := make([]*TimeSeriesBucket, numBuckets)
	for i := 0; i < numBuckets; i++ {
		buckets[i] = &TimeSeriesBucket{
			Timestamp: start.Add(time.Duration(i) * interval),
		}
	}

	t.mu.RLock()
	metricsCopy := make([]*RequestMetric, len(t.metrics))
	copy(metricsCopy, t.metrics)
	t.mu.RUnlock()

	for _, m := range metricsCopy {
		if m == nil {
			continue
		}
		if m.Timestamp.Before(start) || m.Timestamp.After(now) {
			continue
		}
		idx := int(m.Timestamp.Sub(start) / interval)
		if idx < 0 || idx >= numBuckets {
			continue
		}
		buckets[idx].RequestCount++
		if m.StatusCode >= 400 {
			buckets[idx].ErrorCount++
		}
		buckets[idx].AvgLatency += m.Duration // accumulate, averaged below
	}

	for _, b := range buckets {
		if b.RequestCount > 0 {
			b.AvgLatency = time.Duration(int64(b.AvgLatency) / b.RequestCount)
		}
	}

	return buckets
}

// GetErrorRate returns the overall error rate as a float between 0 and 1.
func (t *Tracker) GetErrorRate() float64 {
	total := atomic.LoadInt64(&t.totalRequests)
	errors := atomic.LoadInt64(&t.totalErrors)
	if total == 0 {
		return 0
	}
	return float64(errors) / float64(total)
}

// GetAverageLatency returns the average request duration.
func (t *Tracker) GetAverageLatency() time.Duration {
	total := atomic.LoadInt64(&t.totalRequests)
	dur := atomic.LoadInt64(&t.totalDuration)
	if total == 0 {
		return 0
	}
	return time.Duration(dur / total)
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (t *Tracker) buildEndpointSummary(ep *endpointStats) *EndpointSummary {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	var errorRate float64
	if ep.TotalRequests > 0 {
		errorRate = float64(ep.TotalErrors) / float64(ep.TotalRequests)
	}

	var avgLatency time.Duration
	if ep.TotalRequests > 0 {
		avgLatency = time.Duration(ep.TotalDuration / ep.TotalRequests)
	}

	statusBreakdown := make(map[int]int64, len(ep.StatusCounts))
	for code, count := range ep.StatusCounts {
		statusBreakdown[code] = count
	}

	// P95 requires the stored metrics; computed from the ring buffer.
	p95 := t.computeP95ForPath(ep.Path)

	return &EndpointSummary{
		Path:            ep.Path,
		TotalRequests:   ep.TotalRequests,
		ErrorRate:       errorRate,
		AvgLatency:      avgLatency,
		P95Latency:      p95,
		StatusBreakdown: statusBreakdown,
	}
}

func buildSurfaceSummary(ss *surfaceStats) *SurfaceSummary {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return &SurfaceSummary{
		Surface:     ss.Surface,
		ReadCount:   ss.ReadCount,
		ListCount:   ss.ListCount,
		CreateCount: ss.CreateCount,
		UpdateCount: ss.UpdateCount,
		DeleteCount: ss.DeleteCount,
		Total:       ss.ReadCount + ss.ListCount + ss.CreateCount + ss.UpdateCount + ss.DeleteCount,
	}
}

func (t *Tracker) computeP95ForPath(path string) time.Duration {
	t.mu.RLock()
	var durations []time.Duration
	for _, m := range t.metrics {
		if m != nil && m.Path == path {
			durations = append(durations, m.Duration)
		}
	}
	t.mu.RUnlock()

	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := int(float64(len(durations)) * 0.95)
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

// ---------------------------------------------------------------------------
// Surface extraction
// ---------------------------------------------------------------------------

// extractSurface parses the API surface from a URL path.
// Examples:
//   - "/api/v1/registry/patients/123" → "registry"
//   - "/api/v1/dashboard/pivot"       → "dashboard"
//   - "/api/v1/themes"                → "themes"
//   - "/health"                       → ""
func extractSurface(path string) string {
	const apiPrefix = "/api/v1/"
	idx := strings.Index(path, apiPrefix)
	if idx < 0 {
		return ""
	}

	rest := path[idx+len(apiPrefix):]
	if rest == "" {
		return ""
	}

	if slashIdx := strings.Index(rest, "/"); slashIdx >= 0 {
		return rest[:slashIdx]
	}
	return rest
}

// ---------------------------------------------------------------------------
// Echo middleware
// ---------------------------------------------------------------------------

// Middleware returns Echo middleware that records every request into the
// provided Tracker.
func Middleware(tracker *Tracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := req.URL.Path

			err := next(c)

			duration := time.Since(start)
			resp := c.Response()

			var requestSize int64
			if req.ContentLength > 0 {
				requestSize = req.ContentLength
			}

			tracker.Record(&RequestMetric{
				Timestamp:    start,
				Method:       req.Method,
				Path:         path,
				StatusCode:   resp.Status,
				Duration:     duration,
				Surface:      extractSurface(path),
				RequestSize:  requestSize,
				ResponseSize: resp.Size,
			})

			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Echo HTTP handler
// ---------------------------------------------------------------------------

// Handler provides HTTP endpoints for querying API usage metrics.
type Handler struct {
	tracker *Tracker
}

// NewHandler creates a new handler backed by the given tracker.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// RegisterRoutes registers the usage metrics endpoints on the provided group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/usage", h.HandleOverview)
	g.GET("/usage/endpoints", h.HandleEndpoints)
	g.GET("/usage/surfaces", h.HandleSurfaces)
	g.GET("/usage/timeseries", h.HandleTimeSeries)
}

// HandleOverview returns overall API usage statistics.
func (h *Handler) HandleOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetOverview())
}

// HandleEndpoints returns stats for a specific endpoint when a path query
// parameter is given, or the top endpoints sorted by request count otherwise.
func (h *Handler) HandleEndpoints(c echo.Context) error {
	if path := c.QueryParam("path"); path != "" {
		summary := h.tracker.GetEndpointStats(path)
		if summary == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "endpoint not found"})
		}
		return c.JSON(http.StatusOK, summary)
	}

	limit := 20
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return c.JSON(http.StatusOK, h.tracker.GetTopEndpoints(limit))
}

// HandleSurfaces returns the operation breakdown for all API surfaces.
func (h *Handler) HandleSurfaces(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetSurfaces())
}

// HandleTimeSeries returns time-bucketed request counts.
func (h *Handler) HandleTimeSeries(c echo.Context) error {
	interval := parseDurationParam(c.QueryParam("interval"), time.Minute)
	duration := parseDurationParam(c.QueryParam("duration"), time.Hour)

	return c.JSON(http.StatusOK, h.tracker.GetTimeSeries(interval, duration))
}

// parseDurationParam parses a duration string like "1m", "5m", "1h", "24h",
// "7d" into a time.Duration.
func parseDurationParam(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}

	// Handle "d" suffix for days.
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
		return defaultVal
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
