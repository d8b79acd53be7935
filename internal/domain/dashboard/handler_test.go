package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pophealth/pophealth/internal/engine"
)

func newTestHandler() (*Handler, *echo.Echo) {
	events, patients := fixtureRecords()
	svc, _ := newTestService(events, patients)
	h := NewHandler(svc, 0)
	e := echo.New()
	return h, e
}

func TestHandler_PatientPivot(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "patientId")
	c.SetParamValues("symptom", "P-001")
	err := h.PatientPivot(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	if rec.Code != http.StatusOK { t.Errorf("expected 200, got %d", rec.Code) }
	var matrix engine.PivotMatrix
	if err := json.Unmarshal(rec.Body.Bytes(), &matrix); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matrix.Rows) != 1 || matrix.Rows[0] != "Anxious Mood" {
		t.Errorf("unexpected rows: %v", matrix.Rows)
	}
}

func TestHandler_PatientPivot_InvalidKind(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("kind", "patientId")
	c.SetParamValues("bogus", "P-001")
	err := h.PatientPivot(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", he.Code)
	}
}

func TestHandler_Pivot(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Pivot(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	if rec.Code != http.StatusOK { t.Errorf("expected 200, got %d", rec.Code) }
	var matrix engine.PivotMatrix
	if err := json.Unmarshal(rec.Body.Bytes(), &matrix); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matrix.Rows) != 2 { t.Errorf("expected 2 symptom rows, got %v", matrix.Rows) }
}

func TestHandler_Pivot_CriteriaFromQuery(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&diagnosis=Major+Depressive+Disorder", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Pivot(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	var matrix engine.PivotMatrix
	if err := json.Unmarshal(rec.Body.Bytes(), &matrix); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matrix.Rows) != 1 || matrix.Rows[0] != "Anxious Mood" {
		t.Errorf("expected the diagnosed cohort's symptoms, got %v", matrix.Rows)
	}
}

func TestHandler_Pivot_InvalidRowField(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&row_field=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Pivot(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", he.Code)
	}
}

func TestHandler_Chart(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&mode=percentage", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Chart(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	if rec.Code != http.StatusOK { t.Errorf("expected 200, got %d", rec.Code) }
	var resp ChartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Mode != engine.ModePercentage { t.Errorf("expected percentage mode, got %s", resp.Mode) }
	if len(resp.Dataset) != 2 { t.Fatalf("expected 2 categories, got %d", len(resp.Dataset)) }
	if resp.Dataset[0].ID != "Anxious Mood" || resp.Dataset[0].Value != 67 {
		t.Errorf("unexpected leading point: %+v", resp.Dataset[0])
	}
	if resp.Palette[0] != "#0d47a1" { t.Errorf("expected clinical palette, got %v", resp.Palette) }
}

func TestHandler_Chart_CategoryCount(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&category_count=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Chart(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	var resp ChartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Dataset) != 1 { t.Errorf("expected truncation to 1, got %d", len(resp.Dataset)) }
}

func TestHandler_Chart_DefaultCategoryCount(t *testing.T) {
	events, patients := fixtureRecords()
	svc, _ := newTestService(events, patients)
	h := NewHandler(svc, 1)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Chart(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	var resp ChartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Dataset) != 1 {
		t.Errorf("expected configured default to truncate to 1, got %d", len(resp.Dataset))
	}
}

func TestHandler_Chart_InvalidMode(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&mode=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Chart(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", he.Code)
	}
}

func TestHandler_Chart_InvalidCategoryCount(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&category_count=-2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Chart(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", he.Code)
	}
}

func TestHandler_Heatmap(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=symptom&theme=heat", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Heatmap(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	if rec.Code != http.StatusOK { t.Errorf("expected 200, got %d", rec.Code) }
	var resp HeatmapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Theme != "heat" { t.Errorf("expected heat theme, got %s", resp.Theme) }
	if len(resp.Rows) != 2 { t.Errorf("expected 2 rows, got %d", len(resp.Rows)) }
	if len(resp.Columns) != 2 { t.Errorf("expected 2 columns, got %d", len(resp.Columns)) }
}

func TestHandler_Risk(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Risk(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	if rec.Code != http.StatusOK { t.Errorf("expected 200, got %d", rec.Code) }
	var buckets []engine.RiskBucket
	if err := json.Unmarshal(rec.Body.Bytes(), &buckets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buckets) != 6 { t.Errorf("expected 6 buckets, got %d", len(buckets)) }
}

func TestHandler_Risk_InvalidKind(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?kind=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Risk(c)
	if err == nil { t.Error("expected error for invalid kind") }
}

func TestHandler_Summary(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Summary(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	var summary Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalPatients != 3 { t.Errorf("expected 3 patients, got %d", summary.TotalPatients) }
	if summary.TotalEvents != 5 { t.Errorf("expected 5 events, got %d", summary.TotalEvents) }
}

func TestHandler_SaveSnapshot(t *testing.T) {
	h, e := newTestHandler()
	body := `{"kind":"symptom","dataset":[{"label":"Anxious Mood","count":12},{"label":"Insomnia","count":4}]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.SaveSnapshot(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	if rec.Code != http.StatusOK { t.Errorf("expected 200, got %d", rec.Code) }
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Kind != "symptom" { t.Errorf("expected symptom kind, got %s", snap.Kind) }
	if len(snap.Dataset) != 2 || snap.Dataset[0].RawValue != 12 {
		t.Errorf("unexpected dataset: %+v", snap.Dataset)
	}
}

func TestHandler_SaveSnapshot_InvalidKind(t *testing.T) {
	h, e := newTestHandler()
	body := `{"kind":"bogus","dataset":[{"label":"A","count":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.SaveSnapshot(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", he.Code)
	}
}

func TestHandler_ListSnapshots(t *testing.T) {
	h, e := newTestHandler()
	saveBody := `{"kind":"symptom","dataset":[{"label":"Anxious Mood","count":3}]}`
	saveReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(saveBody))
	saveReq.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if err := h.SaveSnapshot(e.NewContext(saveReq, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.ListSnapshots(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Total != 1 { t.Errorf("expected total 1, got %d", resp.Total) }
}

func TestHandler_Themes(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := h.Themes(c)
	if err != nil { t.Fatalf("unexpected error: %v", err) }
	var themes []engine.Theme
	if err := json.Unmarshal(rec.Body.Bytes(), &themes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(themes) != 3 { t.Fatalf("expected 3 themes, got %d", len(themes)) }
	if themes[0].Name != "clinical" { t.Errorf("expected clinical first, got %s", themes[0].Name) }
}
