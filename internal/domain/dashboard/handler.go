package dashboard

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pophealth/pophealth/internal/engine"
	"github.com/pophealth/pophealth/pkg/pagination"
)

type Handler struct {
	svc                  *Service
	defaultCategoryCount int
}

// NewHandler builds the dashboard handler. defaultCategoryCount caps
// chart categories when a request carries no category_count; zero
// leaves datasets untruncated.
func NewHandler(svc *Service, defaultCategoryCount int) *Handler {
	return &Handler{svc: svc, defaultCategoryCount: defaultCategoryCount}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/pivot/:kind/:patientId", h.PatientPivot)
	api.GET("/dashboard/pivot", h.Pivot)
	api.GET("/dashboard/chart", h.Chart)
	api.GET("/dashboard/heatmap", h.Heatmap)
	api.GET("/dashboard/risk", h.Risk)
	api.GET("/dashboard/summary", h.Summary)
	api.GET("/dashboard/snapshots", h.ListSnapshots)
	api.POST("/dashboard/snapshots", h.SaveSnapshot)
	api.GET("/themes", h.Themes)
}

func parseKind(raw string) (engine.EventKind, error) {
	kind := engine.EventKind(raw)
	if !engine.ValidKinds[kind] {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid kind: %s", raw))
	}
	return kind, nil
}

func parseMode(raw string) (engine.DisplayMode, error) {
	if raw == "" {
		return engine.ModeCount, nil
	}
	mode := engine.DisplayMode(raw)
	if !engine.ValidModes[mode] {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid mode: %s", raw))
	}
	return mode, nil
}

func (h *Handler) parseCategoryCount(raw string) (int, error) {
	if raw == "" {
		return h.defaultCategoryCount, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid category_count: %s", raw))
	}
	return n, nil
}

// parseCriteria reads the optional filter params. Absent params mean
// "all"; the engine treats both spellings identically.
func parseCriteria(c echo.Context) engine.Criteria {
	return engine.Criteria{
		Diagnosis:          c.QueryParam("diagnosis"),
		DiagnosticCategory: c.QueryParam("category"),
		Symptom:            c.QueryParam("symptom"),
		HrsnIndicator:      c.QueryParam("hrsn"),
		ICD10Code:          c.QueryParam("icd10"),
	}
}

func (h *Handler) PatientPivot(c echo.Context) error {
	kind, err := parseKind(c.Param("kind"))
	if err != nil {
		return err
	}
	matrix, err := h.svc.PatientPivot(c.Request().Context(), kind, c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, matrix)
}

func (h *Handler) Pivot(c echo.Context) error {
	kind, err := parseKind(c.QueryParam("kind"))
	if err != nil {
		return err
	}
	rowField := engine.RowField(c.QueryParam("row_field"))
	if rowField != "" && !engine.ValidRowFields[rowField] {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid row_field: %s", rowField))
	}
	matrix, err := h.svc.Pivot(c.Request().Context(), kind, parseCriteria(c), rowField)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, matrix)
}

func (h *Handler) Chart(c echo.Context) error {
	kind, err := parseKind(c.QueryParam("kind"))
	if err != nil {
		return err
	}
	mode, err := parseMode(c.QueryParam("mode"))
	if err != nil {
		return err
	}
	categoryCount, err := h.parseCategoryCount(c.QueryParam("category_count"))
	if err != nil {
		return err
	}
	resp, err := h.svc.Chart(c.Request().Context(), kind, parseCriteria(c), mode, categoryCount, c.QueryParam("theme"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Heatmap(c echo.Context) error {
	kind, err := parseKind(c.QueryParam("kind"))
	if err != nil {
		return err
	}
	resp, err := h.svc.Heatmap(c.Request().Context(), kind, parseCriteria(c), c.QueryParam("theme"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Risk(c echo.Context) error {
	var kind engine.EventKind
	if raw := c.QueryParam("kind"); raw != "" {
		parsed, err := parseKind(raw)
		if err != nil {
			return err
		}
		kind = parsed
	}
	buckets, err := h.svc.Risk(c.Request().Context(), kind, parseCriteria(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, buckets)
}

func (h *Handler) Summary(c echo.Context) error {
	summary, err := h.svc.Summary(c.Request().Context(), parseCriteria(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) SaveSnapshot(c echo.Context) error {
	var in SnapshotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snap, err := h.svc.SaveSnapshot(c.Request().Context(), &in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListSnapshots(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSnapshots(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Themes(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Themes())
}
