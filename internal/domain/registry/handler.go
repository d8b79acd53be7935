package registry

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pophealth/pophealth/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.GET("/patients/:id/events", h.ListPatientEvents)
	api.DELETE("/patients/:id/events", h.DeletePatientEvents)

	api.GET("/events", h.ListEvents)
	api.POST("/events", h.CreateEvent)
	api.GET("/events/:id", h.GetEvent)

	api.POST("/registry/bulk", h.BulkLoad)
}

// lookupPatient resolves :id as a row uuid or a source external id.
// External ids from extraction systems never parse as uuids, so the
// two identifier spaces cannot collide.
func (h *Handler) lookupPatient(c echo.Context) (*Patient, error) {
	raw := c.Param("id")
	if id, err := uuid.Parse(raw); err == nil {
		return h.svc.GetPatient(c.Request().Context(), id)
	}
	return h.svc.GetPatientByExternalID(c.Request().Context(), raw)
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.lookupPatient(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	current, err := h.lookupPatient(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = current.ID
	p.ExternalID = current.ExternalID
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatientEvents(c echo.Context) error {
	p, err := h.lookupPatient(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEventsByPatient(c.Request().Context(), p.ExternalID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeletePatientEvents(c echo.Context) error {
	p, err := h.lookupPatient(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	deleted, err := h.svc.DeletePatientEvents(c.Request().Context(), p.ExternalID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": deleted})
}

// -- Event Handlers --

func (h *Handler) CreateEvent(c echo.Context) error {
	var in EventInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.CreateEvent(c.Request().Context(), &in)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEvent(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "event not found")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEvents(c echo.Context) error {
	pg := pagination.FromContext(c)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		items, total, err := h.svc.ListEventsByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	items, total, err := h.svc.ListEvents(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Bulk Load Handler --

func (h *Handler) BulkLoad(c echo.Context) error {
	var extract BulkExtract
	if err := c.Bind(&extract); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.BulkLoad(c.Request().Context(), &extract)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}
