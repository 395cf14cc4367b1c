package analysis

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/internal/domain/encounter"
	"github.com/medscribe/medscribe/internal/platform/poller"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/analysis/generate-note/:encounterId", h.GenerateNote)
	api.POST("/analysis/:encounterId", h.TriggerAnalysis)
	api.GET("/analysis/:encounterId", h.GetAnalysis)
	api.PUT("/analysis/:encounterId/final-note", h.SaveFinalNote)
}

type noteRequest struct {
	Type string `json:"type"`
}

type finalNoteRequest struct {
	Note string `json:"note"`
}

func encounterParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("encounterId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	return id, nil
}

func (h *Handler) TriggerAnalysis(c echo.Context) error {
	id, err := encounterParam(c)
	if err != nil {
		return err
	}
	force, _ := strconv.ParseBool(c.QueryParam("force"))

	a, err := h.svc.Trigger(c.Request().Context(), id, TriggerOptions{Force: force})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAnalysis(c echo.Context) error {
	id, err := encounterParam(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GenerateNote(c echo.Context) error {
	id, err := encounterParam(c)
	if err != nil {
		return err
	}
	var req noteRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	note, err := h.svc.GenerateNote(c.Request().Context(), id, req.Type)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"note": note})
}

func (h *Handler) SaveFinalNote(c echo.Context) error {
	id, err := encounterParam(c)
	if err != nil {
		return err
	}
	var req finalNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	a, err := h.svc.SaveFinalNote(c.Request().Context(), id, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// Messages shown to clients. The underlying error is attached as the
// internal error and only reaches the request log.
const (
	msgPrecondition = "Analysis must be run before generating note"
	msgInFlight     = "Analysis already in progress"
	msgTransition   = "Encounter status does not allow this action"
	msgUnavailable  = "AI service unavailable"
	msgNoteTimeout  = "Note generation timed out"
	msgNoteFailed   = "Note generation failed"
	msgAIError      = "AI service error"
	msgInternal     = "Analysis failed"
)

func httpError(err error) error {
	code, msg := http.StatusInternalServerError, msgInternal
	var te *aiclient.TransportError
	switch {
	case errors.Is(err, encounter.ErrNotFound):
		code, msg = http.StatusNotFound, "Encounter not found"
	case errors.Is(err, ErrNotFound):
		code, msg = http.StatusNotFound, "Analysis not found"
	case errors.Is(err, ErrPreconditionFailed):
		code, msg = http.StatusNotFound, msgPrecondition
	case errors.Is(err, ErrAnalysisInFlight):
		code, msg = http.StatusConflict, msgInFlight
	case errors.Is(err, encounter.ErrInvalidTransition):
		code, msg = http.StatusConflict, msgTransition
	case errors.Is(err, aiclient.ErrServiceUnavailable):
		code, msg = http.StatusServiceUnavailable, msgUnavailable
	case errors.Is(err, poller.ErrTaskTimedOut):
		code, msg = http.StatusGatewayTimeout, msgNoteTimeout
	case errors.Is(err, poller.ErrTaskFailed):
		code, msg = http.StatusBadGateway, msgNoteFailed
	case errors.As(err, &te):
		code, msg = http.StatusBadGateway, msgAIError
	}
	return echo.NewHTTPError(code, msg).SetInternal(err)
}
