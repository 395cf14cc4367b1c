package encounter

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/encounters/transcribe", h.Transcribe)
	api.POST("/encounters", h.CreateEncounter)
	api.GET("/encounters", h.ListEncounters)
	api.GET("/encounters/:id", h.GetEncounter)
	api.PUT("/encounters/:id", h.UpdateEncounter)
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	in, closeAll, err := readForm(c)
	if err != nil {
		return err
	}
	defer closeAll()

	enc, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, enc)
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	in, closeAll, err := readForm(c)
	if err != nil {
		return err
	}
	defer closeAll()

	enc, err := h.svc.Resubmit(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) GetEncounter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encounter id")
	}
	enc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	pg.SetHeaders(c, total)
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Transcribe(c echo.Context) error {
	fh, err := c.FormFile(FieldAudio)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "No audio file uploaded")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read audio upload")
	}
	defer f.Close()

	text, err := h.svc.Transcribe(c.Request().Context(), Upload{Name: fh.Filename, Content: f})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"transcript": text})
}

// readForm collects the capture form. The returned func closes every opened
// upload.
func readForm(c echo.Context) (CreateInput, func(), error) {
	in := CreateInput{
		Title:             c.FormValue("title"),
		TextNotes:         c.FormValue("textNotes"),
		ExistingFilePaths: c.FormValue("existingFilePaths"),
		ExistingAudioPath: c.FormValue("existingAudioPath"),
	}
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	form, err := c.MultipartForm()
	if errors.Is(err, http.ErrNotMultipart) {
		return in, closeAll, nil
	}
	if err != nil {
		return in, closeAll, echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form: "+err.Error())
	}

	open := func(fh *multipart.FileHeader) (Upload, error) {
		f, err := fh.Open()
		if err != nil {
			return Upload{}, echo.NewHTTPError(http.StatusBadRequest, "could not read upload "+fh.Filename)
		}
		opened = append(opened, f)
		return Upload{Name: fh.Filename, Content: f}, nil
	}

	if files := form.File[FieldAudio]; len(files) > 0 {
		u, err := open(files[0])
		if err != nil {
			closeAll()
			return in, func() {}, err
		}
		in.Audio = &u
	}
	for _, fh := range form.File[FieldClinicalFiles] {
		u, err := open(fh)
		if err != nil {
			closeAll()
			return in, func() {}, err
		}
		in.Files = append(in.Files, u)
	}
	return in, closeAll, nil
}

// httpError maps err to a fixed client message; err itself is kept as the
// internal error for the request log.
func httpError(err error) error {
	code, msg := http.StatusInternalServerError, "Encounter request failed"
	var te *aiclient.TransportError
	switch {
	case errors.Is(err, ErrNotFound):
		code, msg = http.StatusNotFound, "Encounter not found"
	case errors.Is(err, ErrInvalidTransition):
		code, msg = http.StatusConflict, "Encounter status does not allow this action"
	case errors.Is(err, aiclient.ErrServiceUnavailable):
		code, msg = http.StatusServiceUnavailable, "AI service unavailable"
	case errors.As(err, &te):
		code, msg = http.StatusBadGateway, "Transcription failed"
	}
	return echo.NewHTTPError(code, msg).SetInternal(err)
}
