package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/internal/domain/encounter"
	"github.com/medscribe/medscribe/internal/platform/poller"
)

func newTestContext(e *echo.Echo, method, target, body string, encounterID string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("encounterId")
	c.SetParamValues(encounterID)
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_TriggerAnalysis(t *testing.T) {
	ai := &fakeAI{submission: aiclient.Submission{TaskID: "t1"}, statuses: completed("r")}
	f := newFixture(t, ai)
	h, e := NewHandler(f.svc), echo.New()
	enc := f.encounter(t, encounter.CreateInput{})

	c, rec := newTestContext(e, http.MethodPost, "/api/analysis/"+enc.ID.String(), "", enc.ID.String())
	if err := h.TriggerAnalysis(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.wait(t)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var a Analysis
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.Status != StatusProcessing || a.EncounterID != enc.ID {
		t.Errorf("unexpected analysis %+v", a)
	}
}

func TestHandler_TriggerAnalysis_NotFound(t *testing.T) {
	f := newFixture(t, &fakeAI{})
	h, e := NewHandler(f.svc), echo.New()
	id := uuid.New().String()

	c, _ := newTestContext(e, http.MethodPost, "/api/analysis/"+id, "", id)
	if code := httpCode(t, h.TriggerAnalysis(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_TriggerAnalysis_InvalidID(t *testing.T) {
	f := newFixture(t, &fakeAI{})
	h, e := NewHandler(f.svc), echo.New()

	c, _ := newTestContext(e, http.MethodPost, "/api/analysis/nope", "", "nope")
	if code := httpCode(t, h.TriggerAnalysis(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetAnalysis_NotFound(t *testing.T) {
	f := newFixture(t, &fakeAI{})
	h, e := NewHandler(f.svc), echo.New()
	enc := f.encounter(t, encounter.CreateInput{})

	c, _ := newTestContext(e, http.MethodGet, "/api/analysis/"+enc.ID.String(), "", enc.ID.String())
	if code := httpCode(t, h.GetAnalysis(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GenerateNote_Precondition(t *testing.T) {
	f := newFixture(t, &fakeAI{})
	h, e := NewHandler(f.svc), echo.New()
	enc := f.encounter(t, encounter.CreateInput{})

	c, _ := newTestContext(e, http.MethodPost, "/api/analysis/generate-note/"+enc.ID.String(), `{"type":"SOAP Note"}`, enc.ID.String())
	err := h.GenerateNote(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if he.Message != "Analysis must be run before generating note" {
		t.Errorf("unexpected message %v", he.Message)
	}
}

func TestHandler_GenerateNote(t *testing.T) {
	ai := &fakeAI{noteStatuses: completed("S: cough\nP: fluids")}
	f := newFixture(t, ai)
	h, e := NewHandler(f.svc), echo.New()
	enc := f.completedAnalysis(t, encounter.CreateInput{}, "r")

	c, rec := newTestContext(e, http.MethodPost, "/api/analysis/generate-note/"+enc.ID.String(), `{"type":"Discharge Summary"}`, enc.ID.String())
	if err := h.GenerateNote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]string
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["note"] != "S: cough\nP: fluids" {
		t.Errorf("unexpected note %q", out["note"])
	}
	if ai.lastNote.NoteType != "Discharge Summary" {
		t.Errorf("expected note type passed through, got %q", ai.lastNote.NoteType)
	}
}

func TestHandler_SaveFinalNote(t *testing.T) {
	f := newFixture(t, &fakeAI{})
	h, e := NewHandler(f.svc), echo.New()
	enc := f.completedAnalysis(t, encounter.CreateInput{}, "r")

	c, rec := newTestContext(e, http.MethodPut, "/api/analysis/"+enc.ID.String()+"/final-note", `{"note":"signed"}`, enc.ID.String())
	if err := h.SaveFinalNote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var a Analysis
	json.Unmarshal(rec.Body.Bytes(), &a)
	if a.FinalNote == nil || *a.FinalNote != "signed" {
		t.Errorf("unexpected final note %v", a.FinalNote)
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{encounter.ErrNotFound, http.StatusNotFound},
		{ErrNotFound, http.StatusNotFound},
		{ErrPreconditionFailed, http.StatusNotFound},
		{ErrAnalysisInFlight, http.StatusConflict},
		{aiclient.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{&aiclient.TransportError{Op: "submit", StatusCode: 500}, http.StatusBadGateway},
		{&poller.TaskFailedError{TaskID: "t", Message: "x"}, http.StatusBadGateway},
		{&poller.TimeoutError{TaskID: "t", Attempts: 1}, http.StatusGatewayTimeout},
		{fmt.Errorf("submit note: %w", aiclient.ErrServiceUnavailable), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpCode(t, httpError(tt.err)); got != tt.want {
			t.Errorf("httpError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

type brokenRepo struct {
	*mockRepo
}

func (brokenRepo) GetByEncounter(context.Context, uuid.UUID) (*Analysis, error) {
	return nil, errors.New(`read analysis: ERROR: relation "analyses" does not exist (SQLSTATE 42P01)`)
}

func TestHandler_InternalErrorHidesCause(t *testing.T) {
	ai := &fakeAI{}
	f := newFixture(t, ai)
	svc := NewService(brokenRepo{newMockRepo()}, f.encs, ai, Options{Runner: f.runner}, zerolog.Nop())

	e := echo.New()
	NewHandler(svc).RegisterRoutes(e.Group("/api"))
	req := httptest.NewRequest(http.MethodGet, "/api/analysis/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "relation") || strings.Contains(rec.Body.String(), "SQLSTATE") {
		t.Errorf("response leaks the store error: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), msgInternal) {
		t.Errorf("expected %q in %s", msgInternal, rec.Body.String())
	}
}

func TestHTTPError_KeepsCauseInternal(t *testing.T) {
	cause := &aiclient.TransportError{Op: "generate-clinical-note", StatusCode: 500, Err: errors.New("CUDA out of memory")}
	var he *echo.HTTPError
	if !errors.As(httpError(cause), &he) {
		t.Fatal("expected *echo.HTTPError")
	}
	if he.Message != msgAIError {
		t.Errorf("message = %v, want %q", he.Message, msgAIError)
	}
	if !errors.Is(he.Internal, cause) {
		t.Errorf("internal = %v, want the transport error", he.Internal)
	}
}
