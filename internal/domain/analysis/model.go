package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("analysis not found")
	// ErrPreconditionFailed is returned when note work is requested before
	// an analysis has completed.
	ErrPreconditionFailed = errors.New("analysis must be run before generating note")
	ErrAnalysisInFlight   = errors.New("analysis already in flight for encounter")
	ErrDuplicate          = errors.New("analysis already exists for encounter")
)

// DefaultNoteType is used when a note is requested without a type.
const DefaultNoteType = "SOAP Note"

// Status is the lifecycle state of an analysis.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Kind selects which result fields of an Analysis are meaningful.
type Kind string

const (
	KindNone       Kind = ""
	KindStructured Kind = "structured"
	KindReport     Kind = "report"
)

type DifferentialItem struct {
	Condition  string   `json:"condition"`
	Likelihood string   `json:"likelihood"`
	Evidence   []string `json:"evidence"`
}

type Plan struct {
	Diagnostics  []string `json:"diagnostics"`
	Therapeutics []string `json:"therapeutics"`
	Monitoring   []string `json:"monitoring"`
}

// Analysis is the AI assessment of one encounter. At most one exists per
// encounter.
type Analysis struct {
	ID             uuid.UUID          `json:"id"`
	EncounterID    uuid.UUID          `json:"encounterId"`
	Kind           Kind               `json:"kind"`
	Differential   []DifferentialItem `json:"differential"`
	Plan           *Plan              `json:"plan"`
	VisualFindings []string           `json:"visualFindings"`
	Report         string             `json:"report"`
	Status         Status             `json:"status"`
	Error          string             `json:"error,omitempty"`
	FinalNote      *string            `json:"finalNote"`
	TaskID         string             `json:"taskId,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Result is a parsed analysis output.
type Result struct {
	Kind           Kind
	Differential   []DifferentialItem
	Plan           *Plan
	VisualFindings []string
	Report         string
}

// Begin marks the analysis as processing for a new run. Results of an
// earlier run stay until the new run completes.
func (a *Analysis) Begin() {
	a.Status = StatusProcessing
	a.Error = ""
	a.TaskID = ""
}

// Complete stores r and marks the analysis completed. Only the fields that
// belong to r.Kind are populated.
func (a *Analysis) Complete(r Result) {
	a.Kind = r.Kind
	switch r.Kind {
	case KindStructured:
		a.Differential = r.Differential
		a.Plan = r.Plan
		a.VisualFindings = r.VisualFindings
		a.Report = ""
	default:
		a.Kind = KindReport
		a.Differential = nil
		a.Plan = nil
		a.VisualFindings = nil
		a.Report = r.Report
	}
	a.Status = StatusCompleted
	a.Error = ""
}

// Fail marks the analysis failed with reason.
func (a *Analysis) Fail(reason string) {
	a.Status = StatusFailed
	a.Error = reason
}

// ClinicalData renders the analysis for note generation: the report text,
// or the structured result as JSON.
func (a *Analysis) ClinicalData() string {
	if a.Kind != KindStructured {
		return a.Report
	}
	b, err := json.Marshal(structuredBody{
		Differential:   a.Differential,
		Plan:           a.Plan,
		VisualFindings: a.VisualFindings,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

type structuredBody struct {
	Differential   []DifferentialItem `json:"differential"`
	Plan           *Plan              `json:"plan"`
	VisualFindings []string           `json:"visualFindings,omitempty"`
}

// ParseResult reads raw model output. Output that decodes (after removing
// markdown code fences) into a differential or plan is structured; anything
// else is kept as a report.
func ParseResult(raw string) Result {
	cleaned := strings.NewReplacer("```json", "", "```", "").Replace(raw)
	cleaned = strings.TrimSpace(cleaned)

	var body structuredBody
	if err := json.Unmarshal([]byte(cleaned), &body); err == nil && (len(body.Differential) > 0 || body.Plan != nil) {
		return Result{
			Kind:           KindStructured,
			Differential:   body.Differential,
			Plan:           body.Plan,
			VisualFindings: body.VisualFindings,
		}
	}
	return Result{Kind: KindReport, Report: strings.TrimSpace(raw)}
}
