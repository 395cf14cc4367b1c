package encounter

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is used when an encounter is captured without a title.
const DefaultTitle = "Untitled Encounter"

var (
	ErrNotFound          = errors.New("encounter not found")
	ErrInvalidTransition = errors.New("invalid encounter status transition")
)

// Status is the encounter workflow state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusReview    Status = "review"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusReview, StatusCompleted:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusAnalyzing},
	StatusAnalyzing: {StatusReview, StatusPending},
	StatusReview:    {StatusCompleted, StatusAnalyzing},
	StatusCompleted: {StatusAnalyzing},
}

// CanTransition reports whether an encounter may move from one status to
// another. Rewriting the current status is always allowed.
func CanTransition(from, to Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Encounter is one captured clinical visit. JSON field names follow the
// frontend contract.
type Encounter struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	AudioPath         *string   `json:"audioPath"`
	ClinicalFilePaths []string  `json:"clinicalFilePaths"`
	TextNotes         *string   `json:"textNotes"`
	Transcript        *string   `json:"transcript"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// TransitionTo moves the encounter to status to, or returns
// ErrInvalidTransition.
func (e *Encounter) TransitionTo(to Status) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	return nil
}

// HasTranscript reports whether a non-empty transcript is stored.
func (e *Encounter) HasTranscript() bool {
	return e.Transcript != nil && *e.Transcript != ""
}

// HasAudio reports whether an audio recording is attached.
func (e *Encounter) HasAudio() bool {
	return e.AudioPath != nil && *e.AudioPath != ""
}
