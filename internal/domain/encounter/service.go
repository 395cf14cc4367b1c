package encounter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/internal/platform/blobstore"
)

// Form field names, also used as stored object name prefixes.
const (
	FieldAudio         = "audio"
	FieldClinicalFiles = "clinical_files"
)

// Transcriber turns recorded audio into text. *aiclient.Client satisfies it.
type Transcriber interface {
	Transcribe(ctx context.Context, audio aiclient.Attachment) (string, error)
}

// Upload is one file received from the client.
type Upload struct {
	Name    string
	Content io.Reader
}

// CreateInput carries a capture or resubmission form.
type CreateInput struct {
	Title     string
	TextNotes string
	Audio     *Upload
	Files     []Upload
	// ExistingFilePaths is the raw JSON array of attachment paths the client
	// wants to keep.
	ExistingFilePaths string
	ExistingAudioPath string
}

type Service struct {
	repo   Repository
	blobs  blobstore.Store
	asr    Transcriber
	logger zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, asr Transcriber, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		blobs:  blobs,
		asr:    asr,
		logger: logger.With().Str("component", "encounter").Logger(),
	}
}

// Create stores the uploads and inserts a pending encounter.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Encounter, error) {
	enc := &Encounter{Status: StatusPending}
	if err := s.apply(ctx, enc, in); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, err
	}
	s.logger.Info().Str("encounter_id", enc.ID.String()).
		Int("files", len(enc.ClinicalFilePaths)).
		Bool("audio", enc.HasAudio()).
		Msg("encounter created")
	return enc, nil
}

// Resubmit replaces the form fields of an existing encounter. Kept
// attachments come first, followed by new uploads in upload order. A new
// audio recording discards the stored transcript.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID, in CreateInput) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	prevAudio := enc.AudioPath
	if err := s.apply(ctx, enc, in); err != nil {
		return nil, err
	}
	if !samePath(prevAudio, enc.AudioPath) {
		enc.Transcript = nil
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, err
	}
	s.logger.Info().Str("encounter_id", enc.ID.String()).
		Int("files", len(enc.ClinicalFilePaths)).
		Msg("encounter resubmitted")
	return enc, nil
}

func (s *Service) apply(ctx context.Context, enc *Encounter, in CreateInput) error {
	enc.Title = strings.TrimSpace(in.Title)
	if enc.Title == "" {
		enc.Title = DefaultTitle
	}
	enc.TextNotes = nil
	if in.TextNotes != "" {
		notes := in.TextNotes
		enc.TextNotes = &notes
	}

	paths := s.existingPaths(in.ExistingFilePaths)
	for _, f := range in.Files {
		p, err := s.blobs.Save(ctx, FieldClinicalFiles, f.Name, f.Content)
		if err != nil {
			return fmt.Errorf("store clinical file %s: %w", f.Name, err)
		}
		paths = append(paths, p)
	}
	enc.ClinicalFilePaths = paths

	switch {
	case in.Audio != nil:
		p, err := s.blobs.Save(ctx, FieldAudio, in.Audio.Name, in.Audio.Content)
		if err != nil {
			return fmt.Errorf("store audio %s: %w", in.Audio.Name, err)
		}
		enc.AudioPath = &p
	case in.ExistingAudioPath != "":
		p := in.ExistingAudioPath
		enc.AudioPath = &p
	default:
		enc.AudioPath = nil
	}
	return nil
}

// existingPaths decodes the kept attachment list. Malformed input is logged
// and treated as empty.
func (s *Service) existingPaths(raw string) []string {
	paths := []string{}
	if strings.TrimSpace(raw) == "" {
		return paths
	}
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		s.logger.Warn().Err(err).Str("existing_file_paths", raw).Msg("ignoring malformed existingFilePaths")
		return []string{}
	}
	kept := paths[:0]
	for _, p := range paths {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return kept
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Encounter{}
	}
	return items, total, nil
}

// SetStatus moves an encounter to status to.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := enc.Status
	if err := enc.TransitionTo(to); err != nil {
		return nil, err
	}
	if from == to {
		return enc, nil
	}
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("encounter_id", id.String()).
		Str("from", string(from)).Str("to", string(to)).
		Msg("encounter status changed")
	return enc, nil
}

func (s *Service) SetTranscript(ctx context.Context, id uuid.UUID, transcript string) (*Encounter, error) {
	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	enc.Transcript = &transcript
	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, err
	}
	return enc, nil
}

// Transcribe sends a recording straight to the speech service without
// touching any encounter.
func (s *Service) Transcribe(ctx context.Context, audio Upload) (string, error) {
	return s.asr.Transcribe(ctx, aiclient.Attachment{Name: audio.Name, Content: audio.Content})
}

// OpenBlob reads a stored upload.
func (s *Service) OpenBlob(ctx context.Context, p string) (io.ReadCloser, error) {
	return s.blobs.Open(ctx, p)
}

func samePath(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
