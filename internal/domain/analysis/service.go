package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/internal/domain/encounter"
	"github.com/medscribe/medscribe/internal/platform/blobstore"
	"github.com/medscribe/medscribe/internal/platform/inflight"
	"github.com/medscribe/medscribe/internal/platform/jobs"
	"github.com/medscribe/medscribe/internal/platform/poller"
	"github.com/medscribe/medscribe/internal/platform/telemetry"
	"github.com/medscribe/medscribe/internal/platform/websocket"
)

var errShuttingDown = errors.New("server is shutting down")

// Telemetry operation names.
const (
	opAnalysis = "analysis"
	opNote     = "note"
)

// Event types published on the encounter's topic.
const (
	EventProcessing = "analysis.processing"
	EventCompleted  = "analysis.completed"
	EventFailed     = "analysis.failed"
	EventFinalized  = "note.finalized"
)

// Encounters is the part of the encounter service the orchestrators use.
type Encounters interface {
	Get(ctx context.Context, id uuid.UUID) (*encounter.Encounter, error)
	SetStatus(ctx context.Context, id uuid.UUID, to encounter.Status) (*encounter.Encounter, error)
	SetTranscript(ctx context.Context, id uuid.UUID, transcript string) (*encounter.Encounter, error)
	OpenBlob(ctx context.Context, p string) (io.ReadCloser, error)
}

// AI is the external inference service. *aiclient.Client satisfies it.
type AI interface {
	SubmitAnalysis(ctx context.Context, in aiclient.AnalysisRequest) (aiclient.Submission, error)
	SubmitNote(ctx context.Context, in aiclient.NoteRequest) (aiclient.Submission, error)
	Status(ctx context.Context, taskID string) (aiclient.TaskStatus, error)
	Transcribe(ctx context.Context, audio aiclient.Attachment) (string, error)
}

// Options configures the orchestrators. Zero values get defaults.
type Options struct {
	AnalysisPoller poller.Poller
	NotePoller     poller.Poller
	Guard          inflight.Guard
	Runner         *jobs.Runner
	Metrics        *telemetry.Metrics
	// Events receives analysis status changes. Nil disables publishing.
	Events websocket.Publisher
	// Tx runs fn in a store transaction. Without one, fn runs directly.
	Tx func(ctx context.Context, fn func(ctx context.Context) error) error
}

type TriggerOptions struct {
	// Force re-runs an analysis that already completed.
	Force bool
}

type Service struct {
	repo       Repository
	encounters Encounters
	ai         AI

	analysisPoller poller.Poller
	notePoller     poller.Poller
	guard          inflight.Guard
	leaseTTL       time.Duration
	runner         *jobs.Runner
	metrics        *telemetry.Metrics
	events         websocket.Publisher
	tx             func(ctx context.Context, fn func(ctx context.Context) error) error
	logger         zerolog.Logger
}

func NewService(repo Repository, encounters Encounters, ai AI, opts Options, logger zerolog.Logger) *Service {
	s := &Service{
		repo:           repo,
		encounters:     encounters,
		ai:             ai,
		analysisPoller: opts.AnalysisPoller,
		notePoller:     opts.NotePoller,
		guard:          opts.Guard,
		runner:         opts.Runner,
		metrics:        opts.Metrics,
		events:         opts.Events,
		tx:             opts.Tx,
		logger:         logger.With().Str("component", "analysis").Logger(),
	}
	if s.analysisPoller.MaxAttempts == 0 {
		s.analysisPoller = poller.Poller{Interval: 10 * time.Second, MaxAttempts: 240}
	}
	if s.notePoller.MaxAttempts == 0 {
		s.notePoller = poller.Poller{Interval: 5 * time.Second, MaxAttempts: 120}
	}
	if s.guard == nil {
		s.guard = inflight.NewLocalGuard()
	}
	if s.runner == nil {
		s.runner = jobs.NewRunner(logger)
	}
	if s.metrics == nil {
		s.metrics = telemetry.Nop()
	}
	if s.tx == nil {
		s.tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	s.leaseTTL = s.analysisPoller.Interval*time.Duration(s.analysisPoller.MaxAttempts) + time.Minute
	return s
}

func (s *Service) Get(ctx context.Context, encounterID uuid.UUID) (*Analysis, error) {
	return s.repo.GetByEncounter(ctx, encounterID)
}

func leaseKey(encounterID uuid.UUID) string {
	return "analysis:" + encounterID.String()
}

// Trigger starts an analysis for the encounter and returns without waiting
// for it. A processing analysis whose run is still alive is returned
// unchanged, as is a completed one unless opts.Force is set. A processing
// analysis with no live run (its lease is free) is restarted.
func (s *Service) Trigger(ctx context.Context, encounterID uuid.UUID, opts TriggerOptions) (*Analysis, error) {
	if _, err := s.encounters.Get(ctx, encounterID); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByEncounter(ctx, encounterID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == StatusCompleted && !opts.Force {
		return existing, nil
	}

	lease, err := s.guard.Acquire(ctx, leaseKey(encounterID), s.leaseTTL)
	if errors.Is(err, inflight.ErrHeld) {
		return s.current(ctx, encounterID)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire analysis lease: %w", err)
	}
	release := func() {
		if err := lease.Release(context.Background()); err != nil {
			s.logger.Warn().Err(err).Str("encounter_id", encounterID.String()).Msg("release analysis lease")
		}
	}

	if existing != nil && existing.Status == StatusProcessing {
		s.logger.Warn().Str("encounter_id", encounterID.String()).Str("analysis_id", existing.ID.String()).
			Msg("restarting abandoned analysis")
	}

	a, started, err := s.start(ctx, encounterID, existing, opts)
	if err != nil || !started {
		release()
		return a, err
	}
	s.publish(ctx, EventProcessing, a)

	ok := s.runner.Go("analysis "+encounterID.String(), func(jobCtx context.Context) error {
		defer release()
		defer s.recoverRun(jobCtx, encounterID)
		return s.runAnalysis(jobCtx, encounterID)
	})
	if !ok {
		release()
		if err := s.settleFailure(ctx, encounterID, errShuttingDown); err != nil {
			s.logger.Error().Err(err).Str("encounter_id", encounterID.String()).Msg("settle dropped analysis")
		}
		return nil, errShuttingDown
	}

	s.logger.Info().Str("encounter_id", encounterID.String()).Str("analysis_id", a.ID.String()).
		Bool("force", opts.Force).Msg("analysis started")
	return a, nil
}

// publish sends a best-effort status event for a.
func (s *Service) publish(ctx context.Context, eventType string, a *Analysis) {
	if s.events == nil || a == nil {
		return
	}
	ev := websocket.NewEvent(eventType, a.EncounterID, map[string]interface{}{
		"analysisId": a.ID,
		"status":     a.Status,
		"kind":       a.Kind,
		"error":      a.Error,
	})
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("encounter_id", a.EncounterID.String()).Str("type", eventType).Msg("publish event")
	}
}

// recoverRun settles a run that panicked so the analysis does not stay
// processing. It must be deferred directly by the job.
func (s *Service) recoverRun(ctx context.Context, encounterID uuid.UUID) {
	rec := recover()
	if rec == nil {
		return
	}
	s.metrics.Settled(ctx, opAnalysis, telemetry.OutcomeError, 0)
	s.logger.Error().Str("encounter_id", encounterID.String()).Str("panic", fmt.Sprint(rec)).
		Str("stack", string(debug.Stack())).Msg("analysis panicked")
	if err := s.settleFailure(ctx, encounterID, fmt.Errorf("analysis panicked: %v", rec)); err != nil {
		s.logger.Error().Err(err).Str("encounter_id", encounterID.String()).Msg("settle panicked analysis")
	}
}

// current returns whatever analysis another trigger is producing.
func (s *Service) current(ctx context.Context, encounterID uuid.UUID) (*Analysis, error) {
	a, err := s.repo.GetByEncounter(ctx, encounterID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAnalysisInFlight
	}
	return a, err
}

// start moves the analysis to processing and the encounter to analyzing in
// one transaction. started is false when a concurrent trigger already owns
// the run or already completed it.
func (s *Service) start(ctx context.Context, encounterID uuid.UUID, existing *Analysis, opts TriggerOptions) (*Analysis, bool, error) {
	for attempt := 0; ; attempt++ {
		var a *Analysis
		err := s.tx(ctx, func(ctx context.Context) error {
			if existing == nil {
				a = &Analysis{EncounterID: encounterID}
				a.Begin()
				if err := s.repo.Create(ctx, a); err != nil {
					return err
				}
			} else {
				a = existing
				a.Begin()
				if err := s.repo.Update(ctx, a); err != nil {
					return err
				}
			}
			_, err := s.encounters.SetStatus(ctx, encounterID, encounter.StatusAnalyzing)
			return err
		})
		if err == nil {
			return a, true, nil
		}
		if !errors.Is(err, ErrDuplicate) || attempt > 0 {
			return nil, false, err
		}

		// Another trigger created the row first.
		existing, err = s.repo.GetByEncounter(ctx, encounterID)
		if err != nil {
			return nil, false, err
		}
		if existing.Status == StatusProcessing || (existing.Status == StatusCompleted && !opts.Force) {
			return existing, false, nil
		}
	}
}

// runAnalysis drives one background run to a terminal state. Analysis
// failures are recorded on the rows, not returned.
func (s *Service) runAnalysis(ctx context.Context, encounterID uuid.UUID) error {
	start := time.Now()
	log := s.logger.With().Str("encounter_id", encounterID.String()).Logger()

	result, err := s.analyze(ctx, encounterID, log)
	if err != nil {
		s.metrics.Settled(ctx, opAnalysis, outcome(err), time.Since(start))
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("analysis failed")
		return s.settleFailure(ctx, encounterID, err)
	}

	a, err := s.complete(ctx, encounterID, result)
	if err != nil {
		s.metrics.Settled(ctx, opAnalysis, telemetry.OutcomeError, time.Since(start))
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("persist analysis result")
		if serr := s.settleFailure(ctx, encounterID, err); serr != nil {
			return errors.Join(err, serr)
		}
		return nil
	}
	s.metrics.Settled(ctx, opAnalysis, telemetry.OutcomeCompleted, time.Since(start))
	log.Info().Str("kind", string(a.Kind)).Dur("elapsed", time.Since(start)).Msg("analysis completed")
	s.publish(ctx, EventCompleted, a)
	return nil
}

// complete stores the result and moves the encounter to review.
func (s *Service) complete(ctx context.Context, encounterID uuid.UUID, result Result) (*Analysis, error) {
	a, err := s.repo.GetByEncounter(ctx, encounterID)
	if err != nil {
		return nil, fmt.Errorf("reload analysis: %w", err)
	}
	a.Complete(result)
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("persist completed analysis: %w", err)
	}
	if _, err := s.encounters.SetStatus(ctx, encounterID, encounter.StatusReview); err != nil {
		return nil, fmt.Errorf("move encounter to review: %w", err)
	}
	return a, nil
}

func (s *Service) analyze(ctx context.Context, encounterID uuid.UUID, log zerolog.Logger) (Result, error) {
	enc, err := s.encounters.Get(ctx, encounterID)
	if err != nil {
		return Result{}, err
	}

	transcript := ""
	if enc.HasTranscript() {
		transcript = *enc.Transcript
	} else if enc.HasAudio() {
		if transcript, err = s.transcribe(ctx, enc); err != nil {
			return Result{}, err
		}
	}

	files, closeAll := s.openAttachments(ctx, enc, log)
	defer closeAll()

	notes := ""
	if enc.TextNotes != nil {
		notes = *enc.TextNotes
	}
	sub, err := s.ai.SubmitAnalysis(ctx, aiclient.AnalysisRequest{
		Transcript: transcript,
		Notes:      notes,
		Files:      files,
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit analysis: %w", err)
	}
	s.metrics.Submitted(ctx, opAnalysis)
	closeAll()

	if sub.Result != nil {
		return ParseResult(*sub.Result), nil
	}

	if err := s.recordTask(ctx, encounterID, sub.TaskID); err != nil {
		log.Warn().Err(err).Str("task_id", sub.TaskID).Msg("could not record task id")
	}
	log.Debug().Str("task_id", sub.TaskID).Msg("analysis task submitted")

	p := s.analysisPoller
	p.OnCheck = func(attempt int, st aiclient.TaskStatus) {
		log.Debug().Str("task_id", sub.TaskID).Int("attempt", attempt).Str("state", string(st.State)).Msg("analysis task checked")
	}
	raw, err := p.Wait(ctx, s.ai, sub.TaskID)
	if err != nil {
		return Result{}, err
	}
	return ParseResult(raw), nil
}

func (s *Service) transcribe(ctx context.Context, enc *encounter.Encounter) (string, error) {
	audio, err := s.encounters.OpenBlob(ctx, *enc.AudioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer audio.Close()

	text, err := s.ai.Transcribe(ctx, aiclient.Attachment{Name: path.Base(*enc.AudioPath), Content: audio})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if _, err := s.encounters.SetTranscript(ctx, enc.ID, text); err != nil {
		return "", fmt.Errorf("save transcript: %w", err)
	}
	return text, nil
}

// openAttachments opens every stored clinical file. Missing files are
// skipped. The returned func is safe to call more than once.
func (s *Service) openAttachments(ctx context.Context, enc *encounter.Encounter, log zerolog.Logger) ([]aiclient.Attachment, func()) {
	var (
		files  []aiclient.Attachment
		opened []io.Closer
	)
	for _, p := range enc.ClinicalFilePaths {
		rc, err := s.encounters.OpenBlob(ctx, p)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				log.Warn().Str("path", p).Msg("clinical file missing, skipping")
			} else {
				log.Error().Err(err).Str("path", p).Msg("could not open clinical file, skipping")
			}
			continue
		}
		opened = append(opened, rc)
		files = append(files, aiclient.Attachment{Name: path.Base(p), Content: rc})
	}
	return files, func() {
		for _, c := range opened {
			c.Close()
		}
		opened = nil
	}
}

func (s *Service) recordTask(ctx context.Context, encounterID uuid.UUID, taskID string) error {
	a, err := s.repo.GetByEncounter(ctx, encounterID)
	if err != nil {
		return err
	}
	a.TaskID = taskID
	return s.repo.Update(ctx, a)
}

// settleFailure marks the analysis failed and returns the encounter to
// pending. Only persistence errors are returned.
func (s *Service) settleFailure(ctx context.Context, encounterID uuid.UUID, cause error) error {
	a, err := s.repo.GetByEncounter(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("reload analysis: %w", err)
	}
	a.Fail(cause.Error())
	if err := s.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("persist failed analysis: %w", err)
	}
	if _, err := s.encounters.SetStatus(ctx, encounterID, encounter.StatusPending); err != nil {
		return fmt.Errorf("return encounter to pending: %w", err)
	}
	s.publish(ctx, EventFailed, a)
	return nil
}

// GenerateNote asks the AI service for a note of noteType and waits for it
// on the caller's context.
func (s *Service) GenerateNote(ctx context.Context, encounterID uuid.UUID, noteType string) (string, error) {
	enc, err := s.encounters.Get(ctx, encounterID)
	if err != nil {
		return "", err
	}
	a, err := s.repo.GetByEncounter(ctx, encounterID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrPreconditionFailed
	}
	if err != nil {
		return "", err
	}
	if a.Status != StatusCompleted {
		return "", ErrPreconditionFailed
	}
	if noteType == "" {
		noteType = DefaultNoteType
	}

	transcript, notes := "", ""
	if enc.Transcript != nil {
		transcript = *enc.Transcript
	}
	if enc.TextNotes != nil {
		notes = *enc.TextNotes
	}

	start := time.Now()
	sub, err := s.ai.SubmitNote(ctx, aiclient.NoteRequest{
		Transcript:   transcript,
		ClinicalData: noteClinicalData(notes, a),
		NoteType:     noteType,
	})
	if err != nil {
		return "", fmt.Errorf("submit note: %w", err)
	}
	s.metrics.Submitted(ctx, opNote)

	raw := ""
	if sub.Result != nil {
		raw = *sub.Result
	} else if raw, err = s.notePoller.Wait(ctx, s.ai, sub.TaskID); err != nil {
		s.metrics.Settled(ctx, opNote, outcome(err), time.Since(start))
		s.logger.Warn().Err(err).Str("encounter_id", encounterID.String()).Str("task_id", sub.TaskID).Msg("note generation failed")
		return "", err
	}
	s.metrics.Settled(ctx, opNote, telemetry.OutcomeCompleted, time.Since(start))
	s.logger.Info().Str("encounter_id", encounterID.String()).Str("note_type", noteType).
		Dur("elapsed", time.Since(start)).Msg("note generated")
	return CleanNote(raw), nil
}

// SaveFinalNote stores the clinician-approved note and completes the
// encounter.
func (s *Service) SaveFinalNote(ctx context.Context, encounterID uuid.UUID, note string) (*Analysis, error) {
	if _, err := s.encounters.Get(ctx, encounterID); err != nil {
		return nil, err
	}
	a, err := s.repo.GetByEncounter(ctx, encounterID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrPreconditionFailed
	}
	if err != nil {
		return nil, err
	}
	if a.Status != StatusCompleted {
		return nil, ErrPreconditionFailed
	}
	a.FinalNote = &note
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	if _, err := s.encounters.SetStatus(ctx, encounterID, encounter.StatusCompleted); err != nil {
		return nil, err
	}
	s.publish(ctx, EventFinalized, a)
	return a, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, poller.ErrTaskFailed):
		return telemetry.OutcomeFailed
	case errors.Is(err, poller.ErrTaskTimedOut):
		return telemetry.OutcomeTimeout
	default:
		return telemetry.OutcomeError
	}
}
