package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/report"
	"github.com/iaprender-user-sync/internal/repository"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const (
	runErrorsPreview = 100
	defaultListLimit = 20
	maxListLimit     = 100
	uniqueViolation  = "23505"
)

// runService is the concrete implementation of RunService
type runService struct {
	runRepo  repository.SyncRunRepository
	sync     SyncService
	archiver report.Archiver
	cfg      *config.SyncConfig
	log      zerolog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	loopDone chan struct{}
	mu       sync.Mutex
	// sem bounds how many runs execute at once, inline and queued alike
	sem chan struct{}
}

// NewRunService creates a RunService. A nil archiver disables report upload.
func NewRunService(runRepo repository.SyncRunRepository, syncSvc SyncService, archiver report.Archiver, cfg *config.SyncConfig, log zerolog.Logger) RunService {
	if archiver == nil {
		archiver = report.Nop{}
	}
	maxRuns := cfg.MaxConcurrentRuns
	if maxRuns < 1 {
		maxRuns = 1
	}

	log.Info().Int("max_concurrent_runs", maxRuns).Msg("Initializing sync run service")

	return &runService{
		runRepo:  runRepo,
		sync:     syncSvc,
		archiver: archiver,
		cfg:      cfg,
		log:      log.With().Str("service", "run").Logger(),
		sem:      make(chan struct{}, maxRuns),
	}
}

// RunNow creates a run and executes it before returning. The boolean is true
// when an earlier run with the same idempotency key was returned instead.
// The run waits for a free slot shared with the background processor.
func (s *runService) RunNow(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error) {
	run, existing, err := s.createRun(ctx, req, models.RunStatusProcessing)
	if err != nil {
		return nil, false, err
	}
	if existing {
		resp, err := s.GetRun(ctx, run.ID)
		return resp, true, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.abandon(run, fmt.Errorf("waiting for a run slot: %w", ctx.Err()))
		return nil, false, ctx.Err()
	}
	defer func() { <-s.sem }()

	execErr := s.execute(ctx, run)

	resp, err := s.buildResponse(context.WithoutCancel(ctx), run)
	if err != nil {
		return nil, false, err
	}
	return resp, false, execErr
}

// Enqueue creates a pending run for the background processor
func (s *runService) Enqueue(ctx context.Context, req *models.RunRequest) (*models.SyncRun, bool, error) {
	return s.createRun(ctx, req, models.RunStatusPending)
}

func (s *runService) createRun(ctx context.Context, req *models.RunRequest, status models.RunStatus) (*models.SyncRun, bool, error) {
	if req.Mode == "" {
		req.Mode = models.RunModeBulk
	}
	switch req.Mode {
	case models.RunModeBulk:
		req.Username = ""
	case models.RunModeSingle:
		if req.Username == "" {
			return nil, false, fmt.Errorf("%w: username is required for single mode", ErrInvalidRequest)
		}
	default:
		return nil, false, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	if req.IdempotencyKey != "" {
		existing, err := s.runRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			s.log.Info().Str("run_id", existing.ID).Str("idempotency_key", req.IdempotencyKey).Msg("Returning existing run")
			return existing, true, nil
		}
	}

	now := time.Now()
	run := &models.SyncRun{
		ID:             uuid.New().String(),
		Mode:           req.Mode,
		Target:         req.Username,
		Status:         status,
		IdempotencyKey: req.IdempotencyKey,
		TriggeredBy:    req.TriggeredBy,
		CreatedAt:      now,
	}
	if status == models.RunStatusProcessing {
		run.StartedAt = &now
	}

	if err := s.runRepo.Create(ctx, run); err != nil {
		// Lost a race on the same idempotency key
		var pqErr *pq.Error
		if req.IdempotencyKey != "" && errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			existing, lookupErr := s.runRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("create run: %w", err)
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("mode", string(run.Mode)).
		Str("target", run.Target).
		Str("status", string(run.Status)).
		Str("triggered_by", run.TriggeredBy).
		Msg("Sync run created")

	return run, false, nil
}

// execute runs the pipeline for a claimed run and records the outcome.
// Bookkeeping writes ignore cancellation of ctx so a stopped run is still
// marked failed.
func (s *runService) execute(ctx context.Context, run *models.SyncRun) error {
	start := time.Now()
	if run.StartedAt == nil {
		run.StartedAt = &start
	}
	run.Status = models.RunStatusProcessing

	bookkeeping := context.WithoutCancel(ctx)
	sink := newErrorSink(bookkeeping, s.runRepo, run.ID, s.cfg.ErrorFlushThreshold, s.log)

	var err error
	switch run.Mode {
	case models.RunModeSingle:
		err = s.executeSingle(ctx, run, sink.add)
	default:
		var summary *models.SyncSummary
		summary, err = s.sync.SyncAll(ctx, sink.add)
		if summary != nil {
			run.Summary = *summary
		}
	}
	sink.flush()

	duration := time.Since(start)
	run.DurationMs = duration.Milliseconds()
	if run.Summary.Processed > 0 && duration.Seconds() > 0 {
		run.RecordsPerSec = float64(run.Summary.Processed) / duration.Seconds()
	}
	completedAt := time.Now()
	run.CompletedAt = &completedAt

	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		s.log.Error().Err(err).Str("run_id", run.ID).Int("processed", run.Summary.Processed).Msg("Sync run failed")
	} else {
		run.Status = models.RunStatusCompleted
		s.log.Info().
			Str("run_id", run.ID).
			Int("processed", run.Summary.Processed).
			Int("succeeded", run.Summary.Succeeded).
			Int("failed", run.Summary.Failed).
			Int64("duration_ms", run.DurationMs).
			Float64("records_per_sec", run.RecordsPerSec).
			Msg("Sync run completed")
	}

	s.archive(bookkeeping, run)

	if uerr := s.runRepo.Update(bookkeeping, run); uerr != nil {
		s.log.Error().Err(uerr).Str("run_id", run.ID).Msg("Failed to record run outcome")
	}
	return err
}

// abandon marks a run that never started as failed
func (s *runService) abandon(run *models.SyncRun, cause error) {
	now := time.Now()
	run.Status = models.RunStatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	s.log.Warn().Err(cause).Str("run_id", run.ID).Msg("Sync run abandoned")
	if err := s.runRepo.Update(context.Background(), run); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record abandoned run")
	}
}

// executeSingle maps a single-identity sync onto the run counters. A failed
// identity fails the run.
func (s *runService) executeSingle(ctx context.Context, run *models.SyncRun, onError func(models.SyncError)) error {
	run.Summary = models.SyncSummary{Processed: 1}

	res, err := s.sync.SyncUser(ctx, run.Target)
	if err != nil {
		run.Summary.Failed = 1
		onError(models.SyncError{Username: run.Target, Stage: StageOf(err), Message: err.Error()})
		return err
	}

	run.Summary.Succeeded = 1
	if res.Created {
		run.Summary.Created = 1
	} else {
		run.Summary.Updated = 1
	}
	for _, w := range res.Warnings {
		run.Summary.GroupFallbacks = 1
		onError(models.SyncError{ExternalID: res.ExternalID, Username: res.Username, Stage: models.StageGroups, Message: w})
	}
	return nil
}

// archive uploads the run report; a failure is logged only
func (s *runService) archive(ctx context.Context, run *models.SyncRun) {
	if _, nop := s.archiver.(report.Nop); nop {
		return
	}

	errs, err := s.runRepo.GetErrors(ctx, run.ID, 0)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to load run errors for report")
	}

	url, err := s.archiver.Archive(ctx, run, errs)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to archive run report")
		return
	}
	run.ReportURL = url
}

// StartProcessor starts polling for pending runs and returns immediately.
// The processor runs until StopProcessor is called or ctx is cancelled.
func (s *runService) StartProcessor(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})

	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	s.log.Info().Dur("poll_interval", interval).Msg("Run processor started")
	go s.poll(loopCtx, interval, s.loopDone)
}

func (s *runService) poll(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Run processor stopping")
			return
		case <-ticker.C:
			s.processPendingRuns(ctx)
		}
	}
}

// StopProcessor cancels in-flight runs and waits for them to record their
// outcome. Runs are only spawned by the poll loop, so once it has exited
// no new work can join the wait group.
func (s *runService) StopProcessor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	<-s.loopDone
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("Run processor stopped")
}

func (s *runService) processPendingRuns(ctx context.Context) {
	runs, err := s.runRepo.GetPendingRuns(ctx, cap(s.sem))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get pending runs")
		return
	}

	for _, run := range runs {
		// Blocks while every slot is busy
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		claimed, err := s.runRepo.MarkRunAsProcessing(ctx, run.ID)
		if err != nil || !claimed {
			<-s.sem
			continue
		}

		s.wg.Add(1)
		go func(r *models.SyncRun) {
			defer s.wg.Done()
			defer func() { <-s.sem }()

			defer func() {
				if p := recover(); p != nil {
					s.log.Error().
						Interface("panic", p).
						Str("run_id", r.ID).
						Msg("Sync run panicked - recovered")
					r.Status = models.RunStatusFailed
					r.Error = fmt.Sprintf("panic: %v", p)
					if err := s.runRepo.Update(context.WithoutCancel(ctx), r); err != nil {
						s.log.Error().Err(err).Str("run_id", r.ID).Msg("Failed to record panicked run")
					}
				}
			}()

			s.log.Info().Str("run_id", r.ID).Str("mode", string(r.Mode)).Msg("Processing sync run")
			_ = s.execute(ctx, r)
		}(run)
	}
}

// GetRun retrieves a run with a preview of its errors
func (s *runService) GetRun(ctx context.Context, id string) (*models.RunResponse, error) {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return s.buildResponse(ctx, run)
}

func (s *runService) buildResponse(ctx context.Context, run *models.SyncRun) (*models.RunResponse, error) {
	resp := &models.RunResponse{SyncRun: *run}

	count, err := s.runRepo.CountErrors(ctx, run.ID)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to count run errors")
		return resp, nil
	}
	if count == 0 {
		return resp, nil
	}

	errs, err := s.runRepo.GetErrors(ctx, run.ID, runErrorsPreview)
	if err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to get run errors")
	}
	resp.Errors = errs
	resp.ErrorCount = count
	resp.ErrorsURL = "/v1/sync/runs/" + run.ID + "/errors"
	return resp, nil
}

// GetRunErrors retrieves every recorded error of a run
func (s *runService) GetRunErrors(ctx context.Context, id string) ([]models.SyncError, error) {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return s.runRepo.GetErrors(ctx, id, 0)
}

// ListRuns returns recent runs, newest first
func (s *runService) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.runRepo.List(ctx, limit)
}

// errorSink buffers per-identity errors and writes them in batches so a run
// with many failures keeps bounded memory.
type errorSink struct {
	ctx       context.Context
	repo      repository.SyncRunRepository
	runID     string
	threshold int
	buf       []models.SyncError
	log       zerolog.Logger
}

func newErrorSink(ctx context.Context, repo repository.SyncRunRepository, runID string, threshold int, log zerolog.Logger) *errorSink {
	if threshold <= 0 {
		threshold = 1000
	}
	return &errorSink{ctx: ctx, repo: repo, runID: runID, threshold: threshold, log: log}
}

func (e *errorSink) add(err models.SyncError) {
	e.buf = append(e.buf, err)
	if len(e.buf) >= e.threshold {
		e.flush()
	}
}

func (e *errorSink) flush() {
	if len(e.buf) == 0 {
		return
	}
	if err := e.repo.AddErrors(e.ctx, e.runID, e.buf); err != nil {
		e.log.Error().Err(err).Str("run_id", e.runID).Int("count", len(e.buf)).Msg("Failed to flush run errors")
	}
	e.buf = e.buf[:0]
}
