package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/normalize"
	"github.com/iaprender-user-sync/internal/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service health values
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// StageError tags an identity failure with the pipeline stage it happened in
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of err, or persist when it carries none
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return models.StagePersist
}

// syncService is the concrete implementation of SyncService
type syncService struct {
	dir        directory.Directory
	users      repository.UserRepository
	normalizer *normalize.Normalizer
	policy     string
	log        zerolog.Logger
}

// NewSyncService creates a SyncService over an injected directory
func NewSyncService(dir directory.Directory, users repository.UserRepository, cfg *config.Config, log zerolog.Logger) SyncService {
	return &syncService{
		dir:        dir,
		users:      users,
		normalizer: normalize.New(cfg.Directory.OrgAttribute),
		policy:     cfg.Sync.GroupFailurePolicy,
		log:        log.With().Str("service", "sync").Logger(),
	}
}

// identityOutcome is what syncing one identity produced
type identityOutcome struct {
	user     *models.CanonicalUser
	groups   []string
	result   *models.PersistResult
	warnings []string
}

// syncIdentity resolves groups, normalizes and persists one identity. A group
// lookup failure is reported through onWarning and never fails the identity.
func (s *syncService) syncIdentity(ctx context.Context, identity *models.IdentityRecord, onWarning func(models.SyncError)) (*identityOutcome, error) {
	out := &identityOutcome{}

	groups, err := s.dir.ListGroups(ctx, identity.Username)
	resolved := err == nil
	if err != nil {
		groups = []string{}
		msg := fmt.Sprintf("group lookup failed, role defaulted: %v", err)
		out.warnings = append(out.warnings, msg)

		s.log.Warn().Err(err).
			Str("external_id", identity.ExternalID).
			Str("username", identity.Username).
			Str("policy", s.policy).
			Msg("Group resolution failed")

		if onWarning != nil {
			onWarning(models.SyncError{
				ExternalID: identity.ExternalID,
				Username:   identity.Username,
				Stage:      models.StageGroups,
				Message:    msg,
			})
		}
	}
	out.groups = groups

	user := s.normalizer.Normalize(identity, groups, resolved)
	user.PreserveRole = !resolved && s.policy == config.GroupPolicyPreserve
	out.user = user

	result, err := s.users.Persist(ctx, user)
	if err != nil {
		return out, &StageError{Stage: models.StagePersist, Err: err}
	}
	out.result = result

	s.log.Debug().
		Str("external_id", user.ExternalID).
		Str("role", string(result.Role)).
		Bool("created", result.Created).
		Bool("role_changed", result.RoleChanged).
		Msg("Identity synchronized")

	return out, nil
}

// SyncAll walks the directory sequentially. Identity failures are counted and
// reported through onError; only an enumeration failure ends the run early,
// returning the partial summary together with the error.
func (s *syncService) SyncAll(ctx context.Context, onError func(models.SyncError)) (*models.SyncSummary, error) {
	summary := &models.SyncSummary{}
	report := func(e models.SyncError) {
		if onError != nil {
			onError(e)
		}
	}

	start := time.Now()
	s.log.Info().Msg("Starting full synchronization")

	for identity, err := range s.dir.Identities(ctx) {
		if err != nil {
			report(models.SyncError{Stage: models.StageEnumerate, Message: err.Error()})
			s.log.Error().Err(err).Int("processed", summary.Processed).Msg("Directory enumeration failed")
			return summary, fmt.Errorf("%w: %w", ErrEnumeration, err)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Processed++

		out, err := s.syncIdentity(ctx, identity, report)
		if len(out.warnings) > 0 {
			summary.GroupFallbacks++
		}
		if err != nil {
			summary.Failed++
			report(models.SyncError{
				ExternalID: identity.ExternalID,
				Username:   identity.Username,
				Stage:      StageOf(err),
				Message:    err.Error(),
			})
			s.log.Error().Err(err).
				Str("external_id", identity.ExternalID).
				Str("username", identity.Username).
				Msg("Identity sync failed")
			continue
		}

		summary.Succeeded++
		if out.result.Created {
			summary.Created++
		} else {
			summary.Updated++
		}
		if out.result.RoleChanged {
			summary.RoleChanges++
		}
	}

	s.log.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("group_fallbacks", summary.GroupFallbacks).
		Dur("duration", time.Since(start)).
		Msg("Full synchronization finished")

	return summary, nil
}

// SyncUser synchronizes one identity looked up by username
func (s *syncService) SyncUser(ctx context.Context, username string) (*models.UserSyncResult, error) {
	identity, err := s.dir.GetIdentity(ctx, username)
	if err != nil {
		return nil, &StageError{Stage: models.StageLookup, Err: err}
	}

	out, err := s.syncIdentity(ctx, identity, nil)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("external_id", identity.ExternalID).
		Str("username", username).
		Str("role", string(out.result.Role)).
		Msg("Single identity synchronized")

	return &models.UserSyncResult{
		Success:    true,
		ExternalID: out.user.ExternalID,
		Username:   out.user.Username,
		UserID:     out.result.UserID,
		Role:       out.result.Role,
		Status:     out.user.Status,
		Created:    out.result.Created,
		Groups:     out.groups,
		Warnings:   out.warnings,
	}, nil
}

// Statistics gathers directory and local counts concurrently
func (s *syncService) Statistics(ctx context.Context) (*models.SyncStatistics, error) {
	stats := &models.SyncStatistics{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := directory.Count(gctx, s.dir)
		if err != nil {
			return fmt.Errorf("count directory identities: %w", err)
		}
		stats.DirectoryUsers = n
		return nil
	})
	g.Go(func() error {
		n, err := s.users.Count(gctx)
		if err != nil {
			return fmt.Errorf("count local users: %w", err)
		}
		stats.LocalUsers = n
		return nil
	})
	g.Go(func() error {
		counts, err := s.users.CountByRole(gctx)
		if err != nil {
			return fmt.Errorf("count roles: %w", err)
		}
		stats.RoleCounts = counts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.SyncNeeded = stats.DirectoryUsers != stats.LocalUsers
	return stats, nil
}

// TestConnection describes the pool; failures are reported, not returned
func (s *syncService) TestConnection(ctx context.Context) *models.ConnectionStatus {
	info, err := s.dir.Describe(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Directory connection test failed")
		return &models.ConnectionStatus{
			Success: false,
			Message: fmt.Sprintf("directory unreachable: %v", err),
		}
	}

	return &models.ConnectionStatus{
		Success: true,
		Message: "connected to user pool " + info.Name,
		Pool:    info,
	}
}

// Status combines the connection probe and statistics
func (s *syncService) Status(ctx context.Context) *models.ServiceStatus {
	status := &models.ServiceStatus{}

	var g errgroup.Group
	g.Go(func() error {
		status.Connection = s.TestConnection(ctx)
		return nil
	})
	g.Go(func() error {
		stats, err := s.Statistics(ctx)
		if err != nil {
			status.StatsError = err.Error()
			return nil
		}
		status.Statistics = stats
		return nil
	})
	_ = g.Wait()

	status.Status = StatusHealthy
	if !status.Connection.Success || status.StatsError != "" {
		status.Status = StatusDegraded
	}
	return status
}
