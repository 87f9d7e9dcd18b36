package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/repository"
	"github.com/rs/zerolog"
)

// exportService is the concrete implementation of ExportService
type exportService struct {
	users repository.UserRepository
	log   zerolog.Logger
}

// NewExportService creates a new ExportService
func NewExportService(users repository.UserRepository, log zerolog.Logger) ExportService {
	return &exportService{
		users: users,
		log:   log.With().Str("service", "export").Logger(),
	}
}

// StreamUsers streams synchronized users in the specified format
func (s *exportService) StreamUsers(ctx context.Context, w http.ResponseWriter, format string) error {
	s.log.Info().Str("format", format).Msg("Starting users export")

	switch format {
	case "ndjson":
		return s.streamNDJSON(ctx, w)
	case "json":
		return s.streamJSON(ctx, w)
	case "csv":
		return s.streamCSV(ctx, w)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func (s *exportService) streamNDJSON(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", "attachment; filename=users.ndjson")

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	count := 0

	err := s.users.StreamAll(ctx, func(user *models.User) error {
		if err := enc.Encode(user); err != nil {
			return err
		}
		count++

		// Flush every 100 records for streaming
		if count%100 == 0 && flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	s.log.Info().Int("count", count).Msg("Users export completed")
	return err
}

func (s *exportService) streamJSON(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=users.json")

	if _, err := w.Write([]byte("[")); err != nil {
		return err
	}
	first := true

	err := s.users.StreamAll(ctx, func(user *models.User) error {
		if !first {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})

	if _, werr := w.Write([]byte("]")); err == nil {
		err = werr
	}
	return err
}

func (s *exportService) streamCSV(ctx context.Context, w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=users.csv")

	writer := csv.NewWriter(w)

	if err := writer.Write([]string{
		"id", "external_id", "username", "email", "display_name",
		"role", "status", "organization_id", "created_at", "updated_at",
	}); err != nil {
		return err
	}

	err := s.users.StreamAll(ctx, func(user *models.User) error {
		org := ""
		if user.OrganizationID != nil {
			org = strconv.FormatInt(*user.OrganizationID, 10)
		}
		return writer.Write([]string{
			strconv.FormatInt(user.ID, 10),
			user.ExternalID,
			user.Username,
			user.Email,
			user.DisplayName,
			string(user.Role),
			string(user.Status),
			org,
			user.CreatedAt.UTC().Format(time.RFC3339),
			user.UpdatedAt.UTC().Format(time.RFC3339),
		})
	})

	writer.Flush()
	if err != nil {
		return err
	}
	return writer.Error()
}

// GetCount returns the number of synchronized users
func (s *exportService) GetCount(ctx context.Context) (int, error) {
	return s.users.Count(ctx)
}

// GetRoleCounts returns the number of rows per role
func (s *exportService) GetRoleCounts(ctx context.Context) (map[models.RoleTag]int, error) {
	return s.users.CountByRole(ctx)
}
