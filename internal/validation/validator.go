package validation

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/iaprender-user-sync/internal/models"
)

const (
	maxUsernameLength       = 128
	maxIdempotencyKeyLength = 255
)

// ExportFormats lists the accepted export formats
var ExportFormats = map[string]bool{
	"ndjson": true,
	"json":   true,
	"csv":    true,
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateUsername checks a directory username supplied by a caller
func ValidateUsername(username string) []ValidationError {
	if username == "" {
		return []ValidationError{{Field: "username", Message: "required field is missing"}}
	}

	var errors []ValidationError
	if !utf8.ValidString(username) {
		return []ValidationError{{Field: "username", Message: "must be valid UTF-8"}}
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		errors = append(errors, ValidationError{
			Field:   "username",
			Message: fmt.Sprintf("must be at most %d characters", maxUsernameLength),
		})
	}
	for _, r := range username {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			errors = append(errors, ValidationError{Field: "username", Message: "must not contain whitespace or control characters", Value: username})
			break
		}
	}
	return errors
}

// ValidateRunRequest checks the mode and, for single mode, the username
func ValidateRunRequest(req *models.RunRequest) []ValidationError {
	var errors []ValidationError

	switch req.Mode {
	case "", models.RunModeBulk:
	case models.RunModeSingle:
		errors = append(errors, ValidateUsername(req.Username)...)
	default:
		errors = append(errors, ValidationError{Field: "mode", Message: "must be one of: bulk, single", Value: req.Mode})
	}

	errors = append(errors, ValidateIdempotencyKey(req.IdempotencyKey)...)
	return errors
}

// ValidateIdempotencyKey checks an optional Idempotency-Key header value
func ValidateIdempotencyKey(key string) []ValidationError {
	if key == "" {
		return nil
	}
	if len(key) > maxIdempotencyKeyLength {
		return []ValidationError{{Field: "idempotency_key", Message: fmt.Sprintf("must be at most %d bytes", maxIdempotencyKeyLength)}}
	}
	for _, r := range key {
		if r < 0x21 || r > 0x7e {
			return []ValidationError{{Field: "idempotency_key", Message: "must contain printable ASCII only"}}
		}
	}
	return nil
}

// ValidateRunID checks a run id path parameter
func ValidateRunID(id string) []ValidationError {
	if !isValidUUID(id) {
		return []ValidationError{{Field: "run_id", Message: "must be a valid UUID", Value: id}}
	}
	return nil
}

// ValidateExportFormat checks the export format query parameter
func ValidateExportFormat(format string) []ValidationError {
	if !ExportFormats[format] {
		return []ValidationError{{Field: "format", Message: "must be one of: ndjson, json, csv", Value: format}}
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
