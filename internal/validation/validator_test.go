package validation

import (
	"strings"
	"testing"

	"github.com/iaprender-user-sync/internal/models"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		wantErrors int
	}{
		{"plain username", "prof.ana", 0},
		{"email style username", "ana@escola.gov.br", 0},
		{"uuid username", "550e8400-e29b-41d4-a716-446655440000", 0},
		{"accented characters", "joão.silva", 0},
		{"empty", "", 1},
		{"inner space", "prof ana", 1},
		{"leading tab", "\tprof", 1},
		{"newline", "prof\nana", 1},
		{"control character", "prof\x00ana", 1},
		{"too long", strings.Repeat("a", 129), 1},
		{"exactly max length", strings.Repeat("a", 128), 0},
		{"too long with space", strings.Repeat("a", 129) + " ", 2},
		{"invalid utf8", "prof\xffana", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateUsername(tt.username)
			if len(errs) != tt.wantErrors {
				t.Errorf("ValidateUsername(%q) got %d errors, want %d: %v", tt.username, len(errs), tt.wantErrors, errs)
			}
			for _, e := range errs {
				if e.Field != "username" {
					t.Errorf("unexpected field %q", e.Field)
				}
			}
		})
	}
}

func TestValidateRunRequest(t *testing.T) {
	tests := []struct {
		name       string
		req        *models.RunRequest
		wantFields []string
	}{
		{"empty mode defaults to bulk", &models.RunRequest{}, nil},
		{"bulk ignores username", &models.RunRequest{Mode: models.RunModeBulk, Username: "has space"}, nil},
		{"single with username", &models.RunRequest{Mode: models.RunModeSingle, Username: "prof.ana"}, nil},
		{"single without username", &models.RunRequest{Mode: models.RunModeSingle}, []string{"username"}},
		{"unknown mode", &models.RunRequest{Mode: "partial"}, []string{"mode"}},
		{"bad idempotency key", &models.RunRequest{IdempotencyKey: "key with spaces"}, []string{"idempotency_key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRunRequest(tt.req)
			if len(errs) != len(tt.wantFields) {
				t.Fatalf("got %d errors, want %d: %v", len(errs), len(tt.wantFields), errs)
			}
			for i, field := range tt.wantFields {
				if errs[i].Field != field {
					t.Errorf("error %d field = %q, want %q", i, errs[i].Field, field)
				}
			}
		})
	}
}

func TestValidateIdempotencyKey(t *testing.T) {
	if errs := ValidateIdempotencyKey(""); errs != nil {
		t.Errorf("empty key should be accepted, got %v", errs)
	}
	if errs := ValidateIdempotencyKey("nightly-2026-10-15"); errs != nil {
		t.Errorf("valid key rejected: %v", errs)
	}
	if errs := ValidateIdempotencyKey(strings.Repeat("k", 256)); len(errs) != 1 {
		t.Errorf("overlong key accepted")
	}
	if errs := ValidateIdempotencyKey("chave-çã"); len(errs) != 1 {
		t.Errorf("non-ASCII key accepted")
	}
}

func TestValidateRunID(t *testing.T) {
	if errs := ValidateRunID("550e8400-e29b-41d4-a716-446655440000"); errs != nil {
		t.Errorf("valid uuid rejected: %v", errs)
	}
	for _, id := range []string{"", "run-1", "550e8400"} {
		if errs := ValidateRunID(id); len(errs) != 1 {
			t.Errorf("ValidateRunID(%q) should fail", id)
		}
	}
}

func TestValidateExportFormat(t *testing.T) {
	for _, f := range []string{"ndjson", "json", "csv"} {
		if errs := ValidateExportFormat(f); errs != nil {
			t.Errorf("format %s rejected", f)
		}
	}
	if errs := ValidateExportFormat("xml"); len(errs) != 1 {
		t.Error("xml should be rejected")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Field: "username", Message: "required field is missing"}
	if err.Error() != "username: required field is missing" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func BenchmarkValidateUsername(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ValidateUsername("professora.ana.souza@escola.gov.br")
	}
}
