package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/iaprender-user-sync/internal/api"
	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/directory"
	"github.com/iaprender-user-sync/internal/mocks"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/rs/zerolog"
)

const (
	testSecret = "test-secret"
	testIssuer = "iaprender"
	testRunID  = "7b0c5a52-3f1e-4a8e-9d55-1c6f2e7f0a11"
)

type testEnv struct {
	router *gin.Engine
	sync   *mocks.MockSyncService
	run    *mocks.MockRunService
	export *mocks.MockExportService
}

func setupTestRouter() *testEnv {
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		sync:   mocks.NewMockSyncService(),
		run:    mocks.NewMockRunService(),
		export: mocks.NewMockExportService(),
	}

	services := &service.Services{
		Sync:   env.sync,
		Run:    env.run,
		Export: env.export,
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "8080"},
		Auth: config.AuthConfig{
			JWTSecret:    testSecret,
			Issuer:       testIssuer,
			AllowedRoles: []string{"admin", "manager"},
		},
	}

	env.router = api.NewRouter(services, cfg, zerolog.Nop())
	return env
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := api.GenerateToken(testSecret, testIssuer, "user-1", role, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, url string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	if _, ok := headers["Authorization"]; !ok {
		req.Header.Set("Authorization", "Bearer "+token(t, "admin"))
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Invalid JSON response %q: %v", w.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestRouter()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	response := decode(t, w)
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", response["status"])
	}
	if response["service"] != "iaprender-user-sync" {
		t.Errorf("Expected service name, got %v", response["service"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestRouter()
	env.export.Count = 1000
	env.export.RoleCounts[models.RoleTeacher] = 40
	env.export.RoleCounts[models.RoleStudent] = 900

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	db := decode(t, w)["database"].(map[string]interface{})
	if db["users"].(float64) != 1000 {
		t.Errorf("Expected 1000 users, got %v", db["users"])
	}
	roles := db["roles"].(map[string]interface{})
	if roles["student"].(float64) != 900 {
		t.Errorf("Expected 900 students, got %v", roles["student"])
	}
}

func TestAuth(t *testing.T) {
	env := setupTestRouter()

	expired, _ := api.GenerateToken(testSecret, testIssuer, "user-1", "admin", -time.Minute)
	otherIssuer, _ := api.GenerateToken(testSecret, "someone-else", "user-1", "admin", time.Hour)
	wrongSecret, _ := api.GenerateToken("not-the-secret", testIssuer, "user-1", "admin", time.Hour)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, &api.Claims{
		Role:             "admin",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer},
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name           string
		header         string
		expectedStatus int
		expectedError  string
	}{
		{"missing header", "-", http.StatusUnauthorized, "missing authorization header"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "invalid authorization header format"},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"wrong issuer", "Bearer " + otherIssuer, http.StatusUnauthorized, "invalid token"},
		{"wrong secret", "Bearer " + wrongSecret, http.StatusUnauthorized, "invalid token"},
		{"wrong algorithm", "Bearer " + hs512, http.StatusUnauthorized, "invalid token"},
		{"teacher role", "Bearer " + token(t, "teacher"), http.StatusForbidden, "insufficient role"},
		{"manager role", "Bearer " + token(t, "manager"), http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/sync/status", nil)
			if tt.header != "-" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedError != "" {
				if msg := decode(t, w)["error"]; msg != tt.expectedError {
					t.Errorf("Expected error %q, got %v", tt.expectedError, msg)
				}
			}
		})
	}
}

func TestSyncAllUsers(t *testing.T) {
	env := setupTestRouter()
	env.run.RunNowFunc = func(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error) {
		return &models.RunResponse{SyncRun: models.SyncRun{
			ID:      testRunID,
			Mode:    models.RunModeBulk,
			Status:  models.RunStatusCompleted,
			Summary: models.SyncSummary{Processed: 3, Succeeded: 2, Failed: 1},
		}}, false, nil
	}

	w := env.do(t, "POST", "/v1/sync/users", nil, map[string]string{"Idempotency-Key": "nightly-1"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response models.RunResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	if response.Summary.Processed != 3 || response.Summary.Failed != 1 {
		t.Errorf("Unexpected summary: %+v", response.Summary)
	}

	if len(env.run.Requests) != 1 {
		t.Fatalf("Expected 1 run request, got %d", len(env.run.Requests))
	}
	got := env.run.Requests[0]
	if got.IdempotencyKey != "nightly-1" {
		t.Errorf("Expected idempotency key to be forwarded, got %q", got.IdempotencyKey)
	}
	if got.TriggeredBy != "user-1" {
		t.Errorf("Expected triggered_by from token subject, got %q", got.TriggeredBy)
	}
}

func TestSyncAllUsers_AllFailedIsStillOK(t *testing.T) {
	env := setupTestRouter()
	env.run.RunNowFunc = func(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error) {
		return &models.RunResponse{SyncRun: models.SyncRun{
			ID:      testRunID,
			Status:  models.RunStatusCompleted,
			Summary: models.SyncSummary{Processed: 2, Failed: 2},
		}, ErrorCount: 2}, false, nil
	}

	w := env.do(t, "POST", "/v1/sync/users", nil, nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestSyncAllUsers_EnumerationFailure(t *testing.T) {
	env := setupTestRouter()
	env.run.RunNowFunc = func(ctx context.Context, req *models.RunRequest) (*models.RunResponse, bool, error) {
		resp := &models.RunResponse{SyncRun: models.SyncRun{
			ID:      testRunID,
			Status:  models.RunStatusFailed,
			Summary: models.SyncSummary{Processed: 60, Succeeded: 60},
		}}
		return resp, false, fmt.Errorf("%w: throttled", service.ErrEnumeration)
	}

	w := env.do(t, "POST", "/v1/sync/users", nil, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	response := decode(t, w)
	run, ok := response["run"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected partial run in response, got %v", response)
	}
	summary := run["summary"].(map[string]interface{})
	if summary["processed"].(float64) != 60 {
		t.Errorf("Expected partial summary, got %v", summary)
	}
}

func TestSyncAllUsers_InvalidIdempotencyKey(t *testing.T) {
	env := setupTestRouter()

	w := env.do(t, "POST", "/v1/sync/users", nil, map[string]string{"Idempotency-Key": strings.Repeat("k", 300)})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if len(env.run.Requests) != 0 {
		t.Error("Run should not be started")
	}
}

func TestSyncSingleUser(t *testing.T) {
	env := setupTestRouter()

	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"username field", `{"username":"ana.silva"}`, "ana.silva"},
		{"legacy field", `{"cognitoUsername":"bruno"}`, "bruno"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/v1/sync/user", []byte(tt.body), nil)

			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			var result models.UserSyncResult
			json.Unmarshal(w.Body.Bytes(), &result)
			if !result.Success || result.Username != tt.expected {
				t.Errorf("Unexpected result: %+v", result)
			}
		})
	}
}

func TestSyncSingleUser_Validation(t *testing.T) {
	env := setupTestRouter()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"username":`},
		{"missing username", `{}`},
		{"whitespace", `{"username":"ana silva"}`},
		{"too long", `{"username":"` + strings.Repeat("a", 129) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/v1/sync/user", []byte(tt.body), nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}

	if len(env.sync.SyncedUsers) != 0 {
		t.Errorf("No sync expected, got %v", env.sync.SyncedUsers)
	}
}

func TestSyncSingleUser_Errors(t *testing.T) {
	env := setupTestRouter()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedStage  string
	}{
		{
			name:           "not in directory",
			err:            &service.StageError{Stage: models.StageLookup, Err: directory.ErrIdentityNotFound},
			expectedStatus: http.StatusNotFound,
			expectedStage:  models.StageLookup,
		},
		{
			name:           "persist failure",
			err:            &service.StageError{Stage: models.StagePersist, Err: errors.New("connection reset")},
			expectedStatus: http.StatusInternalServerError,
			expectedStage:  models.StagePersist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.sync.SyncUserFunc = func(ctx context.Context, username string) (*models.UserSyncResult, error) {
				return nil, tt.err
			}

			w := env.do(t, "POST", "/v1/sync/user", []byte(`{"username":"ana"}`), nil)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			response := decode(t, w)
			if response["success"] != false {
				t.Errorf("Expected success=false, got %v", response["success"])
			}
			if response["stage"] != tt.expectedStage {
				t.Errorf("Expected stage %q, got %v", tt.expectedStage, response["stage"])
			}
		})
	}
}

func TestCreateRun(t *testing.T) {
	env := setupTestRouter()

	w := env.do(t, "POST", "/v1/sync/runs", []byte(`{"mode":"single","username":"ana"}`), map[string]string{"Idempotency-Key": "abc"})

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var run models.SyncRun
	json.Unmarshal(w.Body.Bytes(), &run)
	if run.Status != models.RunStatusPending {
		t.Errorf("Expected pending run, got %s", run.Status)
	}
	if run.Target != "ana" {
		t.Errorf("Expected target 'ana', got %q", run.Target)
	}
	if env.run.Requests[0].IdempotencyKey != "abc" {
		t.Errorf("Expected idempotency key to be forwarded")
	}
}

func TestCreateRun_NoBody(t *testing.T) {
	env := setupTestRouter()

	w := env.do(t, "POST", "/v1/sync/runs", nil, nil)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if env.run.Requests[0].Mode != "" {
		t.Errorf("Expected empty mode to be passed through, got %q", env.run.Requests[0].Mode)
	}
}

func TestCreateRun_Existing(t *testing.T) {
	env := setupTestRouter()
	env.run.EnqueueFunc = func(ctx context.Context, req *models.RunRequest) (*models.SyncRun, bool, error) {
		return &models.SyncRun{ID: testRunID, Status: models.RunStatusCompleted}, true, nil
	}

	w := env.do(t, "POST", "/v1/sync/runs", nil, map[string]string{"Idempotency-Key": "abc"})

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for an existing run, got %d", w.Code)
	}
}

func TestCreateRun_Validation(t *testing.T) {
	env := setupTestRouter()

	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode":"partial"}`},
		{"single without username", `{"mode":"single"}`},
		{"bad json", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/v1/sync/runs", []byte(tt.body), nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	env := setupTestRouter()
	var gotLimit int
	env.run.ListRunsFunc = func(ctx context.Context, limit int) ([]*models.SyncRun, error) {
		gotLimit = limit
		return []*models.SyncRun{{ID: testRunID}, {ID: "other"}}, nil
	}

	w := env.do(t, "GET", "/v1/sync/runs?limit=5", nil, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotLimit != 5 {
		t.Errorf("Expected limit 5, got %d", gotLimit)
	}
	if decode(t, w)["count"].(float64) != 2 {
		t.Errorf("Expected 2 runs")
	}

	w = env.do(t, "GET", "/v1/sync/runs?limit=abc", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", w.Code)
	}
}

func TestGetRun(t *testing.T) {
	env := setupTestRouter()
	env.run.GetRunFunc = func(ctx context.Context, id string) (*models.RunResponse, error) {
		if id != testRunID {
			return nil, service.ErrRunNotFound
		}
		return &models.RunResponse{
			SyncRun: models.SyncRun{
				ID:            testRunID,
				Status:        models.RunStatusCompleted,
				Summary:       models.SyncSummary{Processed: 1000, Succeeded: 950, Failed: 50},
				DurationMs:    5000,
				RecordsPerSec: 200,
			},
			ErrorCount: 50,
			ErrorsURL:  "/v1/sync/runs/" + testRunID + "/errors",
		}, nil
	}

	w := env.do(t, "GET", "/v1/sync/runs/"+testRunID, nil, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var response models.RunResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	if response.ID != testRunID {
		t.Errorf("Expected run ID %s, got %s", testRunID, response.ID)
	}
	if response.Summary.Processed != 1000 {
		t.Errorf("Expected 1000 processed, got %d", response.Summary.Processed)
	}
	if response.ErrorCount != 50 {
		t.Errorf("Expected 50 errors, got %d", response.ErrorCount)
	}
}

func TestGetRun_NotFoundAndInvalid(t *testing.T) {
	env := setupTestRouter()

	w := env.do(t, "GET", "/v1/sync/runs/"+testRunID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	w = env.do(t, "GET", "/v1/sync/runs/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestGetRunErrors(t *testing.T) {
	env := setupTestRouter()
	env.run.GetRunErrorsFunc = func(ctx context.Context, id string) ([]models.SyncError, error) {
		return []models.SyncError{
			{ExternalID: "sub-1", Username: "ana", Stage: models.StagePersist, Message: "duplicate email"},
			{ExternalID: "sub-2", Username: "bruno", Stage: models.StageGroups, Message: "throttled"},
		}, nil
	}

	w := env.do(t, "GET", "/v1/sync/runs/"+testRunID+"/errors", nil, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	response := decode(t, w)
	if response["count"].(float64) != 2 {
		t.Errorf("Expected 2 errors, got %v", response["count"])
	}
}

func TestGetRunErrors_CSV(t *testing.T) {
	env := setupTestRouter()
	env.run.GetRunErrorsFunc = func(ctx context.Context, id string) ([]models.SyncError, error) {
		return []models.SyncError{
			{ExternalID: "sub-1", Username: "ana", Stage: models.StagePersist, Message: "duplicate email"},
		}, nil
	}

	w := env.do(t, "GET", "/v1/sync/runs/"+testRunID+"/errors?format=csv", nil, nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("external_id,username,stage,message")) {
		t.Error("CSV should contain header row")
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("sub-1,ana,persist,duplicate email")) {
		t.Errorf("CSV should contain error data, got: %s", w.Body.String())
	}
}

func TestStatusEndpoints(t *testing.T) {
	env := setupTestRouter()
	env.sync.StatisticsFunc = func(ctx context.Context) (*models.SyncStatistics, error) {
		return &models.SyncStatistics{DirectoryUsers: 10, LocalUsers: 8, SyncNeeded: true}, nil
	}

	w := env.do(t, "GET", "/v1/sync/statistics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if decode(t, w)["sync_needed"] != true {
		t.Error("Expected sync_needed=true")
	}

	w = env.do(t, "GET", "/v1/sync/connection", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	env.sync.TestConnectionFunc = func(ctx context.Context) *models.ConnectionStatus {
		return &models.ConnectionStatus{Success: false, Message: "directory unreachable: timeout"}
	}
	w = env.do(t, "GET", "/v1/sync/connection", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	env.sync.StatisticsFunc = func(ctx context.Context) (*models.SyncStatistics, error) {
		return nil, errors.New("db down")
	}
	w = env.do(t, "GET", "/v1/sync/statistics", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestExportUsers(t *testing.T) {
	env := setupTestRouter()
	var gotFormat string
	env.export.StreamUsersFunc = func(ctx context.Context, w http.ResponseWriter, format string) error {
		gotFormat = format
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte("id,external_id\n"))
		return nil
	}

	w := env.do(t, "GET", "/v1/users/export?format=csv", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if gotFormat != "csv" {
		t.Errorf("Expected csv format, got %q", gotFormat)
	}

	w = env.do(t, "GET", "/v1/users/export", nil, nil)
	if w.Code != http.StatusOK || gotFormat != "ndjson" {
		t.Errorf("Expected ndjson default, got %d %q", w.Code, gotFormat)
	}

	w = env.do(t, "GET", "/v1/users/export?format=xml", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestRouter()

	req := httptest.NewRequest("OPTIONS", "/v1/sync/users", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Error("Expected Authorization in allowed headers")
	}
}
