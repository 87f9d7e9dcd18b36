package models

import (
	"time"
)

// RunStatus represents the status of a sync run
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// RunMode selects bulk or single-identity synchronization
type RunMode string

const (
	RunModeBulk   RunMode = "bulk"
	RunModeSingle RunMode = "single"
)

// Error stages recorded per identity
const (
	StageEnumerate = "enumerate"
	StageLookup    = "lookup"
	StageGroups    = "groups"
	StagePersist   = "persist"
)

// SyncRun represents one invocation of the sync pipeline
type SyncRun struct {
	ID             string      `json:"run_id" db:"id"`
	Mode           RunMode     `json:"mode" db:"mode"`
	Target         string      `json:"target,omitempty" db:"target"`
	Status         RunStatus   `json:"status" db:"status"`
	IdempotencyKey string      `json:"idempotency_key,omitempty" db:"idempotency_key"`
	TriggeredBy    string      `json:"triggered_by,omitempty" db:"triggered_by"`
	Summary        SyncSummary `json:"summary"`
	DurationMs     int64       `json:"duration_ms,omitempty" db:"duration_ms"`
	RecordsPerSec  float64     `json:"records_per_sec,omitempty" db:"records_per_sec"`
	ReportURL      string      `json:"report_url,omitempty" db:"report_url"`
	Error          string      `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// SyncSummary holds the counters of a run
type SyncSummary struct {
	Processed      int `json:"processed"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	RoleChanges    int `json:"role_changes"`
	GroupFallbacks int `json:"group_fallbacks"`
}

// SyncError records why one identity could not be synchronized
type SyncError struct {
	ExternalID string `json:"external_id,omitempty"`
	Username   string `json:"username,omitempty"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

// RunResponse is the API response for run status
type RunResponse struct {
	SyncRun
	Errors     []SyncError `json:"errors,omitempty"`
	ErrorCount int         `json:"error_count,omitempty"`
	ErrorsURL  string      `json:"errors_url,omitempty"`
}

// RunRequest represents a sync run request
type RunRequest struct {
	Mode           RunMode `json:"mode"`
	Username       string  `json:"username,omitempty"`
	IdempotencyKey string  `json:"-"` // From header
	TriggeredBy    string  `json:"-"` // From token
}

// UserSyncResult is the outcome of a single-identity sync
type UserSyncResult struct {
	Success    bool      `json:"success"`
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	UserID     int64     `json:"user_id"`
	Role       RoleTag   `json:"role"`
	Status     StatusTag `json:"status"`
	Created    bool      `json:"created"`
	Groups     []string  `json:"groups"`
	Warnings   []string  `json:"warnings,omitempty"`
}

// SyncStatistics compares directory and local counts
type SyncStatistics struct {
	DirectoryUsers int             `json:"directory_users"`
	LocalUsers     int             `json:"local_users"`
	RoleCounts     map[RoleTag]int `json:"role_counts"`
	SyncNeeded     bool            `json:"sync_needed"`
}

// ConnectionStatus is the result of a directory connectivity probe
type ConnectionStatus struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Pool    *PoolInfo `json:"details,omitempty"`
}

// ServiceStatus combines connectivity and statistics
type ServiceStatus struct {
	Status     string            `json:"status"` // healthy or degraded
	Connection *ConnectionStatus `json:"directory_connection"`
	Statistics *SyncStatistics   `json:"sync_statistics,omitempty"`
	StatsError string            `json:"sync_statistics_error,omitempty"`
}
