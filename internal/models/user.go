package models

import (
	"time"
)

// RoleTag is the coarse privilege classification derived from group membership
type RoleTag string

const (
	RoleAdmin    RoleTag = "admin"
	RoleManager  RoleTag = "manager"
	RoleDirector RoleTag = "director"
	RoleTeacher  RoleTag = "teacher"
	RoleStudent  RoleTag = "student"
)

// SatelliteRoles are the roles that own a role-specific table, in priority order
var SatelliteRoles = []RoleTag{RoleManager, RoleDirector, RoleTeacher, RoleStudent}

// ValidRoles defines allowed user roles
var ValidRoles = map[RoleTag]bool{
	RoleAdmin:    true,
	RoleManager:  true,
	RoleDirector: true,
	RoleTeacher:  true,
	RoleStudent:  true,
}

// HasSatellite reports whether the role is persisted in a satellite table
func (r RoleTag) HasSatellite() bool {
	return r != RoleAdmin && ValidRoles[r]
}

// StatusTag is the coarse account status
type StatusTag string

const (
	StatusActive   StatusTag = "active"
	StatusInactive StatusTag = "inactive"
)

// CanonicalUser is the normalized projection of an identity used for persistence
type CanonicalUser struct {
	ExternalID     string    `json:"external_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	DisplayName    string    `json:"display_name"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	Role           RoleTag   `json:"role"`
	Status         StatusTag `json:"status"`
	// GroupsResolved is false when the group lookup failed and Role is a default
	GroupsResolved bool `json:"groups_resolved"`
	// PreserveRole asks the persister to keep an already stored role
	PreserveRole bool `json:"-"`
}

// User is a row of the primary users table
type User struct {
	ID             int64     `json:"id" db:"id"`
	ExternalID     string    `json:"external_id" db:"external_id"`
	Username       string    `json:"username" db:"username"`
	Email          string    `json:"email" db:"email"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	Role           RoleTag   `json:"role" db:"role"`
	Status         StatusTag `json:"status" db:"status"`
	OrganizationID *int64    `json:"organization_id,omitempty" db:"organization_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// PersistResult describes what a single persist did
type PersistResult struct {
	UserID       int64   `json:"user_id"`
	Created      bool    `json:"created"`
	Role         RoleTag `json:"role"`
	PreviousRole RoleTag `json:"previous_role,omitempty"`
	// RoleChanged is true when a stale satellite row was removed
	RoleChanged bool `json:"role_changed"`
}
