package models

import (
	"time"
)

// AccountStateConfirmed is the directory account state of a fully registered user
const AccountStateConfirmed = "CONFIRMED"

// IdentityRecord is one account as listed by the external directory
type IdentityRecord struct {
	ExternalID   string            `json:"external_id"`
	Username     string            `json:"username"`
	Attributes   map[string]string `json:"attributes"`
	Enabled      bool              `json:"enabled"`
	AccountState string            `json:"account_state"`
	// Groups are resolved with a separate call and are empty in listings
	Groups    []string  `json:"groups,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Attribute returns the named attribute or an empty string
func (r *IdentityRecord) Attribute(name string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[name]
}

// PoolInfo describes the directory an identity pool lives in
type PoolInfo struct {
	ID             string    `json:"pool_id"`
	Name           string    `json:"pool_name"`
	EstimatedUsers int       `json:"estimated_users"`
	CreatedAt      time.Time `json:"creation_date,omitempty"`
}
