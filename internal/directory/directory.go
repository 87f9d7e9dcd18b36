// Package directory reads identities and group membership from the external
// identity directory.
package directory

import (
	"context"
	"errors"
	"iter"

	"github.com/iaprender-user-sync/internal/models"
)

// ErrIdentityNotFound is returned by GetIdentity for an unknown username
var ErrIdentityNotFound = errors.New("identity not found")

// Directory is the read-only view of the identity directory used by the sync
type Directory interface {
	// Identities yields every identity page by page. A listing failure is
	// yielded once as a non-nil error and ends the sequence.
	Identities(ctx context.Context) iter.Seq2[*models.IdentityRecord, error]

	// GetIdentity looks up one identity by username
	GetIdentity(ctx context.Context, username string) (*models.IdentityRecord, error)

	// ListGroups returns the group names of one identity
	ListGroups(ctx context.Context, username string) ([]string, error)

	// Describe returns metadata about the pool
	Describe(ctx context.Context) (*models.PoolInfo, error)
}

// ListAllIdentities drains the directory into memory. Any listing error
// discards what was read so far.
func ListAllIdentities(ctx context.Context, dir Directory) ([]*models.IdentityRecord, error) {
	var all []*models.IdentityRecord
	for identity, err := range dir.Identities(ctx) {
		if err != nil {
			return nil, err
		}
		all = append(all, identity)
	}
	return all, nil
}

// Count returns the number of identities in the directory
func Count(ctx context.Context, dir Directory) (int, error) {
	n := 0
	for _, err := range dir.Identities(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
