// Package normalize turns directory identities into canonical users.
// Everything here is pure: no I/O and no failure mode.
package normalize

import (
	"strconv"
	"strings"

	"github.com/iaprender-user-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Standard directory attribute names
const (
	AttrSub        = "sub"
	AttrEmail      = "email"
	AttrName       = "name"
	AttrGivenName  = "given_name"
	AttrFamilyName = "family_name"

	// DefaultOrgAttribute holds the organization (empresa) id
	DefaultOrgAttribute = "custom:empresa_id"
)

// groupAlias maps one directory group spelling to a role
type groupAlias struct {
	group string
	role  models.RoleTag
}

// roleAliases is ordered by role priority; the first alias present wins.
var roleAliases = []groupAlias{
	{"Admin", models.RoleAdmin},
	{"AdminMaster", models.RoleAdmin},
	{"Administrador", models.RoleAdmin},
	{"Gestores", models.RoleManager},
	{"GestorMunicipal", models.RoleManager},
	{"Gestor", models.RoleManager},
	{"Diretores", models.RoleDirector},
	{"Diretor", models.RoleDirector},
	{"Professores", models.RoleTeacher},
	{"Professor", models.RoleTeacher},
	{"Alunos", models.RoleStudent},
	{"Aluno", models.RoleStudent},
}

// Normalizer builds CanonicalUsers
type Normalizer struct {
	orgAttribute string
}

// New creates a Normalizer reading the organization id from orgAttribute
func New(orgAttribute string) *Normalizer {
	if orgAttribute == "" {
		orgAttribute = DefaultOrgAttribute
	}
	return &Normalizer{orgAttribute: orgAttribute}
}

// Normalize merges identity attributes and group membership. resolved is
// false when the group lookup failed, in which case groups is empty.
func (n *Normalizer) Normalize(identity *models.IdentityRecord, groups []string, resolved bool) *models.CanonicalUser {
	email := strings.TrimSpace(identity.Attribute(AttrEmail))

	return &models.CanonicalUser{
		ExternalID:     ExternalID(identity),
		Username:       identity.Username,
		Email:          email,
		DisplayName:    DisplayName(identity),
		OrganizationID: ParseOrganizationID(identity.Attribute(n.orgAttribute)),
		Role:           RoleFromGroups(groups),
		Status:         StatusFrom(identity.AccountState, identity.Enabled),
		GroupsResolved: resolved,
	}
}

// ExternalID returns the stable identifier of an identity: its explicit
// external id, then the sub attribute, then the username.
func ExternalID(identity *models.IdentityRecord) string {
	if identity.ExternalID != "" {
		return identity.ExternalID
	}
	if sub := identity.Attribute(AttrSub); sub != "" {
		return sub
	}
	return identity.Username
}

// DisplayName picks name, then "given family", then the email local part,
// then the username. Names are returned in NFC so composed and decomposed
// accents compare equal.
func DisplayName(identity *models.IdentityRecord) string {
	if name := strings.TrimSpace(identity.Attribute(AttrName)); name != "" {
		return norm.NFC.String(name)
	}

	full := strings.TrimSpace(strings.TrimSpace(identity.Attribute(AttrGivenName)) + " " +
		strings.TrimSpace(identity.Attribute(AttrFamilyName)))
	if full != "" {
		return norm.NFC.String(full)
	}

	email := strings.TrimSpace(identity.Attribute(AttrEmail))
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}

	return identity.Username
}

// ParseOrganizationID parses a custom organization attribute. Missing or
// non-integer values yield nil.
func ParseOrganizationID(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// RoleFromGroups returns the highest-priority role among the groups,
// or student when no alias matches.
func RoleFromGroups(groups []string) models.RoleTag {
	if len(groups) == 0 {
		return models.RoleStudent
	}

	member := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		member[strings.TrimSpace(g)] = struct{}{}
	}

	for _, alias := range roleAliases {
		if _, ok := member[alias.group]; ok {
			return alias.role
		}
	}
	return models.RoleStudent
}

// StatusFrom is active only for a confirmed and enabled account
func StatusFrom(accountState string, enabled bool) models.StatusTag {
	if enabled && strings.EqualFold(accountState, models.AccountStateConfirmed) {
		return models.StatusActive
	}
	return models.StatusInactive
}
