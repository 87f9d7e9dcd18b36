package service_test

import (
	"time"

	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Directory: config.DirectoryConfig{OrgAttribute: "custom:empresa_id"},
		Sync: config.SyncConfig{
			GroupFailurePolicy:  config.GroupPolicyDefault,
			MaxConcurrentRuns:   1,
			PollInterval:        10 * time.Millisecond,
			ErrorFlushThreshold: 1000,
		},
	}
}

func identity(username, sub string, org string) *models.IdentityRecord {
	attrs := map[string]string{
		"sub":   sub,
		"email": username + "@escola.gov.br",
	}
	if org != "" {
		attrs["custom:empresa_id"] = org
	}
	return &models.IdentityRecord{
		ExternalID:   sub,
		Username:     username,
		Enabled:      true,
		AccountState: models.AccountStateConfirmed,
		Attributes:   attrs,
	}
}
