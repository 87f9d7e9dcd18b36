package main

import (
	"time"

	"github.com/iaprender-user-sync/internal/api"
	"github.com/spf13/cobra"
)

var (
	tokenRole    string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for the sync endpoints",
	Long: `Sign an HS256 token with JWT_SECRET (and JWT_ISSUER when set) for calling
the /v1 endpoints from scripts and schedulers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		token, err := api.GenerateToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, tokenSubject, tokenRole, tokenTTL)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"token":      token,
			"role":       tokenRole,
			"expires_at": time.Now().Add(tokenTTL).Format(time.RFC3339),
		})
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenRole, "role", "admin", "role claim")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", cliTrigger, "subject claim, recorded as triggered_by")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(tokenCmd)
}
