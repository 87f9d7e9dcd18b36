package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/iaprender-user-sync/internal/validation"
	"github.com/spf13/cobra"
)

const cliTrigger = "cli"

var idempotencyKey string

var syncAllCmd = &cobra.Command{
	Use:   "sync-all",
	Short: "Synchronize every identity in the directory",
	Long: `Enumerate the whole user pool and upsert each identity into users and its
role table. The run is recorded like an API-triggered run. Individual
identity failures are reported in the summary; only a failure to list the
directory makes the command exit non-zero.`,
	Args: cobra.NoArgs,
	RunE: runSyncAll,
}

var syncUserCmd = &cobra.Command{
	Use:   "sync-user <username>",
	Short: "Synchronize a single identity by username",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncUser,
}

func init() {
	syncAllCmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "return the earlier run recorded with this key instead of starting a new one")

	rootCmd.AddCommand(syncAllCmd)
	rootCmd.AddCommand(syncUserCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSyncAll(cmd *cobra.Command, args []string) error {
	if errs := validation.ValidateIdempotencyKey(idempotencyKey); len(errs) > 0 {
		return errs[0]
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	services, err := a.services(ctx)
	if err != nil {
		return err
	}

	resp, existing, err := services.Run.RunNow(ctx, &models.RunRequest{
		Mode:           models.RunModeBulk,
		IdempotencyKey: idempotencyKey,
		TriggeredBy:    cliTrigger,
	})
	if resp != nil {
		if printErr := printJSON(resp); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}

	if existing {
		a.log.Info().Str("run_id", resp.ID).Msg("Returned existing run for idempotency key")
	}
	return nil
}

func runSyncUser(cmd *cobra.Command, args []string) error {
	username := args[0]
	if errs := validation.ValidateUsername(username); len(errs) > 0 {
		return errs[0]
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	services, err := a.services(ctx)
	if err != nil {
		return err
	}

	result, err := services.Sync.SyncUser(ctx, username)
	if err != nil {
		_ = printJSON(map[string]interface{}{
			"success":  false,
			"username": username,
			"stage":    service.StageOf(err),
			"error":    err.Error(),
		})
		return fmt.Errorf("sync %s: %w", username, err)
	}
	return printJSON(result)
}
