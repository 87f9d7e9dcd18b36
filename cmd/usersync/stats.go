package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compare directory and local user counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		status := services.Sync.Status(ctx)
		if err := printJSON(status); err != nil {
			return err
		}
		if !status.Connection.Success {
			return fmt.Errorf("%s", status.Connection.Message)
		}
		if status.StatsError != "" {
			return fmt.Errorf("statistics: %s", status.StatsError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
