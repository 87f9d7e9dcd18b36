package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate <up|down>",
	Short:     "Apply all pending migrations or roll back the last one",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		path := a.cfg.Server.MigrationsPath
		switch args[0] {
		case "up":
			err = a.db.RunMigrations(path)
		case "down":
			err = a.db.MigrateDown(path)
		default:
			err = fmt.Errorf("unknown direction %q", args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"migrate": args[0], "status": "ok"})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
