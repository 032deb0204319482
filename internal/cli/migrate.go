package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/candleclock/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		_, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
