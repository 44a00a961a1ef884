package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"rental-crawler/services"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivates listings unseen for too long or past their availability.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		ids, err := services.NewSweeper(store, cfg.SweepPolicy(), logger).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Deactivated %d listings\n", len(ids))
		return nil
	},
}
