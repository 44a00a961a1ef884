package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Reuses or refreshes the marketplace session and persists it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		stack, err := newCrawlStack(cfg, 1, store, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		if !stack.sessions.Enabled() {
			return fmt.Errorf("login needs WG_EMAIL, WG_PASSWORD and a Chrome binary")
		}
		s, err := stack.sessions.Ensure(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (generation %d, %d cookies, expires %s)\n",
			s.Identity, s.Generation, len(s.Cookies), s.ExpiresAt.Format("2006-01-02 15:04"))
		return nil
	},
}
