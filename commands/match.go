package commands

import (
	"os"

	"github.com/spf13/cobra"

	"rental-crawler/models"
	"rental-crawler/services"
	"rental-crawler/storage"
)

var (
	matchProfiles string
	matchUser     string
)

func init() {
	matchCmd.Flags().StringVar(&matchProfiles, "profiles", "", "Search profile file (default PROFILES_PATH).")
	matchCmd.Flags().StringVar(&matchUser, "user", "", "Print the matches of this user afterwards.")
	rootCmd.AddCommand(matchCmd)
}

var matchCmd = &cobra.Command{
	Use:   "match [--user <id>]",
	Short: "Scores every active listing against all active preferences.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := loadProfiles(ctx, firstNonEmpty(matchProfiles, cfg.ProfilesPath), store, logger); err != nil {
			return err
		}
		prefs, err := store.ListPreferences(ctx, true)
		if err != nil {
			return err
		}
		active, err := store.List(ctx, storage.ListingQuery{ActiveOnly: true})
		if err != nil {
			return err
		}

		matcher := services.NewMatcher(store, services.DefaultDistricts(), cfg.MatchThreshold, logger)
		created, err := matcher.MatchAll(ctx, active, prefs)
		if err != nil {
			logger.Error("%v", err)
		}
		logger.Info("[matcher] %d new matches over %d listings and %d preferences", created, len(active), len(prefs))

		if matchUser == "" {
			return nil
		}
		matches, err := store.ListMatches(ctx, matchUser)
		if err != nil {
			return err
		}
		byID := make(map[int64]models.ListingRecord, len(active))
		for _, l := range active {
			byID[l.ID] = l
		}
		for _, m := range matches {
			if _, ok := byID[m.ListingID]; ok {
				continue
			}
			if l, err := store.GetByID(ctx, m.ListingID); err == nil {
				byID[l.ID] = *l
			}
		}
		services.NewReportService(logger).PrintMatches(os.Stdout, matchUser, matches, byID)
		return nil
	},
}
