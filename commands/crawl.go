package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"rental-crawler/config"
	"rental-crawler/models"
	"rental-crawler/scraper/wggesucht"
	"rental-crawler/services"
	"rental-crawler/storage"
)

var (
	crawlProfiles string
	crawlSearches []string
	crawlPages    int
	crawlCSV      string
	crawlSweep    bool
)

func init() {
	crawlCmd.Flags().StringVar(&crawlProfiles, "profiles", "", "Search profile file (default PROFILES_PATH).")
	crawlCmd.Flags().StringSliceVar(&crawlSearches, "search", nil, "Only run the named searches.")
	crawlCmd.Flags().IntVar(&crawlPages, "pages", 0, "Result pages per search (default PAGES_TO_SCRAPE).")
	crawlCmd.Flags().StringVar(&crawlCSV, "csv", "", "Export active listings to this CSV file (default CSV_OUTPUT_PATH).")
	crawlCmd.Flags().BoolVar(&crawlSweep, "sweep", false, "Run the deactivation sweep after crawling.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--profiles <file>] [--search <name>...]",
	Short: "Runs one crawl pass per search: crawl, upsert, match and report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		started := time.Now()
		logger.Info("=== Rental crawler starting ===")
		logger.Info("Config: pages %d | concurrency %d | rate %dms | batch delay %dms",
			cfg.PagesToScrape, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.BatchDelayMs)

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		path := firstNonEmpty(crawlProfiles, cfg.ProfilesPath)
		profiles, err := loadProfiles(ctx, path, store, logger)
		if err != nil {
			return err
		}
		searches, err := selectSearches(profiles, crawlSearches)
		if err != nil {
			return err
		}
		prefs, err := store.ListPreferences(ctx, true)
		if err != nil {
			return err
		}

		pages := cfg.PagesToScrape
		if crawlPages > 0 {
			pages = crawlPages
		}
		stack, err := newCrawlStack(cfg, pages, store, logger)
		if err != nil {
			return err
		}
		defer stack.Close()

		if s, err := store.LoadSession(ctx, models.PlatformWGGesucht); err == nil && s.Valid(time.Now()) {
			if err := stack.http.SetCookies(wggesucht.BaseURL, s.Cookies); err != nil {
				logger.Warn("[session] Could not seed HTTP cookies: %v", err)
			}
		}

		districts := services.DefaultDistricts()
		normalizer := services.NewNormalizer(districts, logger)
		matcher := services.NewMatcher(store, districts, cfg.MatchThreshold, logger)
		pipeline := services.NewPipeline(stack.scraper, normalizer, store, matcher, logger)
		report := services.NewReportService(logger)

		// a subset of searches cannot tell a vanished listing from one it
		// never covers
		countMissed := len(crawlSearches) == 0
		summaries, err := pipeline.RunSearches(ctx, searches, prefs, countMissed)
		if err != nil {
			logger.Error("%v", err)
		}
		for _, summary := range summaries {
			report.PrintSummary(os.Stdout, summary)
		}

		if crawlSweep {
			ids, err := services.NewSweeper(store, cfg.SweepPolicy(), logger).Run(ctx)
			if err != nil {
				logger.Error("%v", err)
			} else {
				fmt.Printf("Deactivated %d listings\n", len(ids))
			}
		}

		active, err := store.List(ctx, storage.ListingQuery{Platform: models.PlatformWGGesucht, ActiveOnly: true})
		if err != nil {
			return err
		}
		report.PrintMarket(os.Stdout, report.Generate(active))

		if out := firstNonEmpty(crawlCSV, cfg.CSVOutputPath); out != "" {
			if err := exportCSV(out, active, logger); err != nil {
				logger.Error("CSV export failed: %v", err)
			}
		}
		logger.Duration("crawl", started)
		return nil
	},
}

func selectSearches(p *config.Profiles, names []string) ([]models.SearchFilter, error) {
	if len(names) == 0 {
		if len(p.Searches) == 0 {
			return nil, fmt.Errorf("no searches configured")
		}
		return p.Searches, nil
	}
	out := make([]models.SearchFilter, 0, len(names))
	for _, name := range names {
		s, ok := p.Search(name)
		if !ok {
			return nil, fmt.Errorf("unknown search %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
