package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rental-crawler/config"
	"rental-crawler/utils"
)

var (
	cfg    *config.Config
	logger *utils.Logger

	jsonLogs bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "rental-crawler",
	Short:         "rental-crawler acquires, normalizes and matches rental listings.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		if jsonLogs {
			logger = utils.NewJSONLogger(os.Stderr, level)
		} else {
			logger = utils.NewLogger(level)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON lines on stderr.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error).")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
