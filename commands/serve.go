package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"rental-crawler/api"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default API_ADDR).")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--addr <host:port>]",
	Short: "Serves listings, matches and run summaries over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		srv := &http.Server{
			Addr:              firstNonEmpty(serveAddr, cfg.APIAddr),
			Handler:           api.NewRouter(store, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errs := make(chan error, 1)
		go func() {
			logger.Info("[api] Listening on %s", srv.Addr)
			errs <- srv.ListenAndServe()
		}()

		select {
		case err := <-errs:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("[api] Shutting down")
		return srv.Shutdown(shutdownCtx)
	},
}
