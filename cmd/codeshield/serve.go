package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sloppy/codeshield/internal/analysis"
	"github.com/sloppy/codeshield/internal/db"
	"github.com/sloppy/codeshield/internal/llm"
	"github.com/sloppy/codeshield/internal/rules"
	"github.com/sloppy/codeshield/internal/scan"
	"github.com/sloppy/codeshield/internal/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		listen    string
		dbPath    string
		ollamaURL string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and scan dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer log.Sync()
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("ollama-url") {
				cfg.OllamaURL = ollamaURL
			}

			catalog, err := rules.Load(cfg.RulesFile)
			if err != nil {
				return err
			}
			database, err := db.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()

			client := llm.New(cfg.OllamaURL, llm.WithProbeTimeout(cfg.AIProbeTimeout))
			svc, err := scan.NewService(scan.Options{
				DB:        database,
				Engine:    analysis.NewEngine(catalog),
				Generator: client,
				AITimeout: cfg.AITimeout,
				Loader:    scan.DiskLoader{MaxBytes: cfg.MaxFileBytes},
				Log:       log,
			})
			if err != nil {
				return err
			}
			server := web.NewServer(svc, catalog, web.Options{LLM: client, DefaultScan: &cfg.Scan, Log: log})

			httpServer := &http.Server{
				Addr:              cfg.Listen,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpServer.ListenAndServe()
			}()
			log.Infow("listening", "addr", "http://"+cfg.Listen, "rules", catalog.Len(), "db", cfg.DBPath)
			fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", cfg.Listen)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Infow("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warnw("http shutdown", "error", err)
			}
			if err := svc.Shutdown(shutdownCtx); err != nil {
				log.Warnw("scan shutdown", "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (default in-memory)")
	cmd.Flags().StringVar(&ollamaURL, "ollama-url", "", "Ollama base URL")
	return cmd
}
