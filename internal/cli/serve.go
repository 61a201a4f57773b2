package cli

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

	"github.com/me/cmdbase/internal/scenario"
	"github.com/me/cmdbase/internal/server"
	"github.com/me/cmdbase/internal/telemetry"
)

// Version is reported by the dashboard's health endpoint.
var Version = "dev"

func newServeCmd() *cobra.Command {
	var (
		addr        string
		journalPath string
	)

	cmd := &cobra.Command{
		Use:   "serve [scenario.yaml]",
		Short: "Run the loop in real time behind the HTTP dashboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if journalPath == "" {
				journalPath = cfg.Journal.Path
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			loop := newLoop(cfg, logger)

			m, err := telemetry.New(nil)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			m.AttachLoop(loop)

			opts := []server.Option{server.WithVersion(Version)}
			if journalPath != "" {
				st, err := openJournal(ctx, journalPath, logger)
				if err != nil {
					return err
				}
				defer st.Close()
				rec := attachJournal(loop, st, logger)
				defer func() {
					if err := rec.Flush(context.Background()); err != nil {
						logger.Error("final journal flush failed", "error", err)
					}
				}()
				opts = append(opts, server.WithStore(st))
				logger.Info("journal enabled", "path", journalPath, "run_id", rec.RunID())
			}

			if len(args) == 1 {
				doc, err := scenario.Load(args[0])
				if err != nil {
					return err
				}
				if _, err := scenario.Compile(doc, loop, logger); err != nil {
					return err
				}
				logger.Info("scenario loaded", "scenario", doc.Name)
			}

			srv := server.New(loop, logger, opts...)
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			loopErr := make(chan error, 1)
			go func() { loopErr <- loop.Start(ctx) }()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					stop()
					_ = loop.Stop()
					return fmt.Errorf("server failed: %w", err)
				}
			}
			logger.Info("shutting down")

			// Stop the loop before the HTTP server.
			if err := loop.Stop(); err != nil {
				logger.Error("loop stop error", "error", err)
			}
			if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("loop exited", "error", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Record lifecycle events to this SQLite file")

	return cmd
}
