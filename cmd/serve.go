package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g-flame/airlink-panel/internal/db"
	"github.com/g-flame/airlink-panel/internal/render"
	"github.com/g-flame/airlink-panel/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the panel server",
	Long: `Serves the panel pages, the page fragment endpoint used by client-side
navigation, static assets and, when enabled, the telemetry API with its live
websocket feed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []render.Option{render.WithLogger(logger.Named("render"))}
		if cfg.Server.PagesDir != "" {
			opts = append(opts, render.WithPagesDir(cfg.Server.PagesDir))
		}
		renderer, err := render.New(opts...)
		if err != nil {
			return fmt.Errorf("loading views: %w", err)
		}

		var database *db.DB
		if cfg.Telemetry.Enabled {
			if err := os.MkdirAll(cfg.Telemetry.DataDir, 0o755); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}
			dbPath := filepath.Join(cfg.Telemetry.DataDir, "panel.db")
			database, err = db.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer database.Close()
			logger.Info("telemetry enabled", zap.String("db", dbPath))
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		srv := server.New(server.Config{
			Port:     port,
			Endpoint: cfg.Server.Endpoint,
			AllowAll: cfg.Server.AllowAll,
		}, renderer, database, logger.Named("server"))

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		logger.Info("panel server starting",
			zap.String("version", Version),
			zap.Int("port", port),
			zap.Int("pages", len(renderer.Paths())),
		)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 3000, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}
