package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/api"
	"github.com/dataharvest/harvester/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the harvesting HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		server := api.NewServer(env.Orchestrator, env.Store, session.NewManager(), cfg.Server)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		// Deep crawls of slow sites can hold a request open for minutes,
		// so the write timeout is generous.
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      server.Handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
