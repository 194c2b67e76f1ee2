package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wallplay/wallplay/internal/config"
	"github.com/wallplay/wallplay/internal/engine"
	internalhttp "github.com/wallplay/wallplay/internal/http"
	"github.com/wallplay/wallplay/internal/http/handlers"
	"github.com/wallplay/wallplay/internal/slots"
	"github.com/wallplay/wallplay/internal/timeline"
	"github.com/wallplay/wallplay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playback engine and control API",
	Long: `Start the wallplay playback engine and its control API server.

The server provides:
- REST API for transport commands and timeline document ingest
- Health check endpoints
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().String("database", "wallplay.db", "Snapshot database file path")
	serveCmd.Flags().String("screen", "", "Screen identity used for track resolution")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.path", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("player.screen_id", serveCmd.Flags().Lookup("screen"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	var cfg config.Config
	if err := config.Unmarshal(viper.GetViper(), &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// The log surface keeps the engine runnable headless; deployments with
	// an output device swap in their renderer bridge here.
	surfaces := func(kind timeline.MediaKind, slotName string) slots.Surface {
		return slots.NewLogSurface(kind, slotName, logger)
	}

	eng, err := engine.New(&cfg, surfaces, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	serverCfg := internalhttp.DefaultServerConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = cfg.Server.WriteTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	server := internalhttp.NewServer(serverCfg, logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(eng.DB().DB()).
		WithPlayerState(func() string { return eng.Status().State }).
		Register(server.API())
	handlers.NewPlayerHandler(eng).Register(server.API())
	handlers.NewIngestHandler(eng, eng.Snapshots()).Register(server.API())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown failed", slog.String("error", err.Error()))
	}

	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
