package noema

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	noemapkg "github.com/noemakg/noema"
	"github.com/noemakg/noema/pkg/cache"
	"github.com/noemakg/noema/pkg/config"
	"github.com/noemakg/noema/pkg/extract"
	"github.com/noemakg/noema/pkg/logger"
	"github.com/noemakg/noema/pkg/migrate"
	"github.com/noemakg/noema/pkg/server"
	"github.com/noemakg/noema/pkg/store"
	"github.com/noemakg/noema/pkg/telemetry"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the knowledge graph HTTP server",
	Long: `Start the HTTP server exposing the knowledge graph.

The server provides endpoints for:
- Processing text into entities and relations
- Listing, searching, and inspecting entities
- Relations, statistics, and graph visualization data
- Health checks

Pending schema migrations are applied before the server accepts requests.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "debug", "server mode (debug, release, test)")

	serverCmd.Flags().String("store", "", "store file path (overrides config)")
	serverCmd.Flags().String("llm-model", "", "extraction model (overrides config)")
	serverCmd.Flags().String("llm-api-key", "", "extraction API key (overrides config)")
	serverCmd.Flags().String("llm-base-url", "", "extraction API base URL (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideServerConfig(cmd, cfg)

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	// Migrations run before anything else opens the store for writes.
	runner := migrate.New(migrate.Options{
		StorePath: cfg.Store.Path,
		Dir:       cfg.Store.MigrationsDir,
		Backup:    cfg.Store.Backup,
	}, log)
	if _, err := runner.Apply(cmd.Context()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	if cfg.Telemetry.Enabled {
		handler, err := telemetry.NewErrorHandler(log.Handler(), s.DB())
		if err != nil {
			return fmt.Errorf("failed to set up telemetry: %w", err)
		}
		log = slog.New(handler)
	}

	clientCfg := &noemapkg.Config{Logger: log}
	if cfg.Cache.Enabled {
		extractionCache, err := cache.New(cfg.Cache.Path, time.Duration(cfg.Cache.TTLHours)*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to open extraction cache: %w", err)
		}
		defer extractionCache.Close()
		clientCfg.Cache = extractionCache
	}

	extractor := extract.NewOpenAIExtractor(extract.Config{
		APIKey:              cfg.LLM.APIKey,
		Model:               cfg.LLM.Model,
		BaseURL:             cfg.LLM.BaseURL,
		Temperature:         cfg.LLM.Temperature,
		MaxTokens:           cfg.LLM.MaxTokens,
		FallbackToHeuristic: cfg.LLM.Fallback,
	}, log)

	client := noemapkg.NewClient(s, extractor, clientCfg)

	srv := server.New(cfg, client, s, log)
	srv.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received signal", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	}
}

func overrideServerConfig(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Path = v
	}
	if v, _ := cmd.Flags().GetString("llm-model"); v != "" {
		cfg.LLM.Model = v
	}
	if v, _ := cmd.Flags().GetString("llm-api-key"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v, _ := cmd.Flags().GetString("llm-base-url"); v != "" {
		cfg.LLM.BaseURL = v
	}
}
