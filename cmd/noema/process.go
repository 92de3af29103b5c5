package noema

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	noemapkg "github.com/noemakg/noema"
	"github.com/noemakg/noema/pkg/cache"
	"github.com/noemakg/noema/pkg/config"
	"github.com/noemakg/noema/pkg/extract"
	"github.com/noemakg/noema/pkg/logger"
	"github.com/noemakg/noema/pkg/migrate"
	"github.com/noemakg/noema/pkg/store"
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Process a text file (or stdin) into the knowledge graph",
	Long: `Extract entities and relations from a text file and merge them into
the knowledge graph. With no file argument, text is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().String("store", "", "store file path (overrides config)")
	processCmd.Flags().String("source-type", "text", "source type recorded on observations")
	processCmd.Flags().Bool("heuristic", false, "use the heuristic extractor instead of the LLM")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Path = v
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	var (
		text       []byte
		sourcePath string
	)
	if len(args) == 1 {
		sourcePath = args[0]
		text, err = os.ReadFile(sourcePath)
	} else {
		text, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

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

	var extractor extract.Extractor
	if heuristic, _ := cmd.Flags().GetBool("heuristic"); heuristic || cfg.LLM.APIKey == "" {
		extractor = extract.NewHeuristicExtractor()
	} else {
		extractor = extract.NewOpenAIExtractor(extract.Config{
			APIKey:              cfg.LLM.APIKey,
			Model:               cfg.LLM.Model,
			BaseURL:             cfg.LLM.BaseURL,
			Temperature:         cfg.LLM.Temperature,
			MaxTokens:           cfg.LLM.MaxTokens,
			FallbackToHeuristic: cfg.LLM.Fallback,
		}, log)
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

	client := noemapkg.NewClient(s, extractor, clientCfg)

	sourceType, _ := cmd.Flags().GetString("source-type")
	result, err := client.ProcessText(cmd.Context(), string(text), noemapkg.Source{
		Type: sourceType,
		Path: sourcePath,
	})
	if err != nil {
		return err
	}

	fmt.Printf("entities: %d created, %d existing\n", result.EntitiesCreated, result.EntitiesExisting)
	fmt.Printf("relations: %d created, %d existing\n", result.RelationsCreated, result.RelationsExisting)
	fmt.Printf("observations: %d created\n", result.ObservationsCreated)
	return nil
}
