package noema

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noemakg/noema/pkg/config"
	"github.com/noemakg/noema/pkg/logger"
	"github.com/noemakg/noema/pkg/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the store",
	Long: `Apply all pending SQL schema migrations to the knowledge graph store.

Migrations are *.sql files applied in filename order. Each applied file is
recorded with its checksum, so re-running this command is a no-op. Unless
--no-backup is given, the store file is copied aside before anything runs.`,
	RunE: runMigrate,
}

var noBackup bool

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().String("store", "", "store file path (overrides config)")
	migrateCmd.Flags().String("dir", "", "migrations directory (overrides config)")
	migrateCmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the pre-migration backup")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Path = v
	}
	if v, _ := cmd.Flags().GetString("dir"); v != "" {
		cfg.Store.MigrationsDir = v
	}

	runner := migrate.New(migrate.Options{
		StorePath: cfg.Store.Path,
		Dir:       cfg.Store.MigrationsDir,
		Backup:    cfg.Store.Backup && !noBackup,
	}, log)

	report, err := runner.Apply(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("applied: %d, skipped: %d\n", len(report.Applied), len(report.Skipped))
	if report.BackupPath != "" {
		fmt.Println("backup:", report.BackupPath)
	}
	return nil
}
