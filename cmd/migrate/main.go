package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/asakaida/provgraph/internal/infrastructure/config"
	"github.com/asakaida/provgraph/internal/infrastructure/database"
	"github.com/asakaida/provgraph/internal/infrastructure/logging"
	"github.com/asakaida/provgraph/internal/services/graphsync"
)

var (
	envFlag      string
	graphFlag    string
	backfillFlag bool
	cfg          *config.Config
	pg           *database.Postgres
	logger       *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for provgraph",
	Long: `Database migration tool for provgraph.
Manages PostgreSQL schema migrations using golang-migrate and the Apache AGE graph mirror.`,
	PersistentPreRun:  setupDatabase,
	PersistentPostRun: closeDatabase,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Long:  `Apply all pending migrations to the database.`,
	Run:   runUp,
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback migrations",
	Long:  `Rollback the specified number of migrations (default: 1).`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runDown,
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Migrate to a specific version",
	Long:  `Migrate to a specific version number.`,
	Args:  cobra.ExactArgs(1),
	Run:   runGoto,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	Long:  `Display the current migration version of the database.`,
	Run:   runVersion,
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Force set migration version (use with caution)",
	Long:  `Force set the migration version without running migrations. Use with caution.`,
	Args:  cobra.ExactArgs(1),
	Run:   runForce,
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Manage the AGE graph mirror",
}

var mirrorInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the graph and install the mirror triggers",
	Long: `Create the AGE graph and its labels if missing and install the mirror triggers.
With --backfill the graph is rebuilt from the existing relational rows.`,
	Run: runMirrorInstall,
}

var mirrorUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the mirror triggers",
	Long:  `Remove the mirror triggers. The graph itself is left in place.`,
	Run:   runMirrorUninstall,
}

var mirrorRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the mirror trigger DDL",
	Args:  cobra.NoArgs,
	// render needs no database connection
	PersistentPreRun:  func(cmd *cobra.Command, args []string) {},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {},
	Run:               runMirrorRender,
}

func init() {
	// Add global --env flag to all commands
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")

	mirrorCmd.PersistentFlags().StringVarP(&graphFlag, "graph", "g", "", "Graph name (default: GRAPH_NAME from config)")
	mirrorInstallCmd.Flags().BoolVar(&backfillFlag, "backfill", false, "Rebuild the graph from existing rows")

	mirrorCmd.AddCommand(mirrorInstallCmd)
	mirrorCmd.AddCommand(mirrorUninstallCmd)
	mirrorCmd.AddCommand(mirrorRenderCmd)

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(forceCmd)
	rootCmd.AddCommand(mirrorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func loadConfig() {
	if err := config.InitConfig(envFlag); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err = logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.Info("using environment", zap.String("env", envFlag))
}

func setupDatabase(cmd *cobra.Command, args []string) {
	loadConfig()

	var err error
	pg, err = database.NewPostgres(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	logger.Info("connected to database",
		zap.String("user", cfg.Database.User),
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database))
}

func closeDatabase(cmd *cobra.Command, args []string) {
	if pg != nil {
		if err := pg.Close(); err != nil {
			logger.Warn("error closing database connection", zap.Error(err))
		}
	}
	_ = logger.Sync()
}

func newMigrate() *migrate.Migrate {
	m, err := database.NewMigrate(pg.DB)
	if err != nil {
		logger.Fatal("failed to create migrate instance", zap.Error(err))
	}
	return m
}

func parseNumber(arg, name string) int {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		logger.Fatal("invalid argument", zap.String(name, arg))
	}
	return n
}

func runUp(cmd *cobra.Command, args []string) {
	m := newMigrate()
	defer m.Close()

	err := m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations to apply")
	case err != nil:
		logger.Fatal("migration up failed", zap.Error(err))
	default:
		logger.Info("migration up completed successfully")
	}
}

func runDown(cmd *cobra.Command, args []string) {
	steps := 1 // Default: rollback 1 migration
	if len(args) > 0 {
		steps = parseNumber(args[0], "steps")
	}

	m := newMigrate()
	defer m.Close()

	err := m.Steps(-steps)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations to rollback")
	case err != nil:
		logger.Fatal("migration down failed", zap.Error(err))
	default:
		logger.Info("migration down completed successfully", zap.Int("steps", steps))
	}
}

func runGoto(cmd *cobra.Command, args []string) {
	version := uint(parseNumber(args[0], "version"))

	m := newMigrate()
	defer m.Close()

	err := m.Migrate(version)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("already at version", zap.Uint("version", version))
	case err != nil:
		logger.Fatal("migration goto failed", zap.Error(err))
	default:
		logger.Info("migration goto completed successfully", zap.Uint("version", version))
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	m := newMigrate()
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("Current version: No migrations applied yet")
		return
	}
	if err != nil {
		logger.Fatal("failed to get version", zap.Error(err))
	}

	if dirty {
		fmt.Printf("Current version: %d (dirty - migration may have failed)\n", version)
	} else {
		fmt.Printf("Current version: %d\n", version)
	}
}

func runForce(cmd *cobra.Command, args []string) {
	version := parseNumber(args[0], "version")

	m := newMigrate()
	defer m.Close()

	if err := m.Force(version); err != nil {
		logger.Fatal("migration force failed", zap.Error(err))
	}
	logger.Info("migration forced", zap.Int("version", version))
}

func graphName() string {
	if graphFlag != "" {
		return graphFlag
	}
	if cfg != nil {
		return cfg.Graph.Name
	}
	return "prov_graph"
}

func newInstaller() *graphsync.Installer {
	installer, err := graphsync.NewInstaller(pg.DB, graphName(), logger)
	if err != nil {
		logger.Fatal("invalid graph", zap.Error(err))
	}
	return installer
}

func runMirrorInstall(cmd *cobra.Command, args []string) {
	if err := newInstaller().Install(context.Background(), backfillFlag); err != nil {
		logger.Fatal("mirror install failed", zap.Error(err))
	}
}

func runMirrorUninstall(cmd *cobra.Command, args []string) {
	if err := newInstaller().Uninstall(context.Background()); err != nil {
		logger.Fatal("mirror uninstall failed", zap.Error(err))
	}
}

func runMirrorRender(cmd *cobra.Command, args []string) {
	ddl, err := graphsync.GenerateDDL(graphName())
	if err != nil {
		log.Fatalf("Failed to render DDL: %v", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), ddl)
}
