package postgres

import (
	"database/sql"
	"os"
	"testing"

	"github.com/asakaida/provgraph/internal/infrastructure/config"
	"github.com/asakaida/provgraph/internal/infrastructure/database"
	_ "github.com/lib/pq"
)

// SetupTestDB creates a test database connection and runs migrations.
// Skips unless INTEGRATION is set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if os.Getenv("INTEGRATION") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION=1 to run")
	}

	// Initialize test config
	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("Failed to init config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Run embedded migrations
	if err := pg.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	truncate(t, pg.DB)
	return pg.DB
}

// CleanupTestDB closes the database connection and cleans up test data
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	truncate(t, db)

	if err := db.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()

	// Node tables cascade to every relation table
	if _, err := db.Exec(`TRUNCATE entities, activities, agents CASCADE`); err != nil {
		t.Logf("Warning: Failed to clean up provenance tables: %v", err)
	}
}
