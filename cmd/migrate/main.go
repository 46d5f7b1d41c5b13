package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Uriel-Ondo/agro/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the relay database",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Info().Msg("no .env file found")
			}
			logging.Setup(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
		},
	}
	root.AddCommand(upCmd(), downCmd(), seedCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			log.Info().Msg("migration up successful")
			return nil
		},
	}
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Revert all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return err
			}
			log.Info().Msg("migration down successful")
			return nil
		},
	}
}

func requireDBURL() (string, error) {
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		return "", errors.New("DB_URL environment variable is required")
	}
	return dbURL, nil
}

func newMigrator() (*migrate.Migrate, error) {
	dbURL, err := requireDBURL()
	if err != nil {
		return nil, err
	}
	migrationsPath, err := findMigrations()
	if err != nil {
		return nil, err
	}
	return migrate.New("file://"+migrationsPath, dbURL)
}

// findMigrations looks for a migrations directory above the working
// directory and next to the executable.
func findMigrations() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidates := []string{}
	current := cwd
	for i := 0; i < 6; i++ {
		candidates = append(candidates, filepath.Join(current, "migrations"))
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
			filepath.Join(exeDir, "..", "..", "migrations"),
		)
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("migrations directory not found")
}
