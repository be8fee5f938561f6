package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"storyboard/internal/infra"
)

// migrate applies the .sql files under migrations/ in lexical order, tracking
// applied files in schema_migrations.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "migrate")

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database failed")
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		logger.Fatal().Err(err).Msg("create schema_migrations failed")
	}

	files, err := sqlFiles(dir)
	if err != nil {
		logger.Fatal().Err(err).Msg("read migrations dir failed")
	}

	for _, file := range files {
		var applied bool
		if err := db.QueryRow(
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`,
			filepath.Base(file),
		).Scan(&applied); err != nil {
			logger.Fatal().Err(err).Msg("check migration state failed")
		}
		if applied {
			continue
		}
		if err := apply(db, file); err != nil {
			logger.Fatal().Err(err).Str("file", file).Msg("migration failed")
		}
		logger.Info().Str("file", filepath.Base(file)).Msg("migration applied")
	}
	logger.Info().Int("total", len(files)).Msg("migrations up to date")
}

func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func apply(db *sql.DB, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(raw)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (filename) VALUES ($1)`,
		filepath.Base(file),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}
