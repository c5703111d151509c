//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	seedDir := flag.String("seed-dir", "seed", "directory of .sql seed files, applied in name order")
	migrateOnly := flag.Bool("migrate-only", false, "apply the schema without seeding")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		lg.Fatal("open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}
	lg.Info("schema applied")
	if *migrateOnly {
		return
	}

	files, err := seedFiles(*seedDir)
	if err != nil {
		lg.Fatal("list seed files", zap.Error(err))
	}
	for _, file := range files {
		if err := seed(ctx, database, file); err != nil {
			lg.Fatal("seed", zap.String("file", file), zap.Error(err))
		}
		lg.Info("seeded", zap.String("file", file))
	}
	lg.Info("database seeding completed successfully")
}

func seedFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no seed files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

func seed(ctx context.Context, database *sql.DB, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	if _, err := database.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("execute %s: %w", file, err)
	}
	return nil
}
