package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	dbfs "github.com/garnizeh/techsync/db"
	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/internal/db"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to config YAML file")
	pflag.Parse()

	ctx := context.Background()
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Env error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(ctx, cfg.DatabasePath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database, dbfs.Migrations); err != nil {
		fmt.Fprintf(os.Stderr, "Migration runner error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Database %s initialized successfully.\n", cfg.DatabasePath)
}
