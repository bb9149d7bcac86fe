package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"order_packer/internal/config"
	"order_packer/internal/database"
	"order_packer/internal/migrations"
	"order_packer/pkg/logger"
)

// Header rows written when a master data file does not exist yet.
var templates = map[string]string{
	"sku_master": "sku,display_name,type\n",
	"noscan":     "sku\n",
	"print":      "sku,labels,invoices\nDEFAULT,1,2\n",
}

func main() {
	fmt.Println("Initializing database...")

	// Load configuration
	cfg := config.Load()
	lg := logger.New(logger.Options{ServiceName: "init-db", Format: "console"})

	// Initialize database
	db, err := database.Initialize(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Force recreate all tables
	fmt.Println("Recreating tables...")
	if err := migrations.Reset(db, lg); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	fmt.Println("Creating store directories...")
	for _, dir := range []string{"uploads", "orders", "bulk"} {
		if err := os.MkdirAll(filepath.Join(cfg.StoreDir, dir), 0o755); err != nil {
			log.Fatal("Failed to create store directory:", err)
		}
	}

	fmt.Println("Creating master data templates...")
	for path, body := range map[string]string{
		cfg.SKUMasterPath:  templates["sku_master"],
		cfg.NoScanPath:     templates["noscan"],
		cfg.PrintRulesPath: templates["print"],
	} {
		created, err := writeIfMissing(path, body)
		if err != nil {
			log.Printf("Warning: %v", err)
			continue
		}
		if created {
			lg.Info(lg.WithField(context.Background(), "path", path), "template created")
		}
	}

	fmt.Println("Database initialization completed successfully!")
}

func writeIfMissing(path, body string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
