package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"order_packer/internal/layout"
)

type Config struct {
	DatabaseDriver  string
	DatabaseURL     string
	RedisURL        string
	ServerPort      string
	StoreDir        string
	SKUMasterPath   string
	NoScanPath      string
	PrintRulesPath  string
	LogLevel        string
	LogFormat       string
	ScanLockTTL     time.Duration
	RecentScanLimit int
	Layout          layout.Config
}

func Load() *Config {
	// Load .env file if exists
	godotenv.Load()

	return &Config{
		DatabaseDriver:  getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:     getEnv("DATABASE_URL", "order_packer.db"),
		RedisURL:        getEnv("REDIS_URL", ""),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		StoreDir:        getEnv("STORE_DIR", "data"),
		SKUMasterPath:   getEnv("SKU_MASTER_PATH", "data/sku_master.csv"),
		NoScanPath:      getEnv("NOSCAN_PATH", "data/extras_noscan.txt"),
		PrintRulesPath:  getEnv("PRINT_RULES_PATH", "data/print_rules.csv"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		ScanLockTTL:     time.Duration(getEnvAsInt("SCAN_LOCK_TTL", 30)) * time.Second,
		RecentScanLimit: getEnvAsInt("RECENT_SCAN_LIMIT", 50),
		Layout:          loadLayout(),
	}
}

// loadLayout overlays LAYOUT_* variables on the default layout.
func loadLayout() layout.Config {
	d := layout.Default()
	return layout.Config{
		PageWidth:  getEnvAsFloat("LAYOUT_PAGE_WIDTH_PT", d.PageWidth),
		PageHeight: getEnvAsFloat("LAYOUT_PAGE_HEIGHT_PT", d.PageHeight),
		SplitFrac:  getEnvAsFloat("LAYOUT_SPLIT_FRAC", d.SplitFrac),
		LabelZoom:  getEnvAsFloat("LAYOUT_LABEL_ZOOM", d.LabelZoom),
		LabelPadding: layout.Insets{
			Top:    getEnvAsFloat("LAYOUT_PAD_LABEL_TOP", d.LabelPadding.Top),
			Bottom: getEnvAsFloat("LAYOUT_PAD_LABEL_BOTTOM", d.LabelPadding.Bottom),
			Left:   getEnvAsFloat("LAYOUT_PAD_LABEL_LEFT", d.LabelPadding.Left),
			Right:  getEnvAsFloat("LAYOUT_PAD_LABEL_RIGHT", d.LabelPadding.Right),
		},
		TrimLabelTop: getEnvAsFloat("LAYOUT_TRIM_LABEL_TOP_PT", d.TrimLabelTop),
		InvoicePadding: layout.Insets{
			Top:    getEnvAsFloat("LAYOUT_PAD_INVOICE_TOP", d.InvoicePadding.Top),
			Bottom: getEnvAsFloat("LAYOUT_PAD_INVOICE_BOTTOM", d.InvoicePadding.Bottom),
			Left:   getEnvAsFloat("LAYOUT_PAD_INVOICE_LEFT", d.InvoicePadding.Left),
			Right:  getEnvAsFloat("LAYOUT_PAD_INVOICE_RIGHT", d.InvoicePadding.Right),
		},
		InvoiceRotation: getEnvAsInt("LAYOUT_ROTATE_INVOICE_DEG", d.InvoiceRotation),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
