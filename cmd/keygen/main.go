package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/pflag"

	"github.com/groupgate/groupgate/internal/config"
	"github.com/groupgate/groupgate/internal/infrastructure/database"
	"github.com/groupgate/groupgate/internal/usecase"
)

// keygen mints cdkeys straight into the store, for operators who prefer the
// shell over the bot's private chat.
func main() {
	days := pflag.Int("days", 30, "days of authorization each key grants")
	count := pflag.Int("count", 1, "number of keys to mint")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if cfg.Env != "local" {
		log.Fatal("keygen allowed only in local environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, err := database.Open(database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	keyRepo := database.NewCDKeyRepository(db)
	groupRepo := database.NewGroupRepository(db)

	ctx := context.Background()
	if err := db.Initialize(ctx); err != nil {
		log.Fatalf("Schema initialization failed: %v", err)
	}

	licenseService := usecase.NewLicenseService(keyRepo, groupRepo, logger)

	keys, err := licenseService.IssueCodes(ctx, *days, *count)
	if err != nil {
		log.Fatalf("Failed to issue keys: %v", err)
	}

	log.Printf("Created %d keys (%d days each, assignable until %s):",
		len(keys), *days, keys[0].Expires.Format("2006-01-02"))
	for _, key := range keys {
		log.Println(key.Code)
	}
}
