package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/joho/godotenv/autoload"

	"github.com/groupgate/groupgate/internal/bot"
	"github.com/groupgate/groupgate/internal/config"
	"github.com/groupgate/groupgate/internal/domain"
	"github.com/groupgate/groupgate/internal/infrastructure/bilibili"
	"github.com/groupgate/groupgate/internal/infrastructure/database"
	"github.com/groupgate/groupgate/internal/plugins/bililive"
	"github.com/groupgate/groupgate/internal/usecase"
	"github.com/groupgate/groupgate/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := database.Open(database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	// repositories register their tables; Initialize applies them all
	keyRepo := database.NewCDKeyRepository(db)
	groupRepo := database.NewGroupRepository(db)
	subRepo := bililive.NewRepository(db)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := db.Initialize(ctx); err != nil {
		logger.Error("schema initialization failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	catalog := []domain.PluginDescriptor{
		{Name: bililive.PluginName, DefaultEnabled: false},
	}

	licenseService := usecase.NewLicenseService(keyRepo, groupRepo, logger)
	pluginService := usecase.NewPluginService(groupRepo, catalog, logger)
	gatekeeper := usecase.NewGatekeeper(pluginService, licenseService, groupRepo, logger)

	tgBot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error("failed to init telegram bot", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tgBot.Debug = false
	logger.Info("telegram bot authorized", slog.String("username", tgBot.Self.UserName))

	handler := bot.NewHandler(tgBot, licenseService, pluginService, gatekeeper, cfg.Telegram.AdminID, logger)

	stream := bilibili.NewLiveStream(cfg.Bilibili.StreamURL, logger)
	watcher := bililive.NewWatcher(subRepo, stream, gatekeeper, handler, logger)
	handler.RegisterPlugin(watcher)

	notifier := worker.NewExpiryNotifier(licenseService, handler, cfg.ExpiryWarnDays, logger)

	logger.Info("starting groupgate", slog.String("env", cfg.Env), slog.String("driver", cfg.Database.Driver))

	go handler.Start(ctx)
	go watcher.Run(ctx)
	go notifier.Run(ctx)

	<-ctx.Done()
	logger.Info("bot stopped gracefully")
}
