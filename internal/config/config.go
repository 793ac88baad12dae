package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Env string `env:"APP_ENV" envDefault:"local"`

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
		AdminID  int64  `env:"TELEGRAM_ADMIN_ID,required"`
	}

	Database struct {
		Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
		Path   string `env:"DATABASE_PATH" envDefault:"data/groupgate.db"`
		DSN    string `env:"DATABASE_URL"`
	}

	Bilibili struct {
		StreamURL string `env:"BILIBILI_STREAM_URL" envDefault:"wss://broadcast.chat.bilibili.com/sub"`
	}

	// Days of remaining license below which the notifier starts warning.
	ExpiryWarnDays int `env:"EXPIRY_WARN_DAYS" envDefault:"3"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("DATABASE_URL is required with the postgres driver")
	}
	return cfg, nil
}
