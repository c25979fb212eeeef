package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv reads a .env file into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

type Credentials struct {
	APIKey    string
	SecretKey string
}

// BinanceCredentials reads the API key pair from the environment.
func BinanceCredentials() Credentials {
	return Credentials{
		APIKey:    strings.TrimSpace(os.Getenv("BINANCE_API_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("BINANCE_SECRET_KEY")),
	}
}

// ApplyEnvOverrides lets secrets live outside the YAML file.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if token := strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")); token != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = token
	}
	if chat := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); chat != "" && cfg.Telegram.ChatID == "" {
		cfg.Telegram.ChatID = chat
	}
	if dsn := strings.TrimSpace(os.Getenv("TIMESCALE_DSN")); dsn != "" && cfg.Timescale.DSN == "" {
		cfg.Timescale.DSN = dsn
	}
}
