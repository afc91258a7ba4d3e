package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hunterwarburton/solportal/internal/auth"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/imageutils"
	"github.com/hunterwarburton/solportal/internal/session"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	TelegramToken    string
	DevnetRPCURL     string
	MainnetRPCURL    string
	WalletPrivateKey string
	MetadataRelayURL string
	PlaceholderImage string
	HTTPAddr         string
	AdminUserIDs     string
	AllowedUserIDs   string
	AuthTicketTTL    time.Duration
	SessionTTL       time.Duration
	ImageCacheTTL    time.Duration
	RestrictMainnet  bool
	LogLevel         string
}

// LoadDotEnv reads .env files into the environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken:    os.Getenv("TG_BOT_TOKEN"),
		DevnetRPCURL:     getEnvWithDefault("SOLANA_DEVNET_RPC_URL", sol.DefaultDevnetEndpoint),
		MainnetRPCURL:    getEnvWithDefault("SOLANA_MAINNET_RPC_URL", sol.DefaultMainnetEndpoint),
		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		MetadataRelayURL: os.Getenv("METADATA_RELAY_URL"),
		PlaceholderImage: getEnvWithDefault("PLACEHOLDER_IMAGE_URL", imageutils.DefaultPlaceholderURL),
		HTTPAddr:         getEnvWithDefault("HTTP_ADDR", ":8080"),
		AdminUserIDs:     os.Getenv("ADMIN_USER_IDS"),
		AllowedUserIDs:   os.Getenv("ALLOWED_USER_IDS"),
		LogLevel:         getEnvWithDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.AuthTicketTTL, err = getDuration("AUTH_TICKET_TTL", auth.DefaultTicketTTL); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", session.DefaultIdleTTL); err != nil {
		return nil, err
	}
	if cfg.ImageCacheTTL, err = getDuration("IMAGE_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RestrictMainnet, err = getBool("RESTRICT_MAINNET", true); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Endpoints maps each network to its RPC URL.
func (c *Config) Endpoints() map[core.Network]string {
	return map[core.Network]string{
		core.Devnet:  c.DevnetRPCURL,
		core.Mainnet: c.MainnetRPCURL,
	}
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
