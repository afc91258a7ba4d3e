package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hunterwarburton/solportal/internal/airdrop"
	"github.com/hunterwarburton/solportal/internal/auth"
	"github.com/hunterwarburton/solportal/internal/config"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/httpapi"
	"github.com/hunterwarburton/solportal/internal/imageutils"
	"github.com/hunterwarburton/solportal/internal/logger"
	"github.com/hunterwarburton/solportal/internal/session"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/telegram"
	"github.com/hunterwarburton/solportal/internal/tokens"
	"github.com/hunterwarburton/solportal/internal/transfer"
	"github.com/hunterwarburton/solportal/internal/wallet"
	"github.com/jonboulle/clockwork"
	"github.com/valyala/fasthttp"
)

func main() {
	// Parse command line flags
	debug := flag.Bool("debug", false, "Enable debug logging")
	envFile := flag.String("env", "", "Path to a .env file (default .env)")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	dotEnvErr := config.LoadDotEnv(envFiles...)

	cfg, err := config.Load()
	if err != nil {
		logger.Init(*debug)
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}

	logger.Init(*debug, cfg.LogLevel)
	defer logger.Sync()

	if dotEnvErr != nil {
		logger.Warn("Error loading .env file: %v", dotEnvErr)
	}
	logger.Info("Starting solportal...")
	if logger.IsDebugEnabled() {
		logger.Debug("Configuration loaded: TelegramToken=%v, Devnet=%s, Mainnet=%s, Wallet=%v, Relay=%q, HTTP=%s",
			cfg.TelegramToken != "", cfg.DevnetRPCURL, cfg.MainnetRPCURL, cfg.WalletPrivateKey != "", cfg.MetadataRelayURL, cfg.HTTPAddr)
	}

	// Initialize services
	clock := clockwork.NewRealClock()
	gateway := sol.NewGateway(cfg.Endpoints())

	var w wallet.Wallet
	if cfg.WalletPrivateKey != "" {
		key, err := wallet.LoadPrivateKey(cfg.WalletPrivateKey)
		if err != nil {
			logger.Error("Failed to load WALLET_PRIVATE_KEY: %v", err)
			os.Exit(1)
		}
		kw := wallet.NewKeypairWallet(key)
		pk, _ := kw.PublicKey()
		logger.Info("Wallet loaded: %s", pk)
		w = kw
	} else {
		logger.Warn("WALLET_PRIVATE_KEY not set; wallet commands are disabled")
	}

	tokenService := tokens.NewService(gateway, clock)
	images := imageutils.NewResolver(imageutils.Config{
		RelayURL:       cfg.MetadataRelayURL,
		PlaceholderURL: cfg.PlaceholderImage,
		CacheTTL:       cfg.ImageCacheTTL,
	})
	requester := airdrop.NewRequester(gateway, airdrop.WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// HTTP API
	server := &fasthttp.Server{
		Handler: httpapi.WithRequestLog(httpapi.NewRouter(httpapi.NewHandler(tokenService, requester, images)).Handler),
		Name:    "solportal",
	}
	go func() {
		logger.Info("Starting HTTP server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(cfg.HTTPAddr); err != nil {
			logger.Error("HTTP server stopped: %v", err)
			cancel()
		}
	}()

	// Telegram bot
	if cfg.TelegramToken == "" {
		logger.Warn("TG_BOT_TOKEN not set; running the HTTP API only")
	} else {
		bot, err := telegram.NewBot(cfg.TelegramToken, telegram.Services{
			Sessions:  session.NewManager(cfg.SessionTTL, core.Devnet),
			Wallet:    w,
			Tokens:    tokenService,
			Images:    images,
			Transfers: transfer.NewOrchestrator(gateway, clock),
			Airdrops:  requester,
			Auth:      auth.NewAuthenticator(auth.NewTicketStore(cfg.AuthTicketTTL), clock),
			Policy:    auth.NewPolicyService(cfg.AdminUserIDs, cfg.AllowedUserIDs, cfg.RestrictMainnet),
		})
		if err != nil {
			logger.Error("Failed to initialize Telegram bot: %v", err)
			os.Exit(1)
		}
		logger.Info("Starting bot...")
		go bot.Start(ctx)
	}

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown: %v", err)
	}

	logger.Info("solportal has been shut down")
}
