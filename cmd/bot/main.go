package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/PromptStudioBot/internal/api"
	"github.com/digkill/PromptStudioBot/internal/config"
	"github.com/digkill/PromptStudioBot/internal/database"
	"github.com/digkill/PromptStudioBot/internal/freepik"
	"github.com/digkill/PromptStudioBot/internal/gate"
	"github.com/digkill/PromptStudioBot/internal/gemini"
	"github.com/digkill/PromptStudioBot/internal/models"
	"github.com/digkill/PromptStudioBot/internal/poller"
	"github.com/digkill/PromptStudioBot/internal/repository"
	"github.com/digkill/PromptStudioBot/internal/service"
	"github.com/digkill/PromptStudioBot/internal/storage"
	"github.com/digkill/PromptStudioBot/internal/telegram"
	"github.com/digkill/PromptStudioBot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, dialect, err := database.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, dialect); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	if cfg.BotUsername == "" {
		cfg.BotUsername = botAPI.Self.UserName
	}

	var sink storage.Sink
	if cfg.UseS3() {
		sink, err = storage.NewS3Sink(storage.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
	} else {
		sink, err = storage.NewLocalSink(cfg.FilesDir, cfg.BaseURL, "nb")
	}
	if err != nil {
		log.Fatalf("storage sink: %v", err)
	}

	geminiClient, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiTimeout, logr)
	if err != nil {
		log.Fatalf("gemini client: %v", err)
	}
	defer geminiClient.Close()
	freepikClient := freepik.NewClient(cfg.FreepikAPIKey, cfg.FreepikBaseURL, logr)

	userRepo := repository.NewUserRepository(db, dialect)
	generationRepo := repository.NewGenerationRepository(db)
	promptRepo := repository.NewPromptRepository(db)
	referralRepo := repository.NewReferralRepository(db, dialect)
	purchaseRepo := repository.NewPurchaseRepository(db, dialect)
	packRepo := repository.NewPackRepository(db, dialect)

	ledger := service.NewLedger(userRepo)
	referralService := service.NewReferralService(referralRepo, cfg.ReferralBonusCredits, cfg.BotUsername)
	userService := service.NewUserService(userRepo, referralService, cfg.StartBonusCredits, logr)
	promptService := service.NewPromptService(promptRepo)
	paymentService := service.NewPaymentService(packRepo, purchaseRepo, botAPI, logr)
	generationService := service.NewGenerationService(logr, ledger, generationRepo, userRepo, sink, poller.New(cfg.PollInterval, logr))
	generationService.RegisterImmediate(models.EngineNanoBanana, geminiClient)
	generationService.RegisterPolled(models.EngineMystic, freepikClient.Mystic(cfg.MysticTimeout))
	generationService.RegisterPolled(models.EngineSeedream, freepikClient.SeedreamEdit(cfg.SeedreamTimeout))

	if err := paymentService.EnsureDefaultPacks(ctx); err != nil {
		log.Fatalf("ensure default packs: %v", err)
	}

	checker := gate.NewChecker(gate.NewTelegramLookup(botAPI), cfg.ChannelUsername, cfg.OwnerID, cfg.GateEnabled(), logr)

	bot := telegram.NewBot(cfg, botAPI, logr, userService, generationService, ledger, paymentService, promptService, referralService, checker)
	httpServer := api.NewServer(cfg, logr, userService, generationService, ledger, paymentService, promptService, referralService, checker, bot)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Run(ctx); err != nil {
			logr.Error("http server stopped", "err", err)
			stop()
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
	stop()
	wg.Wait()
	logr.Info("shutdown complete")
}
