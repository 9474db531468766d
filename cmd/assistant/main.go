package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/aggregate"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/bot"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/budget"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/clarify"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/engine"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/reminder"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/schema"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/storage"
	"github.com/guanpeibj/family-ai-assistant-sub001/internal/understand"
	"github.com/guanpeibj/family-ai-assistant-sub001/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			DBName:       cfg.Database.DBName,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
		}
		store, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Bootstrap the configured household and linked accounts
	seed := engine.HouseholdSeed{Slug: cfg.Household.Slug}
	for _, m := range cfg.Household.Members {
		seed.Members = append(seed.Members, engine.MemberSeed{
			Key:      m.Key,
			Name:     m.Name,
			Accounts: m.Accounts,
		})
	}
	if err := engine.Bootstrap(context.Background(), store, seed, logger); err != nil {
		logger.Fatal("Failed to bootstrap household", zap.Error(err))
	}

	// Understanding: GPT extraction with a keyword fallback
	gpt := understand.NewGPTAdapter(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Temperature,
		logger,
	)
	adapter := understand.NewResilient(gpt, understand.NewKeywordAdapter(), logger)

	// Clarification sessions
	sessions := clarify.NewStore(cfg.Clarify.SessionTTL)
	stopSweeper := sessions.StartSweeper(cfg.Clarify.SweepInterval)
	defer stopSweeper()

	candidates := engine.NewHouseholdCandidates(store, cfg.Household.Slug)
	machine := clarify.NewMachine(schema.NewRegistry(), adapter, sessions, candidates, logger)

	// Aggregation, budgets, reminders
	agg := aggregate.NewEngine(store, logger)
	monitor := budget.NewMonitor(cfg.Budget.WarnRatio)
	scheduler := reminder.NewScheduler(store, logger)

	eng := engine.New(engine.Config{
		HouseholdSlug:   cfg.Household.Slug,
		MonthlyBudget:   cfg.Budget.MonthlyTotal,
		CategoryBudgets: cfg.Budget.Categories,
	}, machine, store, agg, monitor, scheduler, logger)

	// Initialize bot
	b, err := bot.New(cfg.Telegram.Token, eng, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	// Deliver due reminders back through the bot
	dispatcher := reminder.NewDispatcher(scheduler, b, cfg.Reminder.PollInterval, logger)
	if err := dispatcher.Start(); err != nil {
		logger.Fatal("Failed to start reminder dispatcher", zap.Error(err))
	}
	defer dispatcher.Stop()

	// Start the bot
	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}
