package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/penny/internal/api"
	"github.com/nugget/penny/internal/assistant"
	"github.com/nugget/penny/internal/auth"
	"github.com/nugget/penny/internal/chat"
	"github.com/nugget/penny/internal/config"
	"github.com/nugget/penny/internal/database"
	"github.com/nugget/penny/internal/finance"
	"github.com/nugget/penny/internal/mailer"
	"github.com/nugget/penny/internal/metrics"
	"github.com/nugget/penny/internal/portfolio"
	"github.com/nugget/penny/internal/preferences"
	"github.com/nugget/penny/internal/threads"
	"github.com/nugget/penny/internal/tools"
	"github.com/nugget/penny/internal/users"
)

// app holds the long-lived components shared by serve and ask. Each is
// constructed once and injected into its consumers.
type app struct {
	db          *sql.DB
	users       *users.Store
	preferences *preferences.Service
	holdings    *portfolio.Store
	accounts    *auth.Service
	chat        *chat.Orchestrator
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, logger: logger, metrics: metrics.New(reg)}

	if err := a.wire(cfg); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(cfg *config.Config) error {
	var err error
	if a.users, err = users.NewStore(a.db); err != nil {
		return err
	}
	threadStore, err := threads.NewStore(a.db)
	if err != nil {
		return err
	}
	prefStore, err := preferences.NewStore(a.db)
	if err != nil {
		return err
	}
	if a.holdings, err = portfolio.NewStore(a.db); err != nil {
		return err
	}

	provider := newAssistantClient(cfg, a.logger)
	directory := threads.NewDirectory(threadStore, a.users, provider, a.logger)
	a.preferences = preferences.NewService(prefStore, directory, provider, a.logger)

	var sender mailer.Sender = mailer.LogSender{Logger: a.logger}
	if cfg.SMTP.Configured() {
		sender = mailer.NewSMTP(mailer.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			StartTLS: cfg.SMTP.StartTLS,
			From:     cfg.SMTP.From,
		}, a.logger)
	}
	a.accounts = auth.NewService(a.users, sender, auth.Config{
		Secret:     cfg.Auth.SessionSecret,
		SessionTTL: time.Duration(cfg.Auth.SessionTTLMin) * time.Minute,
		ResetTTL:   time.Duration(cfg.Auth.ResetTokenTTLMin) * time.Minute,
		BcryptCost: cfg.Auth.BcryptCost,
		ClientURL:  cfg.Auth.ClientURL,
		Logger:     a.logger,
	})

	a.chat = chat.New(chat.Config{
		Provider:    provider,
		Threads:     directory,
		Preferences: a.preferences,
		Holdings:    a.holdings,
		Tools:       newToolRegistry(cfg, a.logger, a.metrics),
		Metrics:     a.metrics,
		Options: chat.Options{
			PollInterval:    cfg.Chat.PollInterval(),
			MaxPollAttempts: cfg.Chat.MaxPollAttempts,
			MaxToolRounds:   cfg.Chat.MaxToolRounds,
			Plain:           cfg.Chat.Plain,
		},
		Logger: a.logger,
	})
	return nil
}

func (a *app) server(cfg *config.Config, gatherer prometheus.Gatherer) *api.Server {
	return api.NewServer(api.Config{
		Address:     cfg.Listen.Address,
		Port:        cfg.Listen.Port,
		Chat:        a.chat,
		Accounts:    a.accounts,
		Guard:       auth.NewGuard(a.accounts.Tokens(), a.logger),
		Cookies:     auth.Cookies{Secure: cfg.Auth.CookieSecure, Domain: cfg.Auth.CookieDomain},
		SessionTTL:  a.accounts.Tokens().TTL(),
		Users:       a.users,
		Preferences: a.preferences,
		Holdings:    a.holdings,
		Metrics:     a.metrics,
		Gatherer:    gatherer,
		RateLimit: api.RateLimit{
			Requests: cfg.HTTP.RateLimit.Requests,
			Window:   time.Duration(cfg.HTTP.RateLimit.WindowSec) * time.Second,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		StaticDir:      cfg.HTTP.StaticDir,
		Logger:         a.logger,
	})
}

func (a *app) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func newAssistantClient(cfg *config.Config, logger *slog.Logger) *assistant.Client {
	return assistant.NewClient(assistant.Config{
		APIKey:      cfg.Assistant.APIKey,
		AssistantID: cfg.Assistant.AssistantID,
		BaseURL:     cfg.Assistant.BaseURL,
		Timeout:     time.Duration(cfg.Assistant.RequestTimeoutSec) * time.Second,
		Logger:      logger,
	})
}

// newToolRegistry builds the finance tool table. m may be nil.
func newToolRegistry(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *tools.Registry {
	market := finance.NewMarket(finance.MarketConfig{
		CoinMarketCapURL: cfg.Market.CoinMarketCapURL,
		CoinMarketCapKey: cfg.Market.CoinMarketCapKey,
		MarketstackURL:   cfg.Market.MarketstackURL,
		MarketstackKey:   cfg.Market.MarketstackKey,
		FrankfurterURL:   cfg.Market.FrankfurterURL,
		CacheTTL:         time.Duration(cfg.Market.CacheTTLSec) * time.Second,
		Logger:           logger,
	})
	reg := tools.NewFinanceRegistry(market, logger)
	if m != nil {
		reg.SetObserver(m)
	}
	return reg
}
