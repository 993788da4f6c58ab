package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"fundingwatch/internal/alerting"
	"fundingwatch/internal/api"
	"fundingwatch/internal/chatbot"
	"fundingwatch/internal/config"
	"fundingwatch/internal/fetcher"
	"fundingwatch/internal/metrics"
	"fundingwatch/internal/scheduler"
	"fundingwatch/internal/service"
	"fundingwatch/internal/storage"
	"fundingwatch/internal/version"
)

const priceCacheItems = 1024

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource(m *metrics.Metrics) fetcher.Source {
	feed := a.Config.Feed
	if feed.Source == config.SourceBinance {
		return fetcher.NewBinance(fetcher.BinanceOptions{
			BaseURL:   feed.Binance.BaseURL,
			APIKey:    feed.Binance.APIKey,
			SecretKey: feed.Binance.SecretKey,
			Timeout:   feed.RequestTimeout,
			RateLimit: feed.Binance.RateLimit,
			Metrics:   m,
		}, a.Logger)
	}
	return fetcher.NewFeed(fetcher.FeedOptions{
		URL:       feed.URL,
		Timeout:   feed.RequestTimeout,
		UserAgent: feed.UserAgent,
		Metrics:   m,
	}, a.Logger)
}

// newNotifier picks the outbound channel. The chat bot wins when it is
// enabled because it already holds a Telegram session.
func (a *App) newNotifier() (alerting.Notifier, *chatbot.Bot, error) {
	if a.Config.Bot.Enabled {
		b, err := chatbot.New(a.Config.Bot.Token, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		return alerting.NewTelegramNotifier(tg.BotToken, tg.APIBase, a.Config.Alerting.SendTimeout, a.Logger), nil, nil
	}
	return alerting.NewLogNotifier(a.Logger), nil, nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// allowedChats returns the chats that may run operator commands. The
// operator chat is always included once any restriction is configured.
func (a *App) allowedChats() []string {
	allowed := a.Config.Bot.AllowedChatIDs
	if len(allowed) == 0 {
		return nil
	}
	allowed = append(append([]string(nil), allowed...), a.Config.Alerting.OperatorChatID)
	return lo.Compact(lo.Uniq(allowed))
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	source := a.newSource(m)
	prices, err := fetcher.NewCachedPrices(source, a.Config.Alerts.PriceCacheTTL, priceCacheItems)
	if err != nil {
		return err
	}
	defer prices.Close()

	notifier, bot, err := a.newNotifier()
	if err != nil {
		return err
	}

	sched := scheduler.New(a.Logger)
	svc, err := service.New(a.Config, sched, source, prices, store, notifier, m, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(svc.Run(gctx)) })
	if bot != nil {
		bot.Use(chatbot.NewCommands(svc, a.allowedChats(), a.Config.Bot.OpenAlerts, a.Logger))
		g.Go(func() error { return bot.Run(gctx) })
	}
	if addr := a.Config.HTTP.Addr; addr != "" {
		router := api.NewRouter(svc, m.Handler(), a.Config.HTTP.Token, a.Logger)
		g.Go(func() error { return api.Serve(gctx, addr, router, a.Logger) })
	}

	a.Logger.Info().
		Str("source", a.Config.Feed.Source).
		Str("driver", a.Config.Database.Driver).
		Bool("bot", bot != nil).
		Bool("api_auth", a.Config.HTTP.Token != "").
		Str("version", version.Version).
		Msg("starting monitoring service")

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Migrate applies schema migrations for the configured driver.
func (a *App) Migrate(ctx context.Context) error {
	db := a.Config.Database
	if db.Driver == config.DriverPostgres {
		if err := storage.Migrate(ctx, db.DSN); err != nil {
			return err
		}
		a.Logger.Info().Msg("postgres migrations applied")
		return nil
	}

	// sqlite migrates its schema on open
	store, err := storage.Open(ctx, db)
	if err != nil {
		return err
	}
	store.Close()
	a.Logger.Info().Str("path", db.Path).Msg("sqlite schema up to date")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ExportOptions hold parameters for exporting recorded rate changes.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Owner string
}

// AlertOptions describe a price alert created from the command line.
type AlertOptions struct {
	Owner     string
	Symbol    string
	Target    string
	Direction string
}

func (o ExportOptions) window(now time.Time) (time.Time, time.Time, error) {
	to := now.UTC()
	if o.To != nil {
		to = o.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if o.From != nil {
		from = o.From.UTC()
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be before to")
	}
	return from, to, nil
}
