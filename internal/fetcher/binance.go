package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"fundingwatch/internal/config"
	"fundingwatch/internal/domain"
	"fundingwatch/internal/metrics"
)

// BinanceOptions parameterise the Binance futures client.
type BinanceOptions struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
	// RateLimit caps price lookups per second; zero disables limiting.
	RateLimit float64
	Metrics   *metrics.Metrics
}

// Binance reads funding rates and prices through the Binance futures REST API.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	cli     *futures.Client
	limiter *rate.Limiter
}

// NewBinance constructs a Binance futures fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	cli := futures.NewClient(opts.APIKey, opts.SecretKey)
	cli.HTTPClient = &http.Client{Timeout: opts.Timeout}
	if base := strings.TrimRight(opts.BaseURL, "/"); base != "" {
		cli.BaseURL = base
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_fetcher").Logger(),
		cli:     cli,
		limiter: limiter,
	}
}

// FetchSnapshot returns the premium index of every listed contract.
func (b *Binance) FetchSnapshot(ctx context.Context) ([]domain.RateRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	res, err := b.cli.NewPremiumIndexService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: premium index: %v", domain.ErrFetchTransient, err)
	}

	res = lo.Filter(res, func(idx *futures.PremiumIndex, _ int) bool {
		return idx != nil && idx.Symbol != ""
	})
	return collectRecords(res, premiumIndexRecord, config.SourceBinance, b.opts.Metrics, b.logger)
}

// FetchPrice returns the latest ticker price for symbol.
func (b *Binance) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: rate limit wait: %v", domain.ErrFetchTransient, err)
	}

	prices, err := b.cli.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: ticker %s: %v", domain.ErrFetchTransient, symbol, err)
	}
	for _, p := range prices {
		if p != nil && p.Symbol == symbol {
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				return decimal.Decimal{}, fmt.Errorf("%w: parse price for %s: %v", domain.ErrFetchTransient, symbol, err)
			}
			return price, nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("%w: no price for %s", domain.ErrFetchTransient, symbol)
}

// Ping calls the exchange connectivity endpoint.
func (b *Binance) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	if err := b.cli.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrFetchTransient, err)
	}
	return nil
}

func premiumIndexRecord(idx *futures.PremiumIndex) (domain.RateRecord, error) {
	rate, err := decimal.NewFromString(idx.LastFundingRate)
	if err != nil {
		return domain.RateRecord{}, fmt.Errorf("parse rate for %s: %w", idx.Symbol, err)
	}
	rec := domain.RateRecord{Symbol: idx.Symbol, Rate: rate}
	if price, err := decimal.NewFromString(idx.MarkPrice); err == nil {
		rec.MarkPrice = price
	}
	if idx.NextFundingTime > 0 {
		rec.NextEventTime = time.UnixMilli(idx.NextFundingTime).UTC()
	}
	return rec, nil
}

var _ Source = (*Binance)(nil)
