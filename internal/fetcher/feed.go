package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fundingwatch/internal/config"
	"fundingwatch/internal/domain"
	"fundingwatch/internal/metrics"
)

const defaultFeedURL = "https://fapi.binance.com/fapi/v1/premiumIndex"

// FeedOptions parameterise the HTTP feed client.
type FeedOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
	Metrics   *metrics.Metrics
}

// Feed polls a premium-index style JSON endpoint over plain HTTP.
type Feed struct {
	opts   FeedOptions
	logger zerolog.Logger
	client *http.Client
}

// NewFeed constructs a feed client.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = defaultFeedURL
	}

	return &Feed{
		opts:   opts,
		logger: logger.With().Str("component", "feed_fetcher").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// FetchSnapshot retrieves every record on the feed.
func (f *Feed) FetchSnapshot(ctx context.Context) ([]domain.RateRecord, error) {
	payload, err := f.get(ctx, "")
	if err != nil {
		return nil, err
	}

	var items []feedItem
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, fmt.Errorf("%w: decode feed: %v", domain.ErrFetchTransient, err)
	}

	records, err := collectRecords(items, feedItem.record, config.SourceHTTP, f.opts.Metrics, f.logger)
	if err != nil {
		return nil, err
	}

	f.logger.Debug().Int("records", len(records)).Msg("feed snapshot fetched")
	return records, nil
}

// FetchPrice returns the mark price the feed reports for symbol.
func (f *Feed) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: symbol is required", domain.ErrInvalidInput)
	}

	payload, err := f.get(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}

	var item feedItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode price for %s: %v", domain.ErrFetchTransient, symbol, err)
	}
	if item.MarkPrice == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: no price for %s", domain.ErrFetchTransient, symbol)
	}

	price, err := decimal.NewFromString(item.MarkPrice)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse price for %s: %v", domain.ErrFetchTransient, symbol, err)
	}
	return price, nil
}

// Ping issues the feed request and discards the body.
func (f *Feed) Ping(ctx context.Context) error {
	_, err := f.get(ctx, "")
	return err
}

func (f *Feed) get(ctx context.Context, symbol string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	endpoint, err := url.Parse(f.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if symbol != "" {
		q := endpoint.Query()
		q.Set("symbol", symbol)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFetchTransient, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read feed body: %v", domain.ErrFetchTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	return payload, nil
}

type feedItem struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

func (i feedItem) record() (domain.RateRecord, error) {
	if i.Symbol == "" {
		return domain.RateRecord{}, errors.New("feed record without symbol")
	}

	rate, err := decimal.NewFromString(i.LastFundingRate)
	if err != nil {
		return domain.RateRecord{}, fmt.Errorf("parse rate for %s: %w", i.Symbol, err)
	}

	rec := domain.RateRecord{Symbol: i.Symbol, Rate: rate}
	if i.MarkPrice != "" {
		if price, err := decimal.NewFromString(i.MarkPrice); err == nil {
			rec.MarkPrice = price
		}
	}
	if i.NextFundingTime > 0 {
		rec.NextEventTime = time.UnixMilli(i.NextFundingTime).UTC()
	}
	return rec, nil
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("%w: feed error (%d): %s", domain.ErrFetchTransient, status, apiErr.Msg)
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: feed error (%d): %s", domain.ErrFetchTransient, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: feed error (%d)", domain.ErrFetchTransient, status)
}

var _ Source = (*Feed)(nil)
