package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"papertrade/internal/util"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// barsClient is the subset of *marketdata.Client used here.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// lookback bounds how far back a bar request reaches per granularity.
var lookback = map[Granularity]time.Duration{
	Hour: 5 * 24 * time.Hour,
	Day:  14 * 24 * time.Hour,
}

// AlpacaSource prices symbols from the close of the latest Alpaca bar.
type AlpacaSource struct {
	client  barsClient
	feed    string
	limiter *util.RateLimiter
	log     *slog.Logger
	now     func() time.Time
}

// AlpacaOptions configures NewAlpacaSource.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string
	RateLimitPerMin int
	RateLimitBurst  int
}

// NewAlpacaSource creates an AlpacaSource with the given credentials.
func NewAlpacaSource(opts AlpacaOptions, log *slog.Logger) *AlpacaSource {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	return newAlpacaSource(marketdata.NewClient(co), opts, log)
}

func newAlpacaSource(client barsClient, opts AlpacaOptions, log *slog.Logger) *AlpacaSource {
	if log == nil {
		log = slog.Default()
	}
	feed := opts.Feed
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaSource{
		client:  client,
		feed:    feed,
		limiter: util.NewRateLimiterBurst(opts.RateLimitPerMin, opts.RateLimitBurst),
		log:     log.With("source", "alpaca"),
		now:     time.Now,
	}
}

// Name returns "alpaca".
func (s *AlpacaSource) Name() string { return "alpaca" }

// LastPrice fetches recent bars at g and returns the newest close. Transient
// API errors are retried with backoff.
func (s *AlpacaSource) LastPrice(ctx context.Context, symbol string, g Granularity) (Quote, error) {
	tf, ok := timeFrame(g)
	if !ok {
		return Quote{}, fmt.Errorf("alpaca: unsupported granularity %q", g)
	}
	symbol = strings.ToUpper(symbol)
	end := s.now().UTC()
	req := marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     end.Add(-lookback[g]),
		End:       end,
		Feed:      marketdata.Feed(s.feed),
	}

	var bars []marketdata.Bar
	err := util.Retry(ctx, 3, 250*time.Millisecond, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = s.getBars(ctx, symbol, req)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return Quote{}, fmt.Errorf("alpaca bars %s %s: %w", symbol, g, err)
	}
	if len(bars) == 0 {
		return Quote{}, ErrNoPrice
	}

	last := bars[0]
	for _, b := range bars[1:] {
		if b.Timestamp.After(last.Timestamp) {
			last = b
		}
	}
	return Quote{
		Symbol:      symbol,
		Price:       decimal.NewFromFloat(last.Close),
		Granularity: g,
		Timestamp:   last.Timestamp.UTC(),
	}, nil
}

// getBars runs the blocking client call so that ctx can abandon it.
func (s *AlpacaSource) getBars(ctx context.Context, symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	type result struct {
		bars []marketdata.Bar
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		bars, err := s.client.GetBars(symbol, req)
		ch <- result{bars, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.bars, r.err
	}
}

func timeFrame(g Granularity) (marketdata.TimeFrame, bool) {
	switch g {
	case Hour:
		return marketdata.OneHour, true
	case Day:
		return marketdata.OneDay, true
	}
	return marketdata.TimeFrame{}, false
}
