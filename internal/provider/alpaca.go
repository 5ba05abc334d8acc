package provider

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tusync/internal/domain"
)

// Compile-time interface check.
var _ Client = (*AlpacaClient)(nil)

// AlpacaClient serves US-market instrument sets through the Alpaca
// market-data API. Alpaca is keyed by symbol rather than by date, so
// all-instrument date scopes are not expressible; plans for this provider
// must use explicit instrument sets.
type AlpacaClient struct {
	md      *marketdata.Client
	trading *alpaca.Client
}

// NewAlpacaClient creates an AlpacaClient with the given credentials.
// dataURL and baseURL override the market-data and trading endpoints when
// non-empty.
func NewAlpacaClient(apiKey, apiSecret, dataURL, baseURL string) *AlpacaClient {
	mdOpts := marketdata.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if dataURL != "" {
		mdOpts.BaseURL = dataURL
	}
	tradingOpts := alpaca.ClientOpts{APIKey: apiKey, APISecret: apiSecret}
	if baseURL != "" {
		tradingOpts.BaseURL = baseURL
	}
	return &AlpacaClient{
		md:      marketdata.NewClient(mdOpts),
		trading: alpaca.NewClient(tradingOpts),
	}
}

// FetchDaily retrieves daily bars for the scope's instruments in one
// GetMultiBars call.
func (c *AlpacaClient) FetchDaily(ctx context.Context, scope Scope) ([]domain.Bar, error) {
	if scope.AllInstruments() {
		return nil, &Error{Kind: KindMalformed, Msg: "alpaca provider requires an explicit instrument set"}
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyAlpacaError(err)
	}

	// Alpaca's End is exclusive of the following day's session; pad to the
	// end of the last requested day.
	multiBars, err := c.md.GetMultiBars(scope.TsCodes, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     scope.Start,
		End:       scope.End.Add(24*time.Hour - time.Second),
	})
	if err != nil {
		return nil, classifyAlpacaError(err)
	}

	var bars []domain.Bar
	for symbol, symBars := range multiBars {
		var prevClose float64
		for _, ab := range symBars {
			bar := domain.Bar{
				TsCode:    strings.ToUpper(symbol),
				TradeDate: domain.Midnight(ab.Timestamp),
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				PreClose:  prevClose,
				Volume:    float64(ab.Volume),
				Amount:    ab.VWAP * float64(ab.Volume),
			}
			if prevClose > 0 {
				bar.Change = ab.Close - prevClose
				bar.PctChg = bar.Change / prevClose * 100
			}
			prevClose = ab.Close
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

// ListInstruments retrieves active, tradable US equities from the Alpaca
// assets endpoint.
func (c *AlpacaClient) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyAlpacaError(err)
	}

	status := "active"
	assets, err := c.trading.GetAssets(alpaca.GetAssetsRequest{Status: status})
	if err != nil {
		return nil, classifyAlpacaError(err)
	}

	var instruments []domain.Instrument
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		instruments = append(instruments, domain.Instrument{
			TsCode: a.Symbol,
			Name:   a.Name,
			Status: domain.Listed,
		})
	}
	return instruments, nil
}

// classifyAlpacaError maps SDK failures onto the error taxonomy. The SDK
// surfaces HTTP status through the error message, so classification is by
// pattern, like the Tushare msg channel.
func classifyAlpacaError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Msg: "request timed out", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Msg: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindConnection, Msg: "request cancelled", Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return &Error{Kind: KindThrottled, Msg: "provider throttled", Err: err}
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "access key"):
		return &Error{Kind: KindAuth, Msg: "authentication failed", Err: err}
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "422"),
		strings.Contains(msg, "invalid"):
		return &Error{Kind: KindMalformed, Msg: "provider rejected request", Err: err}
	default:
		return &Error{Kind: KindConnection, Msg: "request failed", Err: err}
	}
}
