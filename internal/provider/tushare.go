package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"tusync/internal/domain"
)

// Compile-time interface check.
var _ Client = (*TushareClient)(nil)

// apiDateLayout is the compact YYYYMMDD form the Tushare API speaks.
const apiDateLayout = "20060102"

const dailyFields = "ts_code,trade_date,open,high,low,close,pre_close,change,pct_chg,vol,amount"
const basicFields = "ts_code,name,list_date,delist_date,list_status"

// TushareClient calls the Tushare pro HTTP API. Every endpoint is a POST of
// {api_name, token, params, fields} to a single URL; errors come back as a
// non-zero code plus a human-readable message.
type TushareClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewTushareClient creates a client for the given token and API URL. An
// empty url selects the public endpoint.
func NewTushareClient(token, url string, timeout time.Duration) *TushareClient {
	if url == "" {
		url = "http://api.tushare.pro"
	}
	return &TushareClient{
		token:   token,
		baseURL: url,
		http:    &http.Client{Timeout: timeout},
	}
}

// apiRequest is the wire shape of a Tushare call.
type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

// apiResponse is the wire shape of a Tushare response. Items is a row-major
// table whose columns are named by Fields.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string          `json:"fields"`
		Items  [][]json.RawMessage `json:"items"`
	} `json:"data"`
}

// FetchDaily retrieves daily bars for the scope in one API call. A
// single-date all-instrument scope maps to trade_date; an explicit
// instrument set maps to ts_code + start_date/end_date.
func (c *TushareClient) FetchDaily(ctx context.Context, scope Scope) ([]domain.Bar, error) {
	params := map[string]string{}
	if scope.SingleDate() && scope.AllInstruments() {
		params["trade_date"] = scope.Start.Format(apiDateLayout)
	} else {
		if !scope.AllInstruments() {
			params["ts_code"] = strings.Join(scope.TsCodes, ",")
		}
		params["start_date"] = scope.Start.Format(apiDateLayout)
		params["end_date"] = scope.End.Format(apiDateLayout)
	}

	resp, err := c.call(ctx, "daily", params, dailyFields)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(resp.Data.Items))
	col := columnIndex(resp.Data.Fields)
	for _, item := range resp.Data.Items {
		bar, err := decodeBar(item, col)
		if err != nil {
			return nil, &Error{Kind: KindMalformed, Msg: "decoding daily row", Err: err}
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// ListInstruments retrieves the catalog of listed instruments.
func (c *TushareClient) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	resp, err := c.call(ctx, "stock_basic", map[string]string{"list_status": "L"}, basicFields)
	if err != nil {
		return nil, err
	}

	col := columnIndex(resp.Data.Fields)
	instruments := make([]domain.Instrument, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		inst, err := decodeInstrument(item, col)
		if err != nil {
			return nil, &Error{Kind: KindMalformed, Msg: "decoding stock_basic row", Err: err}
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// call performs one POST round trip and maps every failure mode onto the
// error taxonomy.
func (c *TushareClient) call(ctx context.Context, apiName string, params map[string]string, fields string) (*apiResponse, error) {
	body, err := json.Marshal(apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Msg: "encoding request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Msg: "building request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindThrottled, Msg: "HTTP 429"}
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Msg: "HTTP " + httpResp.Status}
	case httpResp.StatusCode != http.StatusOK:
		return nil, &Error{Kind: KindConnection, Msg: "HTTP " + httpResp.Status}
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Msg: "reading response", Err: err}
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Kind: KindMalformed, Msg: "decoding response", Err: err}
	}

	if resp.Code != 0 {
		return nil, classifyAPIError(resp.Code, resp.Msg)
	}
	return &resp, nil
}

// classifyTransportError maps http.Client failures onto the taxonomy.
func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Msg: "request timed out", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Msg: "request timed out", Err: err}
	}
	return &Error{Kind: KindConnection, Msg: "request failed", Err: err}
}

// classifyAPIError maps a non-zero Tushare response code onto the taxonomy
// by message pattern. The API reports rate limiting, point exhaustion and
// token problems all through the same code/msg channel.
func classifyAPIError(code int, msg string) *Error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "每分钟"),
		strings.Contains(msg, "每小时"),
		strings.Contains(msg, "每天"),
		strings.Contains(msg, "积分"),
		strings.Contains(msg, "频率"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "too many requests"):
		return &Error{Kind: KindThrottled, Msg: fmt.Sprintf("code %d: %s", code, msg)}
	case strings.Contains(lower, "token"),
		strings.Contains(msg, "权限"),
		strings.Contains(lower, "unauthorized"):
		return &Error{Kind: KindAuth, Msg: fmt.Sprintf("code %d: %s", code, msg)}
	default:
		return &Error{Kind: KindMalformed, Msg: fmt.Sprintf("code %d: %s", code, msg)}
	}
}

// ---------------------------------------------------------------------------
// Row decoding
// ---------------------------------------------------------------------------

func columnIndex(fields []string) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	return idx
}

func decodeBar(item []json.RawMessage, col map[string]int) (domain.Bar, error) {
	var bar domain.Bar
	var err error

	if bar.TsCode, err = cellString(item, col, "ts_code"); err != nil {
		return bar, err
	}
	dateStr, err := cellString(item, col, "trade_date")
	if err != nil {
		return bar, err
	}
	if bar.TradeDate, err = time.Parse(apiDateLayout, dateStr); err != nil {
		return bar, fmt.Errorf("parsing trade_date %q: %w", dateStr, err)
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open}, {"high", &bar.High}, {"low", &bar.Low},
		{"close", &bar.Close}, {"pre_close", &bar.PreClose},
		{"change", &bar.Change}, {"pct_chg", &bar.PctChg},
		{"vol", &bar.Volume}, {"amount", &bar.Amount},
	} {
		if *f.dst, err = cellFloat(item, col, f.name); err != nil {
			return bar, err
		}
	}
	return bar, nil
}

func decodeInstrument(item []json.RawMessage, col map[string]int) (domain.Instrument, error) {
	var inst domain.Instrument
	var err error

	if inst.TsCode, err = cellString(item, col, "ts_code"); err != nil {
		return inst, err
	}
	if inst.Name, err = cellString(item, col, "name"); err != nil {
		return inst, err
	}
	status, err := cellString(item, col, "list_status")
	if err != nil {
		return inst, err
	}
	inst.Status = domain.ListStatus(status)

	if s, err := cellString(item, col, "list_date"); err == nil && s != "" {
		if inst.ListDate, err = time.Parse(apiDateLayout, s); err != nil {
			return inst, fmt.Errorf("parsing list_date %q: %w", s, err)
		}
	}
	if s, err := cellString(item, col, "delist_date"); err == nil && s != "" {
		if inst.DelistDate, err = time.Parse(apiDateLayout, s); err != nil {
			return inst, fmt.Errorf("parsing delist_date %q: %w", s, err)
		}
	}
	return inst, nil
}

func cellString(item []json.RawMessage, col map[string]int, name string) (string, error) {
	i, ok := col[name]
	if !ok || i >= len(item) {
		return "", fmt.Errorf("missing field %q", name)
	}
	if string(item[i]) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(item[i], &s); err != nil {
		return "", fmt.Errorf("field %q: %w", name, err)
	}
	return s, nil
}

func cellFloat(item []json.RawMessage, col map[string]int, name string) (float64, error) {
	i, ok := col[name]
	if !ok || i >= len(item) {
		return 0, fmt.Errorf("missing field %q", name)
	}
	if string(item[i]) == "null" {
		return 0, nil
	}
	var v float64
	if err := json.Unmarshal(item[i], &v); err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return v, nil
}
