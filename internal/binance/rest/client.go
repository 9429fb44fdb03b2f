package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Client talks to the Binance public market-data REST API. Only unsigned
// endpoints are used; no API key is ever attached.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Kline is one closed or in-progress candle as returned by /api/v3/klines.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// Ticker24h is the rolling 24h statistics for a symbol.
type Ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
}

// Klines fetches up to limit candles for symbol at the given interval,
// oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var rows [][]json.RawMessage
	if err := c.get(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
		}
		var k Kline
		var err error
		if err = json.Unmarshal(row[0], &k.OpenTime); err == nil {
			if k.Open, err = rawFloat(row[1]); err == nil {
				if k.High, err = rawFloat(row[2]); err == nil {
					if k.Low, err = rawFloat(row[3]); err == nil {
						if k.Close, err = rawFloat(row[4]); err == nil {
							if k.Volume, err = rawFloat(row[5]); err == nil {
								err = json.Unmarshal(row[6], &k.CloseTime)
							}
						}
					}
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("parse kline row: %w", err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// Ticker fetches the 24h rolling statistics for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker24h, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var t Ticker24h
	if err := c.get(ctx, "/api/v3/ticker/24hr", q, &t); err != nil {
		return Ticker24h{}, err
	}
	return t, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// rawFloat parses a JSON value that Binance encodes as a quoted decimal.
func rawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	err := json.Unmarshal(raw, &f)
	return f, err
}
