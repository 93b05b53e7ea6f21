package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/earnings-feed/internal/model"
)

// GetHistoricalMetrics fetches historical figures for ticker around date.
func (c *Client) GetHistoricalMetrics(ctx context.Context, ticker, date string) (*model.HistoricalMetrics, error) {
	var raw json.RawMessage
	if err := c.get(ctx, tickerPath("/historical", ticker), dateQuery(date), &raw); err != nil {
		return nil, fmt.Errorf("get historical metrics %s: %w", ticker, err)
	}
	return &model.HistoricalMetrics{Ticker: strings.ToUpper(ticker), Date: date, Raw: raw}, nil
}

// PutHistoricalMetrics replaces historical figures for ticker around date.
func (c *Client) PutHistoricalMetrics(ctx context.Context, ticker, date string, doc json.RawMessage) error {
	if err := c.put(ctx, tickerPath("/historical", ticker), dateQuery(date), doc); err != nil {
		return fmt.Errorf("put historical metrics %s: %w", ticker, err)
	}
	return nil
}

// GetCompanyConfig fetches the scraping config for ticker.
func (c *Client) GetCompanyConfig(ctx context.Context, ticker string) (*model.CompanyConfig, error) {
	var raw json.RawMessage
	if err := c.get(ctx, tickerPath("/configs", ticker), nil, &raw); err != nil {
		return nil, fmt.Errorf("get company config %s: %w", ticker, err)
	}
	return &model.CompanyConfig{Ticker: strings.ToUpper(ticker), Raw: raw}, nil
}

// PutCompanyConfig replaces the scraping config for ticker.
func (c *Client) PutCompanyConfig(ctx context.Context, ticker string, doc json.RawMessage) error {
	if err := c.put(ctx, tickerPath("/configs", ticker), nil, doc); err != nil {
		return fmt.Errorf("put company config %s: %w", ticker, err)
	}
	return nil
}

func dateQuery(date string) url.Values {
	if date == "" {
		return nil
	}
	return url.Values{"date": []string{date}}
}
