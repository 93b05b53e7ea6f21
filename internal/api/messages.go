package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/earnings-feed/internal/model"
)

// GetMessages fetches the current notification snapshot.
func (c *Client) GetMessages(ctx context.Context) ([]model.Message, error) {
	var resp MessagesResponse
	if err := c.get(ctx, "/messages", nil, &resp); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return MessagesToModel(resp.Messages), nil
}

// GetEarnings fetches the announcements scheduled for date (YYYY-MM-DD). An
// empty date lets the server pick today.
func (c *Client) GetEarnings(ctx context.Context, date string) ([]model.EarningsItem, error) {
	query := url.Values{}
	if date != "" {
		query.Set("date", date)
	}

	var resp EarningsResponse
	if err := c.get(ctx, "/earnings", query, &resp); err != nil {
		return nil, fmt.Errorf("get earnings %s: %w", date, err)
	}
	return resp.ToEarningsItems(), nil
}

func tickerPath(prefix, ticker string) string {
	return prefix + "/" + url.PathEscape(strings.ToUpper(ticker))
}
