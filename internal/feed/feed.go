// Package feed bridges an exchange-style WebSocket tick stream into the
// orchestration loop. It is optional: when no feed URL is configured,
// ticks arrive only through the HTTP injection endpoint.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/model"
)

// Sink receives decoded ticks. Implemented by paper.Loop.
type Sink interface {
	PushTick(ctx context.Context, t model.Tick) error
}

// wireTick is the JSON tick frame read off the feed connection.
type wireTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// Client maintains one WebSocket connection to a tick feed, decoding
// frames and pushing them into the sink. Reconnects with backoff until
// the context is cancelled.
type Client struct {
	url  string
	sink Sink
}

// NewClient creates a feed client for url.
func NewClient(url string, sink Sink) *Client {
	return &Client{url: url, sink: sink}
}

// Run connects and consumes until ctx is cancelled. Must be called in a
// goroutine.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			slog.Warn("feed dial failed", "url", c.url, "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		slog.Info("feed connected", "url", c.url)
		backoff = time.Second

		// Close the connection when ctx ends so ReadMessage unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		c.consume(ctx, conn)
		close(done)
		conn.Close()
	}
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("feed read failed", "err", err)
			}
			return
		}

		var wt wireTick
		if err := json.Unmarshal(data, &wt); err != nil {
			slog.Warn("feed frame rejected", "err", err)
			continue
		}
		if wt.Symbol == "" || !wt.Price.IsPositive() {
			continue
		}

		ts := time.Now().UTC()
		if wt.Timestamp > 0 {
			ts = time.UnixMilli(wt.Timestamp).UTC()
		}

		tick := model.Tick{Symbol: wt.Symbol, Price: wt.Price, Timestamp: ts}
		if err := c.sink.PushTick(ctx, tick); err != nil {
			return
		}
	}
}
