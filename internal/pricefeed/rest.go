package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tychomaker/divergence-bot/internal/logging"
)

const restTimeout = 5 * time.Second

// RESTFeed polls a ticker endpoint shaped like the Binance spot API:
// GET {source}/ticker/price?symbol={BASE}{QUOTE} -> {"price": "2000.12"}.
type RESTFeed struct {
	source string
	symbol string
	client *http.Client
	logger logging.Logger
}

func NewRESTFeed(source, baseSymbol, quoteSymbol string, logger logging.Logger) *RESTFeed {
	return &RESTFeed{
		source: strings.TrimRight(source, "/"),
		symbol: strings.ToUpper(baseSymbol) + strings.ToUpper(quoteSymbol),
		client: &http.Client{Timeout: restTimeout},
		logger: logger,
	}
}

func (f *RESTFeed) Get(ctx context.Context) (float64, error) {
	endpoint := fmt.Sprintf("%s/ticker/price?symbol=%s", f.source, f.symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	res, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price from %s: %w", f.source, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price source returned status %d for %s", res.StatusCode, f.symbol)
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}

	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q: %w", payload.Price, err)
	}

	f.logger.Debug("Price fetched", "symbol", f.symbol, "price", price)
	return price, nil
}
