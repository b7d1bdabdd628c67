// Package polymarket prepares buy orders against Polymarket markets mapped
// from matched rule labels. Orders are prepared, not executed: execution
// needs EIP-712 signing, which stays outside this service.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rewired-gh/quakeoracle/internal/config"
	"github.com/rewired-gh/quakeoracle/internal/logger"
	"github.com/rewired-gh/quakeoracle/internal/models"
)

// ErrNotMapped is returned when a rule label has no configured market
// mapping. A non-fatal outcome, reported to the caller, never raised as a
// cycle failure.
var ErrNotMapped = errors.New("no market mapping configured")

// defaultAskPrice is used when the orderbook cannot be fetched.
const defaultAskPrice = "0.99"

// usdcDecimals converts dollars to USDC base units.
const usdcDecimals = 1e6

// Client provides access to the Polymarket Gamma and CLOB APIs.
type Client struct {
	gammaAPIURL string
	clobAPIURL  string
	httpClient  *http.Client
	amountUSD   float64
	mappings    map[string]config.MarketMapping
}

// gammaMarket is a market record from the Gamma API.
type gammaMarket struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	Question     string `json:"question"`
	ConditionID  string `json:"conditionId"`
	ClobTokenIds string `json:"clobTokenIds"` // JSON string: "[\"token1\", \"token2\"]"
}

// book is the CLOB orderbook response.
type book struct {
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// NewClient creates a new Polymarket client from the trading configuration.
func NewClient(cfg config.TradingConfig) *Client {
	return &Client{
		gammaAPIURL: cfg.GammaAPIURL,
		clobAPIURL:  cfg.ClobAPIURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		amountUSD: cfg.AmountUSD,
		mappings:  cfg.Markets,
	}
}

// PrepareOrder builds an order ticket for the market mapped to the given
// rule label. Returns ErrNotMapped when the label has no mapping.
func (c *Client) PrepareOrder(ctx context.Context, label string) (*models.OrderTicket, error) {
	mapping, ok := c.mappings[label]
	if !ok {
		return nil, ErrNotMapped
	}

	market, err := c.lookupMarket(ctx, mapping.Slug)
	if err != nil {
		return nil, fmt.Errorf("failed to look up market %q: %w", mapping.Slug, err)
	}
	if market.ConditionID == "" {
		return nil, fmt.Errorf("market %q has no condition ID", mapping.Slug)
	}

	tokenID := c.resolveTokenID(market, mapping.OutcomeIndex)

	price, err := c.bestAsk(ctx, tokenID)
	if err != nil {
		logger.Warn("Failed to fetch orderbook for %s: %v, using default price", tokenID, err)
		price = defaultAskPrice
	}

	return &models.OrderTicket{
		Label:        label,
		Slug:         mapping.Slug,
		ConditionID:  market.ConditionID,
		TokenID:      tokenID,
		OutcomeIndex: mapping.OutcomeIndex,
		Side:         "BUY",
		Price:        price,
		SizeRaw:      int64(c.amountUSD * usdcDecimals),
		AmountUSD:    c.amountUSD,
		PreparedAt:   time.Now(),
	}, nil
}

// lookupMarket finds a market by slug on the Gamma API.
func (c *Client) lookupMarket(ctx context.Context, slug string) (*gammaMarket, error) {
	u, err := url.Parse(c.gammaAPIURL + "/markets")
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("slug", slug)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}
	for i := range markets {
		if markets[i].Slug == slug {
			return &markets[i], nil
		}
	}
	if len(markets) > 0 {
		// Gamma sometimes returns near-matches first; take the head like the
		// slug-substring fallback upstream.
		return &markets[0], nil
	}
	return nil, fmt.Errorf("no market found for slug %q", slug)
}

// resolveTokenID prefers the CLOB token list; falls back to the
// conditionId_index form when the list is absent or too short.
func (c *Client) resolveTokenID(market *gammaMarket, outcomeIndex int) string {
	if market.ClobTokenIds != "" {
		var tokens []string
		if err := json.Unmarshal([]byte(market.ClobTokenIds), &tokens); err == nil && outcomeIndex < len(tokens) {
			return tokens[outcomeIndex]
		}
	}
	return fmt.Sprintf("%s_%d", market.ConditionID, outcomeIndex)
}

// bestAsk returns the best ask price for a token from the CLOB book.
func (c *Client) bestAsk(ctx context.Context, tokenID string) (string, error) {
	u, err := url.Parse(c.clobAPIURL + "/book")
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("token_id", tokenID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var b book
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return "", fmt.Errorf("failed to decode book: %w", err)
	}
	if len(b.Asks) == 0 {
		return "", errors.New("empty orderbook")
	}
	return b.Asks[0].Price, nil
}
