package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jfenwick/microtrader/internal/models"
)

// APIError represents an HTTP error returned by the brokerage API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Body)
}

// Client is a thin wrapper around the brokerage REST API.
type Client struct {
	apiKey    string
	baseURL   string
	accountID string
	currency  string
	client    *http.Client
}

// NewClient creates a brokerage API client.
func NewClient(apiKey, baseURL, accountID, currency string) *Client {
	return &Client{
		apiKey:    apiKey,
		baseURL:   baseURL,
		accountID: accountID,
		currency:  currency,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

// flexNumber tolerates numbers arriving as JSON numbers, quoted strings, or
// null/absent. Unparseable values decode to nil rather than failing the
// whole payload.
type flexNumber struct {
	value *float64
}

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	f.value = nil
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.value = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, perr := strconv.ParseFloat(s, 64); perr == nil {
			f.value = &parsed
		}
	}
	// Malformed numeric fields coerce to nil instead of failing the cycle.
	return nil
}

// float returns the parsed value or 0.
func (f flexNumber) float() float64 {
	if f.value == nil {
		return 0
	}
	return *f.value
}

type financialsResponse struct {
	AccountID     string     `json:"account_id"`
	Currency      string     `json:"currency"`
	NetWorth      flexNumber `json:"net_worth"`
	BuyingPower   flexNumber `json:"buying_power"`
}

type positionsResponse struct {
	Positions []struct {
		Symbol   string     `json:"symbol"`
		Quantity flexNumber `json:"quantity"`
		AvgPrice flexNumber `json:"avg_price"`
	} `json:"positions"`
}

type quoteResponse struct {
	Quote struct {
		Symbol    string     `json:"symbol"`
		Bid       flexNumber `json:"bid"`
		Ask       flexNumber `json:"ask"`
		Last      flexNumber `json:"last"`
		BidSize   flexNumber `json:"bid_size"`
		AskSize   flexNumber `json:"ask_size"`
		Timestamp string     `json:"timestamp"`
	} `json:"quote"`
}

// GetAccountSnapshot returns net worth and available cash for the account.
func (c *Client) GetAccountSnapshot() (models.AccountSnapshot, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/financials", c.baseURL, url.PathEscape(c.accountID))

	var resp financialsResponse
	if err := c.makeRequest("GET", endpoint, nil, &resp); err != nil {
		return models.AccountSnapshot{}, fmt.Errorf("fetching account financials: %w", err)
	}

	return models.AccountSnapshot{
		AccountID:     c.accountID,
		Currency:      c.currency,
		NetWorth:      resp.NetWorth.float(),
		CashAvailable: resp.BuyingPower.float(),
	}, nil
}

// GetHoldings returns the broker-reported equity positions keyed by symbol.
func (c *Client) GetHoldings() (map[string]models.Holding, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/positions", c.baseURL, url.PathEscape(c.accountID))

	var resp positionsResponse
	if err := c.makeRequest("GET", endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	holdings := make(map[string]models.Holding, len(resp.Positions))
	for _, p := range resp.Positions {
		symbol := models.NormalizeSymbol(p.Symbol)
		if symbol == "" {
			continue
		}
		holdings[symbol] = models.Holding{
			Symbol:   symbol,
			Quantity: p.Quantity.float(),
			AvgPrice: p.AvgPrice.float(),
		}
	}
	return holdings, nil
}

// GetQuote fetches a quote for one symbol. Absent bid/ask/last stay nil.
func (c *Client) GetQuote(symbol string) (models.Quote, error) {
	params := url.Values{}
	params.Set("symbols", models.NormalizeSymbol(symbol))
	endpoint := c.baseURL + "/v1/markets/quotes?" + params.Encode()

	var resp quoteResponse
	if err := c.makeRequest("GET", endpoint, nil, &resp); err != nil {
		return models.Quote{}, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}

	q := models.Quote{
		Symbol:  models.NormalizeSymbol(symbol),
		Bid:     resp.Quote.Bid.value,
		Ask:     resp.Quote.Ask.value,
		Last:    resp.Quote.Last.value,
		BidSize: resp.Quote.BidSize.value,
		AskSize: resp.Quote.AskSize.value,
	}
	if resp.Quote.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, resp.Quote.Timestamp); err == nil {
			q.Timestamp = ts
		}
	}
	return q, nil
}

// PlaceEquityOrder submits an order. The client tag is generated here so
// retried submissions at higher layers stay distinguishable broker-side.
func (c *Client) PlaceEquityOrder(oi models.OrderIntent) (*OrderResponse, error) {
	if !oi.Side.Valid() {
		return nil, fmt.Errorf("invalid order side: %q", oi.Side)
	}
	if oi.OrderType == models.OrderTypeLimit && oi.LimitPrice == nil {
		return nil, fmt.Errorf("limit price required for limit orders")
	}

	payload := map[string]interface{}{
		"symbol":     models.NormalizeSymbol(oi.Symbol),
		"side":       string(oi.Side),
		"quantity":   oi.Quantity,
		"order_type": string(oi.OrderType),
		"client_tag": uuid.NewString(),
	}
	if oi.LimitPrice != nil {
		payload["limit_price"] = *oi.LimitPrice
	}

	endpoint := fmt.Sprintf("%s/v1/accounts/%s/orders", c.baseURL, url.PathEscape(c.accountID))

	var resp OrderResponse
	if err := c.makeJSONRequest("POST", endpoint, payload, &resp); err != nil {
		return nil, fmt.Errorf("placing %s order for %s: %w", oi.Side, oi.Symbol, err)
	}
	return &resp, nil
}

func (c *Client) makeRequest(method, endpoint string, body io.Reader, response interface{}) error {
	return c.makeRequestCtx(context.Background(), method, endpoint, body, "", response)
}

func (c *Client) makeJSONRequest(method, endpoint string, payload interface{}, response interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.makeRequestCtx(context.Background(), method, endpoint, bytes.NewReader(data), "application/json", response)
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation.
func (c *Client) makeRequestCtx(ctx context.Context, method, endpoint string,
	body io.Reader, contentType string, response interface{}) error {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}
	req.Header.Add("Authorization", "Bearer "+c.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "microtrader/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("Failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		errBody, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(errBody))}
	}

	if resp.StatusCode == http.StatusNoContent || response == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}
