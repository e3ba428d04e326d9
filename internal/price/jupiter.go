package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/shopspring/decimal"
)

const (
	DefaultPriceURL = "https://api.jup.ag/price/v2"
	DefaultQuoteURL = "https://quote-api.jup.ag/v6/quote"

	SOLMint  = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var (
	_ port.PriceProvider = (*JupiterPrice)(nil)
	_ port.PriceProvider = (*JupiterQuote)(nil)
)

// JupiterPrice reads the aggregated price endpoint.
type JupiterPrice struct {
	endpoint string
	client   *http.Client
}

func NewJupiterPrice(endpoint string, client *http.Client) *JupiterPrice {
	if endpoint == "" {
		endpoint = DefaultPriceURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &JupiterPrice{endpoint: endpoint, client: client}
}

func (j *JupiterPrice) Name() string { return "jupiter-price" }

type priceResponse struct {
	Data map[string]struct {
		ID    string          `json:"id"`
		Price decimal.Decimal `json:"price"`
	} `json:"data"`
}

func (j *JupiterPrice) GetPrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", baseAsset)
	q.Set("vsToken", quoteAsset)

	var resp priceResponse
	if err := getJSON(ctx, j.client, j.endpoint+"?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, err
	}
	entry, ok := resp.Data[baseAsset]
	if !ok || !entry.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", domain.ErrPriceUnavailable, baseAsset)
	}
	return entry.Price, nil
}

// JupiterQuote derives a unit price from a swap quote of a small fixed
// amount of the base asset.
type JupiterQuote struct {
	endpoint      string
	client        *http.Client
	amount        decimal.Decimal
	baseDecimals  int32
	quoteDecimals int32
	slippageBps   int
}

type QuoteOptions struct {
	Amount        decimal.Decimal
	BaseDecimals  int32
	QuoteDecimals int32
	SlippageBps   int
}

func NewJupiterQuote(endpoint string, client *http.Client, opts QuoteOptions) *JupiterQuote {
	if endpoint == "" {
		endpoint = DefaultQuoteURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	if !opts.Amount.IsPositive() {
		opts.Amount = decimal.RequireFromString("0.01")
	}
	return &JupiterQuote{
		endpoint:      endpoint,
		client:        client,
		amount:        opts.Amount,
		baseDecimals:  opts.BaseDecimals,
		quoteDecimals: opts.QuoteDecimals,
		slippageBps:   opts.SlippageBps,
	}
}

func (j *JupiterQuote) Name() string { return "jupiter-quote" }

type quoteResponse struct {
	OutAmount decimal.Decimal `json:"outAmount"`
}

func (j *JupiterQuote) GetPrice(ctx context.Context, baseAsset, quoteAsset string) (decimal.Decimal, error) {
	atoms := j.amount.Shift(j.baseDecimals).Truncate(0)
	q := url.Values{}
	q.Set("inputMint", baseAsset)
	q.Set("outputMint", quoteAsset)
	q.Set("amount", atoms.String())
	q.Set("slippageBps", fmt.Sprint(j.slippageBps))

	var resp quoteResponse
	if err := getJSON(ctx, j.client, j.endpoint+"?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.OutAmount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: empty quote", domain.ErrPriceUnavailable)
	}
	out := resp.OutAmount.Shift(-j.quoteDecimals)
	return out.Div(j.amount), nil
}

func getJSON(ctx context.Context, client *http.Client, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", domain.ErrPriceUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode: %v", domain.ErrPriceUnavailable, err)
	}
	return nil
}
