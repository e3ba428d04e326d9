package dto

import (
	"encoding/json"
	"fmt"

	"github.com/olyamironova/solbot-sim/internal/core"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

type StartRequest struct {
	WalletKey       string           `json:"wallet_key"`
	Capital         decimal.Decimal  `json:"capital"`
	RiskPercent     *decimal.Decimal `json:"risk_percent,omitempty"`
	SlippagePercent *decimal.Decimal `json:"slippage_percent,omitempty"`
	TokenAddress    string           `json:"token_address"`
}

func (r StartRequest) Params() core.StartParams {
	p := core.StartParams{
		WalletKey:    r.WalletKey,
		Capital:      r.Capital,
		TokenAddress: r.TokenAddress,
	}
	if r.RiskPercent != nil {
		p.RiskPercent = decimal.NewNullDecimal(*r.RiskPercent)
	}
	if r.SlippagePercent != nil {
		p.SlippagePercent = decimal.NewNullDecimal(*r.SlippagePercent)
	}
	return p
}

// TradeRequest with a zero amount lets the engine size the trade.
type TradeRequest struct {
	Side   string          `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

type TradesRequest struct {
	Limit int `json:"limit,omitempty"`
}

type TradesResponse struct {
	UserID string         `json:"user_id"`
	Count  int            `json:"count"`
	Trades []domain.Trade `json:"trades"`
}

type StatsResponse struct {
	domain.TradingStats
	WinRate decimal.Decimal `json:"win_rate"`
}

func NewTradesResponse(userID string, trades []domain.Trade) TradesResponse {
	if trades == nil {
		trades = []domain.Trade{}
	}
	return TradesResponse{UserID: userID, Count: len(trades), Trades: trades}
}

// NewStatsResponse adds the win rate as a percentage with two decimals.
func NewStatsResponse(s domain.TradingStats) StatsResponse {
	rate := decimal.Zero
	if s.TotalTrades > 0 {
		rate = decimal.NewFromInt(int64(s.WinningTrades)).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(s.TotalTrades))).
			Round(2)
	}
	return StatsResponse{TradingStats: s, WinRate: rate}
}

// ToStruct converts any JSON-serialisable value to a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("to map: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes a protobuf Struct into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return json.Unmarshal(b, v)
}
