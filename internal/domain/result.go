package domain

type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusPaused      Status = "paused"
	StatusRateLimited Status = "rate_limited"
)

type BotStatus string

const (
	BotRunning BotStatus = "Running"
	BotStopped BotStatus = "Stopped"
)

// Result is returned by every engine command. Failures are carried in
// Status and Message, never as Go errors.
type Result struct {
	Status     Status        `json:"status"`
	BotStatus  BotStatus     `json:"bot_status"`
	Message    string        `json:"message,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Market     *MarketState  `json:"market,omitempty"`
	Balances   *Balances     `json:"balances,omitempty"`
	Trade      *Trade        `json:"trade,omitempty"`
	Stats      *TradingStats `json:"stats,omitempty"`
	WasRunning *bool         `json:"was_running,omitempty"`
}

func (r *Result) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
