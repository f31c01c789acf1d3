package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Signed returns amount for a buy and -amount for a sell
func (s Side) Signed(amount decimal.Decimal) decimal.Decimal {
	if s == SideSell {
		return amount.Neg()
	}
	return amount
}

// Wallet represents a wallet identity, created on first signature verification
type Wallet struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"` // lowercase 0x hex
	Username  *string   `json:"username"`
	Image     *string   `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}

// Token represents a registered token
type Token struct {
	ID              int64           `json:"id"`
	ContractAddress string          `json:"contract_address"`
	Name            string          `json:"name"`
	Symbol          string          `json:"symbol"`
	Description     string          `json:"description"`
	Image           string          `json:"image"`
	Website         string          `json:"website"`
	Twitter         string          `json:"twitter"`
	TotalSupply     decimal.Decimal `json:"total_supply"`
	Price           decimal.Decimal `json:"price"`
	Status          string          `json:"status"`
	CreatorID       int64           `json:"creator_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MarketCap is price times total supply
func (t Token) MarketCap() decimal.Decimal {
	return t.Price.Mul(t.TotalSupply)
}

// Trade is an immutable ledger record
type Trade struct {
	ID        int64           `json:"id"`
	TokenID   int64           `json:"token_id"`
	WalletID  int64           `json:"wallet_id"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	TxHash    *string         `json:"tx_hash"` // nil only for seeded records
	CreatedAt time.Time       `json:"created_at"`
}

// Notional is amount times price
func (t Trade) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// TradeView is a ledger record joined with its token and wallet for listings
type TradeView struct {
	ID              int64           `json:"id"`
	Logo            string          `json:"logo"`
	Symbol          string          `json:"symbol"`
	Address         string          `json:"address"`
	Side            string          `json:"type"` // buy or sell
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	ContractAddress string          `json:"contract_address"`
	TxHash          string          `json:"tx_hash"` // empty for seeded records
	CreatedAt       time.Time       `json:"created_at"`
}

// NewTradeView joins a trade with its token and trader address
func NewTradeView(t Trade, token Token, address string) TradeView {
	view := TradeView{
		ID:              t.ID,
		Logo:            token.Image,
		Symbol:          token.Symbol,
		Address:         address,
		Side:            strings.ToLower(string(t.Side)),
		Amount:          t.Amount,
		Price:           t.Price,
		ContractAddress: token.ContractAddress,
		CreatedAt:       t.CreatedAt,
	}
	if t.TxHash != nil {
		view.TxHash = *t.TxHash
	}
	return view
}

// TokenListing is a token with its derived market cap
type TokenListing struct {
	Token
	MarketCap decimal.Decimal `json:"market_cap"`
}

// NewTokenListing derives the listing fields of t
func NewTokenListing(t Token) TokenListing {
	return TokenListing{Token: t, MarketCap: t.MarketCap()}
}

// Holder is a wallet with a strictly positive balance in a token
type Holder struct {
	WalletID   int64           `json:"wallet_id"`
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	Share      decimal.Decimal `json:"share"`      // balance / total supply
	Percentage decimal.Decimal `json:"percentage"` // share * 100, two decimals
}

// Bar is one OHLC bucket
type Bar struct {
	Time   time.Time       `json:"time"` // bucket start
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Trades int             `json:"trades"`
}

// PortfolioEntry is a wallet's replayed position in one token
type PortfolioEntry struct {
	TokenID         int64           `json:"token_id"`
	ContractAddress string          `json:"contract_address"`
	Symbol          string          `json:"coin"`
	Image           string          `json:"icon"`
	MarketCap       decimal.Decimal `json:"market_cap"`
	Balance         decimal.Decimal `json:"balance"`
	Value           decimal.Decimal `json:"value"`
	Change24h       decimal.Decimal `json:"change"`
}

// CreatedToken summarizes a token the wallet created
type CreatedToken struct {
	TokenID         int64           `json:"token_id"`
	ContractAddress string          `json:"contract_address"`
	Symbol          string          `json:"coin"`
	Image           string          `json:"icon"`
	Revenue         decimal.Decimal `json:"revenue"`
	Holders         int             `json:"holders"`
	Change24h       decimal.Decimal `json:"change"`
	LastActive      time.Time       `json:"last_active"`
}

// Portfolio is the derived view of a wallet
type Portfolio struct {
	Address       string           `json:"address"`
	Username      *string          `json:"username"`
	Image         *string          `json:"image"`
	Balances      []PortfolioEntry `json:"portfolio"`
	CreatedTokens []CreatedToken   `json:"memestreams"`
}

// Stats holds platform-wide aggregates
type Stats struct {
	TotalVolume decimal.Decimal `json:"total_volume"`
	TotalTrades int64           `json:"total_trades"`
	TotalUsers  int64           `json:"total_users"`
}

// TokenDetails is the read model behind the token page
type TokenDetails struct {
	Token     Token           `json:"token"`
	MarketCap decimal.Decimal `json:"market_cap"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Change24h decimal.Decimal `json:"change_24h"`
	Holders   []Holder        `json:"holders"`
	ChartData []Bar           `json:"chart_data"`
}

// TokenFilter selects one token listing strategy
type TokenFilter string

const (
	FilterAll              TokenFilter = "all"
	FilterNewlyCreated     TokenFilter = "newlyCreated"
	FilterMostVolume       TokenFilter = "mostVolume"
	FilterMostHolders      TokenFilter = "mostHolders"
	FilterHighestMarketCap TokenFilter = "highestMarketCap"
)

// ParseTokenFilter maps unknown categories to FilterAll
func ParseTokenFilter(s string) TokenFilter {
	switch f := TokenFilter(s); f {
	case FilterNewlyCreated, FilterMostVolume, FilterMostHolders, FilterHighestMarketCap:
		return f
	}
	return FilterAll
}

// TimeframeStart returns the lower bound for a timeframe label, zero time when unbounded
func TimeframeStart(now time.Time, timeframe string) time.Time {
	switch timeframe {
	case "10mins":
		return now.Add(-10 * time.Minute)
	case "1h":
		return now.Add(-time.Hour)
	case "24h":
		return now.Add(-24 * time.Hour)
	case "48h":
		return now.Add(-48 * time.Hour)
	}
	return time.Time{}
}

// NormalizeAddress lowercases and trims a hex address
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
