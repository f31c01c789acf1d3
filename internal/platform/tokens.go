package platform

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/broadcast"
	"github.com/xtrntr/memestream/internal/chart"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/models"
)

// TokenInput holds the attributes of a token being registered
type TokenInput struct {
	ContractAddress string          `json:"contract_address"`
	Name            string          `json:"name"`
	Symbol          string          `json:"symbol"`
	Description     string          `json:"description"`
	Image           string          `json:"image"`
	Website         string          `json:"website"`
	Twitter         string          `json:"twitter"`
	TotalSupply     decimal.Decimal `json:"total_supply"`
	Price           decimal.Decimal `json:"price"`
}

func (in TokenInput) validate() error {
	switch {
	case !common.IsHexAddress(in.ContractAddress):
		return apperr.New(apperr.InvalidInput, "contract address must be a 20-byte hex string")
	case strings.TrimSpace(in.Name) == "":
		return apperr.New(apperr.InvalidInput, "name is required")
	case strings.TrimSpace(in.Symbol) == "":
		return apperr.New(apperr.InvalidInput, "symbol is required")
	case !in.TotalSupply.IsPositive():
		return apperr.New(apperr.InvalidInput, "total supply must be positive")
	case in.Price.IsNegative():
		return apperr.New(apperr.InvalidInput, "price cannot be negative")
	}
	return nil
}

// CreateToken registers a token owned by the session's wallet
func (s *Service) CreateToken(ctx context.Context, session string, in TokenInput) (*models.Token, error) {
	wallet, err := s.sessionWallet(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	token, err := s.store.CreateToken(ctx, &models.Token{
		ContractAddress: models.NormalizeAddress(in.ContractAddress),
		Name:            strings.TrimSpace(in.Name),
		Symbol:          strings.TrimSpace(in.Symbol),
		Description:     in.Description,
		Image:           in.Image,
		Website:         in.Website,
		Twitter:         in.Twitter,
		TotalSupply:     in.TotalSupply,
		Price:           in.Price,
		Status:          "active",
		CreatorID:       wallet.ID,
	})
	if errors.Is(err, db.ErrDuplicateKey) {
		return nil, apperr.ErrTokenExists
	}
	if err != nil {
		return nil, storeError(err, apperr.WalletNotFound, "create token")
	}

	log := logger.WithToken(s.logger, token.ContractAddress)
	log.Info().
		Str("wallet", wallet.Address).
		Str("symbol", token.Symbol).
		Msg("Token created")
	s.publish(ctx, broadcast.EventNewToken, models.NewTokenListing(*token))
	return token, nil
}

// ListNewTokens returns the most recently created tokens
func (s *Service) ListNewTokens(ctx context.Context) ([]models.TokenListing, error) {
	tokens, err := s.store.ListNewTokens(ctx, newTokensLimit)
	if err != nil {
		return nil, storeError(err, apperr.NotFound, "list new tokens")
	}
	return listings(tokens), nil
}

// FilterTokens lists tokens by strategy within a timeframe. Unknown
// strategies list all tokens and unknown timeframes are unbounded.
func (s *Service) FilterTokens(ctx context.Context, strategy, timeframe string) ([]models.TokenListing, error) {
	filter := models.ParseTokenFilter(strategy)
	since := models.TimeframeStart(s.now(), timeframe)

	tokens, err := s.store.FilterTokens(ctx, filter, since)
	if err != nil {
		return nil, storeError(err, apperr.NotFound, "filter tokens")
	}
	return listings(tokens), nil
}

// GetTokenDetails assembles the token page: market data, holders and bars
func (s *Service) GetTokenDetails(ctx context.Context, contract string) (*models.TokenDetails, error) {
	token, err := s.tokenByContract(ctx, contract)
	if err != nil {
		return nil, err
	}

	points, err := s.charts.Points(ctx, token.ID)
	if err != nil {
		return nil, err
	}
	bars, err := chart.Bars(points, s.bucket)
	if err != nil {
		return nil, err
	}
	holders, err := s.ledger.Holders(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &models.TokenDetails{
		Token:     *token,
		MarketCap: token.MarketCap(),
		Volume24h: chart.Volume(points, now.Add(-24*time.Hour)),
		Change24h: chart.Change24h(token.Price, points, now),
		Holders:   holders,
		ChartData: bars,
	}, nil
}

// GetHolders ranks the wallets holding a token
func (s *Service) GetHolders(ctx context.Context, contract string) ([]models.Holder, error) {
	token, err := s.tokenByContract(ctx, contract)
	if err != nil {
		return nil, err
	}
	return s.ledger.Holders(ctx, token)
}

// GetChart buckets a token's trades. A zero bucket means the default width.
func (s *Service) GetChart(ctx context.Context, contract string, bucket time.Duration) ([]models.Bar, error) {
	token, err := s.tokenByContract(ctx, contract)
	if err != nil {
		return nil, err
	}
	if bucket == 0 {
		bucket = s.bucket
	}

	points, err := s.charts.Points(ctx, token.ID)
	if err != nil {
		return nil, err
	}
	return chart.Bars(points, bucket)
}

func (s *Service) change24h(ctx context.Context, token models.Token) (decimal.Decimal, error) {
	if token.ID == 0 {
		return decimal.Zero, nil
	}
	points, err := s.charts.Points(ctx, token.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return chart.Change24h(token.Price, points, s.now()), nil
}

func listings(tokens []models.Token) []models.TokenListing {
	out := make([]models.TokenListing, len(tokens))
	for i, t := range tokens {
		out[i] = models.NewTokenListing(t)
	}
	return out
}
