package platform

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/auth"
	"github.com/xtrntr/memestream/internal/broadcast"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/models"
)

const maxUsernameLength = 50

// Authenticate verifies a signed message and opens a session
func (s *Service) Authenticate(ctx context.Context, address, message, signature string) (*auth.Result, error) {
	return s.auth.Authenticate(ctx, address, message, signature)
}

// RenameWallet sets the display name of the session's own wallet
func (s *Service) RenameWallet(ctx context.Context, session, address, username string) (*models.Wallet, error) {
	wallet, err := s.sessionWallet(ctx, session)
	if err != nil {
		return nil, err
	}
	if wallet.Address != models.NormalizeAddress(address) {
		return nil, apperr.New(apperr.Forbidden, "wallets can only rename themselves")
	}

	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, apperr.Newf(apperr.InvalidInput, "username must be 1 to %d characters", maxUsernameLength)
	}

	updated, err := s.store.UpdateWalletUsername(ctx, wallet.ID, username)
	if err != nil {
		return nil, storeError(err, apperr.WalletNotFound, "rename wallet")
	}

	log := logger.WithWallet(s.logger, updated.Address)
	log.Info().Str("username", username).Msg("Wallet renamed")
	s.publish(ctx, broadcast.EventWalletRenamed, updated)
	return updated, nil
}

// GetPortfolio replays a wallet's positions and summarizes the tokens it created
func (s *Service) GetPortfolio(ctx context.Context, address string) (*models.Portfolio, error) {
	wallet, err := s.store.GetWalletByAddress(ctx, models.NormalizeAddress(address))
	if err != nil {
		return nil, storeError(err, apperr.WalletNotFound, "load wallet")
	}

	portfolio, err := s.ledger.Portfolio(ctx, wallet)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(portfolio.Balances)+len(portfolio.CreatedTokens))
	for _, e := range portfolio.Balances {
		ids = append(ids, e.TokenID)
	}
	for _, c := range portfolio.CreatedTokens {
		ids = append(ids, c.TokenID)
	}
	tokens, err := s.store.GetTokensByIDs(ctx, ids)
	if err != nil {
		return nil, storeError(err, apperr.TokenNotFound, "load portfolio tokens")
	}

	for i := range portfolio.Balances {
		e := &portfolio.Balances[i]
		if e.Change24h, err = s.change24h(ctx, tokens[e.TokenID]); err != nil {
			return nil, err
		}
	}
	for i := range portfolio.CreatedTokens {
		c := &portfolio.CreatedTokens[i]
		if c.Change24h, err = s.change24h(ctx, tokens[c.TokenID]); err != nil {
			return nil, err
		}
	}
	return portfolio, nil
}

// GetPlatformStats returns ledger-wide totals
func (s *Service) GetPlatformStats(ctx context.Context) (*models.Stats, error) {
	volume, trades, err := s.store.TradeTotals(ctx)
	if err != nil {
		return nil, storeError(err, apperr.NotFound, "trade totals")
	}
	users, err := s.store.CountWallets(ctx)
	if err != nil {
		return nil, storeError(err, apperr.NotFound, "count wallets")
	}
	return &models.Stats{TotalVolume: volume, TotalTrades: trades, TotalUsers: users}, nil
}
