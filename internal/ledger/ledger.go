// Package ledger records verified trades and replays them into balances,
// holder rankings and portfolios.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/chain"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/models"
)

// Ledger is the append-only trade log. It keeps no running balances;
// every derived view is replayed from the store.
type Ledger struct {
	store  db.Store
	logger zerolog.Logger
}

// New creates a ledger over store
func New(store db.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With().Str("component", "ledger").Logger(),
	}
}

// Order is a trade the caller wants recorded
type Order struct {
	TokenID int64
	Side    models.Side
	Amount  decimal.Decimal
}

func (o Order) validate() error {
	if o.Side != models.SideBuy && o.Side != models.SideSell {
		return apperr.Newf(apperr.InvalidInput, "side must be BUY or SELL, got %q", o.Side)
	}
	if !o.Amount.IsPositive() {
		return apperr.New(apperr.InvalidInput, "amount must be positive")
	}
	return nil
}

// RecordTrade appends a trade backed by proof for wallet. The price is the
// token's current price at insertion time and the token row is updated in
// the same store transaction.
func (l *Ledger) RecordTrade(ctx context.Context, proof *chain.VerifiedTrade, wallet *models.Wallet, order Order) (*models.Trade, *models.Token, error) {
	if proof == nil || !proof.Valid() || wallet == nil {
		return nil, nil, apperr.New(apperr.Forbidden, "trade is not backed by a verified transaction")
	}
	if !strings.EqualFold(proof.Sender, wallet.Address) {
		return nil, nil, apperr.New(apperr.Forbidden, "verified transaction belongs to another wallet")
	}
	if err := order.validate(); err != nil {
		return nil, nil, err
	}

	hash := proof.TxHash
	return l.append(ctx, db.NewTrade{
		TokenID:  order.TokenID,
		WalletID: wallet.ID,
		Side:     order.Side,
		Amount:   order.Amount,
		TxHash:   &hash,
	})
}

// SeedTrade appends an internally seeded trade. It has no transaction hash
// and never goes through chain verification.
func (l *Ledger) SeedTrade(ctx context.Context, walletID int64, order Order) (*models.Trade, *models.Token, error) {
	if err := order.validate(); err != nil {
		return nil, nil, err
	}
	return l.append(ctx, db.NewTrade{
		TokenID:  order.TokenID,
		WalletID: walletID,
		Side:     order.Side,
		Amount:   order.Amount,
	})
}

func (l *Ledger) append(ctx context.Context, trade db.NewTrade) (*models.Trade, *models.Token, error) {
	recorded, token, err := l.store.AppendTrade(ctx, trade)
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		return nil, nil, apperr.ErrTokenNotFound
	case errors.Is(err, db.ErrDuplicateKey):
		return nil, nil, apperr.ErrDuplicateTransaction
	default:
		l.logger.Error().Err(err).Int64("token_id", trade.TokenID).Msg("Failed to append trade")
		return nil, nil, apperr.Wrap(apperr.WriteFailed, "append trade", err)
	}

	l.logger.Info().
		Int64("trade_id", recorded.ID).
		Int64("token_id", recorded.TokenID).
		Int64("wallet_id", recorded.WalletID).
		Str("side", string(recorded.Side)).
		Str("amount", recorded.Amount.String()).
		Str("price", recorded.Price.String()).
		Msg("Trade recorded")
	return recorded, token, nil
}

// Trades reads ledger events in (created_at, id) order, or newest first with q.Desc
func (l *Ledger) Trades(ctx context.Context, q db.TradeQuery) ([]models.Trade, error) {
	trades, err := l.store.ListTrades(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list trades", err)
	}
	return trades, nil
}
