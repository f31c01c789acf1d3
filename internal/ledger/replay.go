package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/models"
)

// Position identifies a (token, wallet) pair
type Position struct {
	TokenID  int64
	WalletID int64
}

// ComputeBalances folds trades into the signed sum of amounts per position.
// Balances are not clamped at zero.
func ComputeBalances(trades []models.Trade) map[Position]decimal.Decimal {
	balances := make(map[Position]decimal.Decimal)
	for _, t := range trades {
		pos := Position{TokenID: t.TokenID, WalletID: t.WalletID}
		balances[pos] = balances[pos].Add(t.Side.Signed(t.Amount))
	}
	return balances
}

// Balances replays every trade matching q
func (l *Ledger) Balances(ctx context.Context, q db.TradeQuery) (map[Position]decimal.Decimal, error) {
	q.Limit, q.Desc = 0, false
	trades, err := l.Trades(ctx, q)
	if err != nil {
		return nil, err
	}
	return ComputeBalances(trades), nil
}

// Balance replays one wallet's position in one token
func (l *Ledger) Balance(ctx context.Context, walletID, tokenID int64) (decimal.Decimal, error) {
	balances, err := l.Balances(ctx, db.TradeQuery{TokenID: tokenID, WalletID: walletID})
	if err != nil {
		return decimal.Zero, err
	}
	return balances[Position{TokenID: tokenID, WalletID: walletID}], nil
}

var hundred = decimal.NewFromInt(100)

// RankHolders keeps strictly positive balances and orders them by share of
// total supply, descending, then by address ascending.
func RankHolders(token models.Token, balances map[int64]decimal.Decimal, addresses map[int64]string) []models.Holder {
	holders := []models.Holder{}
	for walletID, balance := range balances {
		if !balance.IsPositive() {
			continue
		}

		share := decimal.Zero
		if token.TotalSupply.IsPositive() {
			share = balance.Div(token.TotalSupply)
		}
		holders = append(holders, models.Holder{
			WalletID:   walletID,
			Address:    addresses[walletID],
			Balance:    balance,
			Share:      share,
			// rounded down so the shown percentages never sum past 100
			Percentage: share.Mul(hundred).RoundDown(2),
		})
	}

	sort.Slice(holders, func(i, j int) bool {
		if c := holders[i].Share.Cmp(holders[j].Share); c != 0 {
			return c > 0
		}
		if holders[i].Address != holders[j].Address {
			return holders[i].Address < holders[j].Address
		}
		return holders[i].WalletID < holders[j].WalletID
	})
	return holders
}

// Holders replays the token's ledger into its holder ranking
func (l *Ledger) Holders(ctx context.Context, token *models.Token) ([]models.Holder, error) {
	balances, err := l.Balances(ctx, db.TradeQuery{TokenID: token.ID})
	if err != nil {
		return nil, err
	}

	byWallet := make(map[int64]decimal.Decimal, len(balances))
	var ids []int64
	for pos, balance := range balances {
		byWallet[pos.WalletID] = balance
		if balance.IsPositive() {
			ids = append(ids, pos.WalletID)
		}
	}

	wallets, err := l.store.GetWalletsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load holder wallets", err)
	}
	addresses := make(map[int64]string, len(wallets))
	for id, w := range wallets {
		addresses[id] = w.Address
	}

	return RankHolders(*token, byWallet, addresses), nil
}

// HolderCount is the number of wallets with a positive balance in the token
func (l *Ledger) HolderCount(ctx context.Context, tokenID int64) (int, error) {
	balances, err := l.Balances(ctx, db.TradeQuery{TokenID: tokenID})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range balances {
		if b.IsPositive() {
			n++
		}
	}
	return n, nil
}

// Portfolio replays the wallet's trades into one entry per token it has
// ever traded, in order of first trade, plus the tokens it created.
// Change fields are left zero for the caller to fill from chart data.
func (l *Ledger) Portfolio(ctx context.Context, wallet *models.Wallet) (*models.Portfolio, error) {
	trades, err := l.Trades(ctx, db.TradeQuery{WalletID: wallet.ID})
	if err != nil {
		return nil, err
	}

	var order []int64
	seen := make(map[int64]bool)
	for _, t := range trades {
		if !seen[t.TokenID] {
			seen[t.TokenID] = true
			order = append(order, t.TokenID)
		}
	}

	tokens, err := l.store.GetTokensByIDs(ctx, order)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load portfolio tokens", err)
	}

	balances := ComputeBalances(trades)
	entries := make([]models.PortfolioEntry, 0, len(order))
	for _, id := range order {
		token, ok := tokens[id]
		if !ok {
			continue
		}
		balance := balances[Position{TokenID: id, WalletID: wallet.ID}]
		entries = append(entries, models.PortfolioEntry{
			TokenID:         id,
			ContractAddress: token.ContractAddress,
			Symbol:          token.Symbol,
			Image:           token.Image,
			MarketCap:       token.MarketCap(),
			Balance:         balance,
			Value:           balance.Mul(token.Price),
			Change24h:       decimal.Zero,
		})
	}

	created, err := l.CreatedTokens(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	return &models.Portfolio{
		Address:       wallet.Address,
		Username:      wallet.Username,
		Image:         wallet.Image,
		Balances:      entries,
		CreatedTokens: created,
	}, nil
}

// CreatedTokens summarizes the tokens a wallet created. LastActive is the
// later of the newest trade and the creation time.
func (l *Ledger) CreatedTokens(ctx context.Context, creatorID int64) ([]models.CreatedToken, error) {
	tokens, err := l.store.ListTokensByCreator(ctx, creatorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list created tokens", err)
	}

	created := make([]models.CreatedToken, 0, len(tokens))
	for _, token := range tokens {
		latest, err := l.Trades(ctx, db.TradeQuery{TokenID: token.ID, Limit: 1, Desc: true})
		if err != nil {
			return nil, err
		}
		holders, err := l.HolderCount(ctx, token.ID)
		if err != nil {
			return nil, err
		}

		created = append(created, models.CreatedToken{
			TokenID:         token.ID,
			ContractAddress: token.ContractAddress,
			Symbol:          token.Symbol,
			Image:           token.Image,
			Revenue:         token.MarketCap(),
			Holders:         holders,
			Change24h:       decimal.Zero,
			LastActive:      lastActive(token.CreatedAt, latest),
		})
	}
	return created, nil
}

func lastActive(createdAt time.Time, latest []models.Trade) time.Time {
	if len(latest) > 0 && latest[0].CreatedAt.After(createdAt) {
		return latest[0].CreatedAt
	}
	return createdAt
}
