package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local runs
type MemoryStore struct {
	mu       sync.RWMutex
	wallets  []models.Wallet
	tokens   []models.Token
	trades   []models.Trade
	txHashes map[string]struct{}
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txHashes: make(map[string]struct{}),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for created_at
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// CreateWallet inserts a wallet for a normalized address
func (s *MemoryStore) CreateWallet(_ context.Context, address string) (*models.Wallet, error) {
	address = models.NormalizeAddress(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.Address == address {
			return nil, ErrDuplicateKey
		}
	}
	w := models.Wallet{
		ID:        int64(len(s.wallets) + 1),
		Address:   address,
		CreatedAt: s.now(),
	}
	s.wallets = append(s.wallets, w)
	return &w, nil
}

// GetWalletByID retrieves a wallet by id
func (s *MemoryStore) GetWalletByID(_ context.Context, id int64) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || int(id) > len(s.wallets) {
		return nil, ErrNotFound
	}
	w := s.wallets[id-1]
	return &w, nil
}

// GetWalletByAddress retrieves a wallet by address, case-insensitively
func (s *MemoryStore) GetWalletByAddress(_ context.Context, address string) (*models.Wallet, error) {
	address = models.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.wallets {
		if w.Address == address {
			return &w, nil
		}
	}
	return nil, ErrNotFound
}

// GetWalletsByIDs retrieves the wallets with the given ids; missing ids are skipped
func (s *MemoryStore) GetWalletsByIDs(_ context.Context, ids []int64) (map[int64]models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wallets := make(map[int64]models.Wallet, len(ids))
	for _, id := range ids {
		if id >= 1 && int(id) <= len(s.wallets) {
			wallets[id] = s.wallets[id-1]
		}
	}
	return wallets, nil
}

// UpdateWalletUsername renames a wallet
func (s *MemoryStore) UpdateWalletUsername(_ context.Context, id int64, username string) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 1 || int(id) > len(s.wallets) {
		return nil, ErrNotFound
	}
	name := username
	s.wallets[id-1].Username = &name
	w := s.wallets[id-1]
	return &w, nil
}

// CountWallets returns the number of known wallets
func (s *MemoryStore) CountWallets(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.wallets)), nil
}

// CreateToken inserts a new token
func (s *MemoryStore) CreateToken(_ context.Context, token *models.Token) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract := models.NormalizeAddress(token.ContractAddress)
	for _, t := range s.tokens {
		if t.ContractAddress == contract {
			return nil, ErrDuplicateKey
		}
	}
	if token.CreatorID < 1 || int(token.CreatorID) > len(s.wallets) {
		return nil, ErrNotFound
	}

	t := *token
	t.ID = int64(len(s.tokens) + 1)
	t.ContractAddress = contract
	if t.Status == "" {
		t.Status = "active"
	}
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.tokens = append(s.tokens, t)
	return &t, nil
}

// GetTokenByID retrieves a token by id
func (s *MemoryStore) GetTokenByID(_ context.Context, id int64) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || int(id) > len(s.tokens) {
		return nil, ErrNotFound
	}
	t := s.tokens[id-1]
	return &t, nil
}

// GetTokenByContract retrieves a token by contract address
func (s *MemoryStore) GetTokenByContract(_ context.Context, contract string) (*models.Token, error) {
	contract = models.NormalizeAddress(contract)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tokens {
		if t.ContractAddress == contract {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// GetTokensByIDs retrieves the tokens with the given ids; missing ids are skipped
func (s *MemoryStore) GetTokensByIDs(_ context.Context, ids []int64) (map[int64]models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make(map[int64]models.Token, len(ids))
	for _, id := range ids {
		if id >= 1 && int(id) <= len(s.tokens) {
			tokens[id] = s.tokens[id-1]
		}
	}
	return tokens, nil
}

// ListTokensByCreator retrieves the tokens a wallet created, newest first
func (s *MemoryStore) ListTokensByCreator(_ context.Context, creatorID int64) ([]models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []models.Token
	for _, t := range s.tokens {
		if t.CreatorID == creatorID {
			tokens = append(tokens, t)
		}
	}
	sortNewestFirst(tokens)
	return tokens, nil
}

// ListNewTokens retrieves the most recently created tokens
func (s *MemoryStore) ListNewTokens(_ context.Context, limit int) ([]models.Token, error) {
	s.mu.RLock()
	tokens := append([]models.Token(nil), s.tokens...)
	s.mu.RUnlock()

	sortNewestFirst(tokens)
	if limit > 0 && len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

// FilterTokens mirrors the Postgres strategy queries
func (s *MemoryStore) FilterTokens(_ context.Context, filter models.TokenFilter, since time.Time) ([]models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		tokens []models.Token
		score  = make(map[int64]decimal.Decimal)
	)

	switch filter {
	case models.FilterAll:
		tokens = append(tokens, s.tokens...)
		sortByCreation(tokens)
		return tokens, nil

	case models.FilterNewlyCreated, models.FilterHighestMarketCap:
		for _, t := range s.tokens {
			if !t.CreatedAt.Before(since) {
				tokens = append(tokens, t)
				score[t.ID] = t.MarketCap()
			}
		}
		if filter == models.FilterNewlyCreated {
			sortByCreation(tokens)
			return tokens, nil
		}

	case models.FilterMostVolume:
		for _, tr := range s.trades {
			if !tr.CreatedAt.Before(since) {
				score[tr.TokenID] = score[tr.TokenID].Add(tr.Notional())
			}
		}
		for _, t := range s.tokens {
			if _, ok := score[t.ID]; ok {
				tokens = append(tokens, t)
			}
		}

	case models.FilterMostHolders:
		active := make(map[int64]bool)
		type pair struct{ token, wallet int64 }
		balances := make(map[pair]decimal.Decimal)
		for _, tr := range s.trades {
			if !tr.CreatedAt.Before(since) {
				active[tr.TokenID] = true
			}
			k := pair{tr.TokenID, tr.WalletID}
			balances[k] = balances[k].Add(tr.Side.Signed(tr.Amount))
		}
		for k, b := range balances {
			if b.IsPositive() {
				score[k.token] = score[k.token].Add(decimal.NewFromInt(1))
			}
		}
		for _, t := range s.tokens {
			if active[t.ID] {
				tokens = append(tokens, t)
			}
		}

	default:
		return nil, ErrNotFound
	}

	sort.SliceStable(tokens, func(i, j int) bool {
		si, sj := score[tokens[i].ID], score[tokens[j].ID]
		if !si.Equal(sj) {
			return si.GreaterThan(sj)
		}
		return tokens[i].ContractAddress < tokens[j].ContractAddress
	})
	return tokens, nil
}

// AppendTrade inserts a trade priced at the token's current price
func (s *MemoryStore) AppendTrade(_ context.Context, trade NewTrade) (*models.Trade, *models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trade.TokenID < 1 || int(trade.TokenID) > len(s.tokens) {
		return nil, nil, ErrNotFound
	}
	if trade.WalletID < 1 || int(trade.WalletID) > len(s.wallets) {
		return nil, nil, ErrNotFound
	}
	if trade.TxHash != nil {
		if _, seen := s.txHashes[*trade.TxHash]; seen {
			return nil, nil, ErrDuplicateKey
		}
	}

	token := &s.tokens[trade.TokenID-1]
	createdAt := s.now()
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].TokenID == trade.TokenID {
			if s.trades[i].CreatedAt.After(createdAt) {
				createdAt = s.trades[i].CreatedAt
			}
			break
		}
	}

	recorded := models.Trade{
		ID:        int64(len(s.trades) + 1),
		TokenID:   trade.TokenID,
		WalletID:  trade.WalletID,
		Side:      trade.Side,
		Amount:    trade.Amount,
		Price:     token.Price,
		CreatedAt: createdAt,
	}
	if trade.TxHash != nil {
		hash := *trade.TxHash
		recorded.TxHash = &hash
		s.txHashes[hash] = struct{}{}
	}
	s.trades = append(s.trades, recorded)
	token.UpdatedAt = createdAt

	t := *token
	return &recorded, &t, nil
}

// ListTrades reads ledger events ordered by (created_at, id)
func (s *MemoryStore) ListTrades(_ context.Context, q TradeQuery) ([]models.Trade, error) {
	s.mu.RLock()
	var trades []models.Trade
	for _, t := range s.trades {
		if q.TokenID != 0 && t.TokenID != q.TokenID {
			continue
		}
		if q.WalletID != 0 && t.WalletID != q.WalletID {
			continue
		}
		if !q.Since.IsZero() && t.CreatedAt.Before(q.Since) {
			continue
		}
		trades = append(trades, t)
	}
	s.mu.RUnlock()

	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if q.Desc {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if q.Limit > 0 && len(trades) > q.Limit {
		trades = trades[:q.Limit]
	}
	return trades, nil
}

// TradeTotals returns Σ amount × price and the number of trades
func (s *MemoryStore) TradeTotals(_ context.Context) (decimal.Decimal, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	volume := decimal.Zero
	for _, t := range s.trades {
		volume = volume.Add(t.Notional())
	}
	return volume, int64(len(s.trades)), nil
}

// SeedTrade appends a trade with an explicit timestamp and price, bypassing
// chain verification. Used for fixtures only.
func (s *MemoryStore) SeedTrade(t models.Trade) models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = int64(len(s.trades) + 1)
	if t.TxHash != nil {
		s.txHashes[*t.TxHash] = struct{}{}
	}
	s.trades = append(s.trades, t)
	return t
}

// sortNewestFirst orders by created_at desc, then id desc
func sortNewestFirst(tokens []models.Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if !tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
		}
		return tokens[i].ID > tokens[j].ID
	})
}

// sortByCreation orders by created_at desc, then contract address asc
func sortByCreation(tokens []models.Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if !tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
		}
		return tokens[i].ContractAddress < tokens[j].ContractAddress
	})
}
