package db

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/models"
)

// Store errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a unique key (address, contract, tx hash) already exists.
	ErrDuplicateKey = errors.New("duplicate key")
)

// NewTrade is the input of an append. Price is not part of it: the store
// copies the token's current price inside the append transaction.
type NewTrade struct {
	TokenID  int64
	WalletID int64
	Side     models.Side
	Amount   decimal.Decimal
	TxHash   *string
}

// TradeQuery filters ledger reads. Zero values mean "no filter".
type TradeQuery struct {
	TokenID  int64
	WalletID int64
	Since    time.Time
	Limit    int
	// Newest first instead of chronological order
	Desc bool
}

// Store is the transactional record store behind every memestream component
type Store interface {
	CreateWallet(ctx context.Context, address string) (*models.Wallet, error)
	GetWalletByID(ctx context.Context, id int64) (*models.Wallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error)
	GetWalletsByIDs(ctx context.Context, ids []int64) (map[int64]models.Wallet, error)
	UpdateWalletUsername(ctx context.Context, id int64, username string) (*models.Wallet, error)
	CountWallets(ctx context.Context) (int64, error)

	CreateToken(ctx context.Context, token *models.Token) (*models.Token, error)
	GetTokenByID(ctx context.Context, id int64) (*models.Token, error)
	GetTokenByContract(ctx context.Context, contract string) (*models.Token, error)
	GetTokensByIDs(ctx context.Context, ids []int64) (map[int64]models.Token, error)
	ListTokensByCreator(ctx context.Context, creatorID int64) ([]models.Token, error)
	ListNewTokens(ctx context.Context, limit int) ([]models.Token, error)
	FilterTokens(ctx context.Context, filter models.TokenFilter, since time.Time) ([]models.Token, error)

	// AppendTrade atomically inserts a trade priced at the token's current
	// price and propagates that price to the token row. Returns ErrNotFound
	// for a missing token or wallet and ErrDuplicateKey for a reused tx hash.
	AppendTrade(ctx context.Context, trade NewTrade) (*models.Trade, *models.Token, error)
	ListTrades(ctx context.Context, q TradeQuery) ([]models.Trade, error)
	TradeTotals(ctx context.Context) (volume decimal.Decimal, count int64, err error)
}
