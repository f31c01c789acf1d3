package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/models"
	"github.com/xtrntr/memestream/migrations"
)

// PostgreSQL error codes
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

const (
	walletColumns = "id, address, username, image, created_at"
	tokenColumns  = "id, contract_address, name, symbol, description, image, website, twitter, " +
		"total_supply::text, price::text, status, creator_id, created_at, updated_at"
	tradeColumns = "id, token_id, wallet_id, side, amount::text, price::text, tx_hash, created_at"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

var _ Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded schema files in lexical order. Migrations are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrations.FS, file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}
	return nil
}

// CreateWallet inserts a wallet for a normalized address
func (db *DB) CreateWallet(ctx context.Context, address string) (*models.Wallet, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO wallets (address) VALUES ($1) RETURNING "+walletColumns,
		models.NormalizeAddress(address))
	wallet, err := scanWallet(row)
	if err != nil {
		if isPgError(err, pgErrUniqueViolation) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return wallet, nil
}

// GetWalletByID retrieves a wallet by id
func (db *DB) GetWalletByID(ctx context.Context, id int64) (*models.Wallet, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE id = $1", id)
	wallet, err := scanWallet(row)
	if err != nil {
		return nil, notFoundOr(err, "failed to get wallet")
	}
	return wallet, nil
}

// GetWalletByAddress retrieves a wallet by address, case-insensitively
func (db *DB) GetWalletByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE address = $1",
		models.NormalizeAddress(address))
	wallet, err := scanWallet(row)
	if err != nil {
		return nil, notFoundOr(err, "failed to get wallet")
	}
	return wallet, nil
}

// GetWalletsByIDs retrieves the wallets with the given ids; missing ids are skipped
func (db *DB) GetWalletsByIDs(ctx context.Context, ids []int64) (map[int64]models.Wallet, error) {
	wallets := make(map[int64]models.Wallet, len(ids))
	if len(ids) == 0 {
		return wallets, nil
	}
	rows, err := db.Pool.Query(ctx, "SELECT "+walletColumns+" FROM wallets WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets[wallet.ID] = *wallet
	}
	return wallets, rows.Err()
}

// UpdateWalletUsername renames a wallet
func (db *DB) UpdateWalletUsername(ctx context.Context, id int64, username string) (*models.Wallet, error) {
	row := db.Pool.QueryRow(ctx,
		"UPDATE wallets SET username = $1 WHERE id = $2 RETURNING "+walletColumns,
		username, id)
	wallet, err := scanWallet(row)
	if err != nil {
		return nil, notFoundOr(err, "failed to update username")
	}
	return wallet, nil
}

// CountWallets returns the number of known wallets
func (db *DB) CountWallets(ctx context.Context) (int64, error) {
	var n int64
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM wallets").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count wallets: %w", err)
	}
	return n, nil
}

// CreateToken inserts a new token
func (db *DB) CreateToken(ctx context.Context, token *models.Token) (*models.Token, error) {
	status := token.Status
	if status == "" {
		status = "active"
	}
	row := db.Pool.QueryRow(ctx,
		`INSERT INTO tokens (contract_address, name, symbol, description, image, website, twitter,
			total_supply, price, status, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11)
		RETURNING `+tokenColumns,
		models.NormalizeAddress(token.ContractAddress), token.Name, token.Symbol, token.Description,
		token.Image, token.Website, token.Twitter, token.TotalSupply.String(), token.Price.String(),
		status, token.CreatorID)
	created, err := scanToken(row)
	if err != nil {
		switch {
		case isPgError(err, pgErrUniqueViolation):
			return nil, ErrDuplicateKey
		case isPgError(err, pgErrForeignKeyViolation):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return created, nil
}

// GetTokenByID retrieves a token by id
func (db *DB) GetTokenByID(ctx context.Context, id int64) (*models.Token, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+tokenColumns+" FROM tokens WHERE id = $1", id)
	token, err := scanToken(row)
	if err != nil {
		return nil, notFoundOr(err, "failed to get token")
	}
	return token, nil
}

// GetTokenByContract retrieves a token by contract address
func (db *DB) GetTokenByContract(ctx context.Context, contract string) (*models.Token, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+tokenColumns+" FROM tokens WHERE contract_address = $1",
		models.NormalizeAddress(contract))
	token, err := scanToken(row)
	if err != nil {
		return nil, notFoundOr(err, "failed to get token")
	}
	return token, nil
}

// GetTokensByIDs retrieves the tokens with the given ids; missing ids are skipped
func (db *DB) GetTokensByIDs(ctx context.Context, ids []int64) (map[int64]models.Token, error) {
	tokens := make(map[int64]models.Token, len(ids))
	if len(ids) == 0 {
		return tokens, nil
	}
	list, err := db.queryTokens(ctx, "SELECT "+tokenColumns+" FROM tokens WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	for _, t := range list {
		tokens[t.ID] = t
	}
	return tokens, nil
}

// ListTokensByCreator retrieves the tokens a wallet created, newest first
func (db *DB) ListTokensByCreator(ctx context.Context, creatorID int64) ([]models.Token, error) {
	return db.queryTokens(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE creator_id = $1 ORDER BY created_at DESC, id DESC",
		creatorID)
}

// ListNewTokens retrieves the most recently created tokens
func (db *DB) ListNewTokens(ctx context.Context, limit int) ([]models.Token, error) {
	return db.queryTokens(ctx,
		"SELECT "+tokenColumns+" FROM tokens ORDER BY created_at DESC, id DESC LIMIT $1",
		limit)
}

// filterQueries holds one explicit query per listing strategy. Every strategy
// breaks ties by contract address ascending. $1 is the timeframe lower bound.
var filterQueries = map[models.TokenFilter]string{
	models.FilterAll: `SELECT ` + tokenColumns + ` FROM tokens
		ORDER BY created_at DESC, contract_address ASC`,

	models.FilterNewlyCreated: `SELECT ` + tokenColumns + ` FROM tokens
		WHERE created_at >= $1
		ORDER BY created_at DESC, contract_address ASC`,

	models.FilterHighestMarketCap: `SELECT ` + tokenColumns + ` FROM tokens
		WHERE created_at >= $1
		ORDER BY price * total_supply DESC, contract_address ASC`,

	models.FilterMostVolume: `SELECT ` + prefixed("t", tokenColumns) + ` FROM tokens t
		JOIN (
			SELECT token_id, SUM(amount * price) AS volume FROM trades
			WHERE created_at >= $1 GROUP BY token_id
		) v ON v.token_id = t.id
		ORDER BY v.volume DESC, t.contract_address ASC`,

	models.FilterMostHolders: `SELECT ` + prefixed("t", tokenColumns) + ` FROM tokens t
		LEFT JOIN (
			SELECT token_id, COUNT(*) AS holders FROM (
				SELECT token_id, wallet_id FROM trades
				GROUP BY token_id, wallet_id
				HAVING SUM(CASE side WHEN 'BUY' THEN amount ELSE -amount END) > 0
			) positive GROUP BY token_id
		) h ON h.token_id = t.id
		WHERE EXISTS (SELECT 1 FROM trades x WHERE x.token_id = t.id AND x.created_at >= $1)
		ORDER BY COALESCE(h.holders, 0) DESC, t.contract_address ASC`,
}

// FilterTokens lists tokens using the query of the given strategy
func (db *DB) FilterTokens(ctx context.Context, filter models.TokenFilter, since time.Time) ([]models.Token, error) {
	query, ok := filterQueries[filter]
	if !ok {
		return nil, fmt.Errorf("unknown token filter %q", filter)
	}
	if filter == models.FilterAll {
		return db.queryTokens(ctx, query)
	}
	return db.queryTokens(ctx, query, since)
}

// AppendTrade inserts a trade and propagates its price to the token in one transaction
func (db *DB) AppendTrade(ctx context.Context, trade NewTrade) (*models.Trade, *models.Token, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the token row: serializes appends per token and pins the price
	var priceText string
	err = tx.QueryRow(ctx, "SELECT price::text FROM tokens WHERE id = $1 FOR UPDATE", trade.TokenID).Scan(&priceText)
	if err != nil {
		return nil, nil, notFoundOr(err, "failed to lock token")
	}

	// created_at never goes backwards for a token, so (created_at, id) is a stable order
	row := tx.QueryRow(ctx,
		`INSERT INTO trades (token_id, wallet_id, side, amount, price, tx_hash, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6,
			GREATEST(clock_timestamp(), (SELECT MAX(created_at) FROM trades WHERE token_id = $1)))
		RETURNING `+tradeColumns,
		trade.TokenID, trade.WalletID, string(trade.Side), trade.Amount.String(), priceText, trade.TxHash)
	recorded, err := scanTrade(row)
	if err != nil {
		switch {
		case isPgError(err, pgErrUniqueViolation):
			return nil, nil, ErrDuplicateKey
		case isPgError(err, pgErrForeignKeyViolation):
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to insert trade: %w", err)
	}

	row = tx.QueryRow(ctx,
		"UPDATE tokens SET price = $1::numeric, updated_at = NOW() WHERE id = $2 RETURNING "+tokenColumns,
		priceText, trade.TokenID)
	token, err := scanToken(row)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update token price: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return recorded, token, nil
}

// ListTrades reads ledger events ordered by (created_at, id)
func (db *DB) ListTrades(ctx context.Context, q TradeQuery) ([]models.Trade, error) {
	var (
		where []string
		args  []any
	)
	if q.TokenID != 0 {
		args = append(args, q.TokenID)
		where = append(where, fmt.Sprintf("token_id = $%d", len(args)))
	}
	if q.WalletID != 0 {
		args = append(args, q.WalletID)
		where = append(where, fmt.Sprintf("wallet_id = $%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := "SELECT " + tradeColumns + " FROM trades"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Desc {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// TradeTotals returns Σ amount × price and the number of trades
func (db *DB) TradeTotals(ctx context.Context) (decimal.Decimal, int64, error) {
	var (
		volumeText string
		count      int64
	)
	err := db.Pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount * price), 0)::text, COUNT(*) FROM trades").Scan(&volumeText, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to sum trades: %w", err)
	}
	volume, err := decimal.NewFromString(volumeText)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to parse volume: %w", err)
	}
	return volume, count, nil
}

func (db *DB) queryTokens(ctx context.Context, query string, args ...any) ([]models.Token, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	return tokens, nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	w := &models.Wallet{}
	if err := row.Scan(&w.ID, &w.Address, &w.Username, &w.Image, &w.CreatedAt); err != nil {
		return nil, err
	}
	return w, nil
}

func scanToken(row pgx.Row) (*models.Token, error) {
	t := &models.Token{}
	var supplyText, priceText string
	err := row.Scan(&t.ID, &t.ContractAddress, &t.Name, &t.Symbol, &t.Description, &t.Image,
		&t.Website, &t.Twitter, &supplyText, &priceText, &t.Status, &t.CreatorID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.TotalSupply, err = decimal.NewFromString(supplyText); err != nil {
		return nil, fmt.Errorf("parse total supply: %w", err)
	}
	if t.Price, err = decimal.NewFromString(priceText); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	return t, nil
}

func scanTrade(row pgx.Row) (*models.Trade, error) {
	t := &models.Trade{}
	var side, amountText, priceText string
	err := row.Scan(&t.ID, &t.TokenID, &t.WalletID, &side, &amountText, &priceText, &t.TxHash, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Side = models.Side(side)
	if t.Amount, err = decimal.NewFromString(amountText); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if t.Price, err = decimal.NewFromString(priceText); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	return t, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
