package db

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/xtrntr/memestream/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("memestream"),
		postgres.WithUsername("memestream"),
		postgres.WithPassword("memestream"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to start postgres container: %v\n", err)
		os.Exit(1)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get connection string: %v\n", err)
		os.Exit(1)
	}

	testDB, err = NewDB(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	if err := testDB.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requirePostgres(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres tests disabled in short mode")
	}
	_, err := testDB.Pool.Exec(context.Background(), "TRUNCATE TABLE trades, tokens, wallets RESTART IDENTITY")
	require.NoError(t, err)
}

func seedToken(t *testing.T, ctx context.Context, creator int64, contract string, price string) *models.Token {
	t.Helper()
	token, err := testDB.CreateToken(ctx, &models.Token{
		ContractAddress: contract,
		Name:            "Test Token",
		Symbol:          "TEST",
		TotalSupply:     decimal.NewFromInt(1000000),
		Price:           decimal.RequireFromString(price),
		CreatorID:       creator,
	})
	require.NoError(t, err)
	return token
}

func TestDB_CreateWallet(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	wallet, err := testDB.CreateWallet(ctx, "0xAbCdEf0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", wallet.Address)
	assert.Nil(t, wallet.Username)

	_, err = testDB.CreateWallet(ctx, "0xABCDEF0000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrDuplicateKey)

	found, err := testDB.GetWalletByAddress(ctx, "0xABCDEF0000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, found.ID)

	_, err = testDB.GetWalletByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	renamed, err := testDB.UpdateWalletUsername(ctx, wallet.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, renamed.Username)
	assert.Equal(t, "alice", *renamed.Username)
}

func TestDB_CreateToken(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	wallet, err := testDB.CreateWallet(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)

	tests := []struct {
		name        string
		token       *models.Token
		expectError error
	}{
		{
			name: "Success",
			token: &models.Token{
				ContractAddress: "0x00000000000000000000000000000000000000C1",
				Name:            "Coin",
				Symbol:          "COIN",
				TotalSupply:     decimal.NewFromInt(1000),
				Price:           decimal.RequireFromString("0.5"),
				CreatorID:       wallet.ID,
			},
		},
		{
			name: "DuplicateContract",
			token: &models.Token{
				ContractAddress: "0x00000000000000000000000000000000000000c1",
				Name:            "Coin",
				Symbol:          "COIN",
				TotalSupply:     decimal.NewFromInt(1000),
				Price:           decimal.RequireFromString("0.5"),
				CreatorID:       wallet.ID,
			},
			expectError: ErrDuplicateKey,
		},
		{
			name: "UnknownCreator",
			token: &models.Token{
				ContractAddress: "0x00000000000000000000000000000000000000c2",
				Name:            "Coin",
				Symbol:          "COIN",
				TotalSupply:     decimal.NewFromInt(1000),
				Price:           decimal.RequireFromString("0.5"),
				CreatorID:       999,
			},
			expectError: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := testDB.CreateToken(ctx, tt.token)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0x00000000000000000000000000000000000000c1", token.ContractAddress)
			assert.True(t, token.Price.Equal(decimal.RequireFromString("0.5")))
			assert.Equal(t, "active", token.Status)
		})
	}
}

func TestDB_AppendTrade(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	wallet, err := testDB.CreateWallet(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	token := seedToken(t, ctx, wallet.ID, "0x00000000000000000000000000000000000000c1", "1.25")

	hash := "0x" + fmt.Sprintf("%064x", 1)
	trade, updated, err := testDB.AppendTrade(ctx, NewTrade{
		TokenID:  token.ID,
		WalletID: wallet.ID,
		Side:     models.SideBuy,
		Amount:   decimal.NewFromInt(100),
		TxHash:   &hash,
	})
	require.NoError(t, err)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("1.25")), "price comes from the token row")
	assert.True(t, updated.Price.Equal(trade.Price))
	require.NotNil(t, trade.TxHash)
	assert.Equal(t, hash, *trade.TxHash)

	_, _, err = testDB.AppendTrade(ctx, NewTrade{
		TokenID:  token.ID,
		WalletID: wallet.ID,
		Side:     models.SideSell,
		Amount:   decimal.NewFromInt(1),
		TxHash:   &hash,
	})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, _, err = testDB.AppendTrade(ctx, NewTrade{TokenID: 999, WalletID: wallet.ID, Side: models.SideBuy, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)

	// seeded records carry no hash and may repeat
	for i := 0; i < 2; i++ {
		_, _, err = testDB.AppendTrade(ctx, NewTrade{TokenID: token.ID, WalletID: wallet.ID, Side: models.SideSell, Amount: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}

	trades, err := testDB.ListTrades(ctx, TradeQuery{TokenID: token.ID})
	require.NoError(t, err)
	require.Len(t, trades, 3)
	for i := 1; i < len(trades); i++ {
		assert.False(t, trades[i].CreatedAt.Before(trades[i-1].CreatedAt))
		assert.Greater(t, trades[i].ID, trades[i-1].ID)
	}

	volume, count, err := testDB.TradeTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.True(t, volume.Equal(decimal.RequireFromString("150")), "got %s", volume)
}

func TestDB_AppendTrade_Concurrent(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	wallet, err := testDB.CreateWallet(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	token := seedToken(t, ctx, wallet.ID, "0x00000000000000000000000000000000000000c1", "1")

	hash := "0x" + fmt.Sprintf("%064x", 7)
	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := testDB.AppendTrade(ctx, NewTrade{
				TokenID:  token.ID,
				WalletID: wallet.ID,
				Side:     models.SideBuy,
				Amount:   decimal.NewFromInt(5),
				TxHash:   &hash,
			})
			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "a tx hash is recordable exactly once")
}

func TestDB_FilterTokens(t *testing.T) {
	requirePostgres(t)
	ctx := context.Background()

	alice, err := testDB.CreateWallet(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	bob, err := testDB.CreateWallet(ctx, "0x00000000000000000000000000000000000000bb")
	require.NoError(t, err)

	cheap := seedToken(t, ctx, alice.ID, "0x00000000000000000000000000000000000000c1", "1")
	pricey := seedToken(t, ctx, alice.ID, "0x00000000000000000000000000000000000000c2", "10")

	appendTrade := func(token, wallet int64, side models.Side, amount int64) {
		_, _, err := testDB.AppendTrade(ctx, NewTrade{TokenID: token, WalletID: wallet, Side: side, Amount: decimal.NewFromInt(amount)})
		require.NoError(t, err)
	}
	appendTrade(cheap.ID, alice.ID, models.SideBuy, 100)
	appendTrade(cheap.ID, bob.ID, models.SideBuy, 50)
	appendTrade(pricey.ID, alice.ID, models.SideBuy, 20)

	tests := []struct {
		filter models.TokenFilter
		expect []int64
	}{
		{models.FilterHighestMarketCap, []int64{pricey.ID, cheap.ID}},
		{models.FilterMostVolume, []int64{pricey.ID, cheap.ID}},
		{models.FilterMostHolders, []int64{cheap.ID, pricey.ID}},
	}

	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			tokens, err := testDB.FilterTokens(ctx, tt.filter, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			var ids []int64
			for _, tok := range tokens {
				ids = append(ids, tok.ID)
			}
			assert.Equal(t, tt.expect, ids)
		})
	}
}
