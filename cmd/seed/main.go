package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/ledger"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/models"
)

var seedWallets = []string{
	"0x1111111111111111111111111111111111111111",
	"0x2222222222222222222222222222222222222222",
	"0x3333333333333333333333333333333333333333",
}

const seedContract = "0x000000000000000000000000000000000000dead"

// Seed the database with demo wallets, a token and internally seeded trades
func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}
	lg := logger.New(os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		lg.Fatal().Msg("DATABASE_URL is required")
	}

	ctx := context.Background()
	database, err := db.NewDB(ctx, dsn)
	if err != nil {
		lg.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close(ctx)

	if err := database.Migrate(ctx); err != nil {
		lg.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	// First check if we already have trades
	_, count, err := database.TradeTotals(ctx)
	if err != nil {
		lg.Fatal().Err(err).Msg("Failed to check trades")
	}
	if count > 0 {
		lg.Info().Int64("trades", count).Msg("Database already has trades. No need to seed.")
		return
	}

	wallets := make([]*models.Wallet, len(seedWallets))
	for i, addr := range seedWallets {
		if wallets[i], err = findOrCreateWallet(ctx, database, addr); err != nil {
			lg.Fatal().Err(err).Str("wallet", addr).Msg("Failed to create wallet")
		}
	}

	token, err := database.GetTokenByContract(ctx, seedContract)
	if errors.Is(err, db.ErrNotFound) {
		token, err = database.CreateToken(ctx, &models.Token{
			ContractAddress: seedContract,
			Name:            "Seed Token",
			Symbol:          "SEED",
			Description:     "Demo token created by the seeder",
			TotalSupply:     decimal.NewFromInt(1_000_000),
			Price:           decimal.RequireFromString("0.0042"),
			Status:          "active",
			CreatorID:       wallets[0].ID,
		})
	}
	if err != nil {
		lg.Fatal().Err(err).Msg("Failed to create token")
	}

	l := ledger.New(database, lg)
	orders := []struct {
		wallet int
		side   models.Side
		amount string
	}{
		{1, models.SideBuy, "25000"},
		{2, models.SideBuy, "10000"},
		{1, models.SideSell, "5000"},
		{0, models.SideBuy, "1500"},
	}
	for _, o := range orders {
		_, _, err := l.SeedTrade(ctx, wallets[o.wallet].ID, ledger.Order{
			TokenID: token.ID,
			Side:    o.side,
			Amount:  decimal.RequireFromString(o.amount),
		})
		if err != nil {
			lg.Fatal().Err(err).Msg("Failed to seed trade")
		}
	}

	lg.Info().Int("trades", len(orders)).Str("token", token.ContractAddress).Msg("Successfully seeded the database")
}

func findOrCreateWallet(ctx context.Context, store db.Store, address string) (*models.Wallet, error) {
	wallet, err := store.GetWalletByAddress(ctx, address)
	if errors.Is(err, db.ErrNotFound) {
		return store.CreateWallet(ctx, address)
	}
	return wallet, err
}
