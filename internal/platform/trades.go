package platform

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/broadcast"
	"github.com/xtrntr/memestream/internal/chart"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/ledger"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/metrics"
	"github.com/xtrntr/memestream/internal/models"
)

// TradeInput is a trade claimed by a client. There is no price: trades are
// recorded at the token's current price.
type TradeInput struct {
	ContractAddress string          `json:"token_id"`
	Side            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	TxHash          string          `json:"tx_hash"`
	// Optional; must be the session's wallet when set
	WalletAddress string `json:"wallet_address"`
}

// ChartUpdate is the payload of a chartDataUpdate event
type ChartUpdate struct {
	TokenID   string       `json:"tokenId"`
	ChartData []models.Bar `json:"chartData"`
}

// SubmitTrade verifies a claimed on-chain trade and appends it to the ledger
func (s *Service) SubmitTrade(ctx context.Context, session string, in TradeInput) (*models.TradeView, error) {
	trade, err := s.submitTrade(ctx, session, in)
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.RecordRejection(string(kind))
		log := logger.WithTxHash(s.logger, in.TxHash)
		log.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("token", in.ContractAddress).
			Msg("Trade rejected")
		return nil, err
	}
	return trade, nil
}

func (s *Service) submitTrade(ctx context.Context, session string, in TradeInput) (*models.TradeView, error) {
	wallet, err := s.sessionWallet(ctx, session)
	if err != nil {
		return nil, err
	}
	if in.WalletAddress != "" && !strings.EqualFold(strings.TrimSpace(in.WalletAddress), wallet.Address) {
		return nil, apperr.New(apperr.Forbidden, "wallet address does not match the session")
	}

	// The chain proof is checked before anything about the order itself
	proof, err := s.verifier.VerifyTrade(ctx, in.TxHash, wallet.Address)
	if err != nil {
		return nil, err
	}

	side, ok := models.ParseSide(in.Side)
	if !ok {
		return nil, apperr.Newf(apperr.InvalidInput, "type must be buy or sell, got %q", in.Side)
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.New(apperr.InvalidInput, "amount must be positive")
	}

	token, err := s.tokenByContract(ctx, in.ContractAddress)
	if err != nil {
		return nil, err
	}

	trade, token, err := s.ledger.RecordTrade(ctx, proof, wallet, ledger.Order{
		TokenID: token.ID,
		Side:    side,
		Amount:  in.Amount,
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTrade(string(trade.Side))
	s.charts.RecordPoint(token.ID, chart.PointFromTrade(*trade))

	view := models.NewTradeView(*trade, *token, wallet.Address)
	s.publish(ctx, broadcast.EventNewTrade, view)
	s.publishChart(ctx, token)
	return &view, nil
}

// ApplyTradeEvent drops the cached chart of the token named by a newTrade
// payload. Instances sharing a store call it for trades recorded elsewhere.
func (s *Service) ApplyTradeEvent(ctx context.Context, data json.RawMessage) error {
	var view models.TradeView
	if err := json.Unmarshal(data, &view); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "decode trade event", err)
	}
	token, err := s.tokenByContract(ctx, view.ContractAddress)
	if err != nil {
		return err
	}
	s.charts.Invalidate(token.ID)
	return nil
}

func (s *Service) publishChart(ctx context.Context, token *models.Token) {
	points, err := s.charts.Points(ctx, token.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("token", token.ContractAddress).Msg("Failed to load chart for update")
		return
	}
	bars, err := chart.Bars(points, s.bucket)
	if err != nil {
		return
	}
	s.publish(ctx, broadcast.EventChartDataUpdate, ChartUpdate{TokenID: token.ContractAddress, ChartData: bars})
}

// RecentTrades lists a token's newest trades, newest first
func (s *Service) RecentTrades(ctx context.Context, contract string) ([]models.TradeView, error) {
	token, err := s.tokenByContract(ctx, contract)
	if err != nil {
		return nil, err
	}

	trades, err := s.ledger.Trades(ctx, db.TradeQuery{TokenID: token.ID, Limit: recentTradesLimit, Desc: true})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(trades))
	for _, t := range trades {
		ids = append(ids, t.WalletID)
	}
	wallets, err := s.store.GetWalletsByIDs(ctx, ids)
	if err != nil {
		return nil, storeError(err, apperr.WalletNotFound, "load traders")
	}

	views := make([]models.TradeView, len(trades))
	for i, t := range trades {
		views[i] = models.NewTradeView(t, *token, wallets[t.WalletID].Address)
	}
	return views, nil
}
