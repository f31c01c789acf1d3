// Package platform composes authentication, verification, the ledger and
// charts into the operations exposed to the API layer.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/auth"
	"github.com/xtrntr/memestream/internal/broadcast"
	"github.com/xtrntr/memestream/internal/chain"
	"github.com/xtrntr/memestream/internal/chart"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/ledger"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/models"
)

const (
	newTokensLimit    = 10
	recentTradesLimit = 20
)

// TradeVerifier confirms claimed trades on chain
type TradeVerifier interface {
	VerifyTrade(ctx context.Context, txHash, claimedWallet string) (*chain.VerifiedTrade, error)
}

// Service implements every public memestream operation
type Service struct {
	store     db.Store
	auth      *auth.AuthService
	verifier  TradeVerifier
	ledger    *ledger.Ledger
	charts    *chart.Cache
	publisher broadcast.Publisher

	bucket   time.Duration
	chartTTL time.Duration
	now      func() time.Time
	root     zerolog.Logger
	logger   zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithChartBucket sets the bar width used when none is requested
func WithChartBucket(d time.Duration) Option {
	return func(s *Service) { s.bucket = d }
}

// WithChartTTL bounds how long a cached point series is served
func WithChartTTL(d time.Duration) Option {
	return func(s *Service) { s.chartTTL = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.root = log }
}

// NewService wires the components together
func NewService(store db.Store, authService *auth.AuthService, verifier TradeVerifier, publisher broadcast.Publisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		auth:      authService,
		verifier:  verifier,
		publisher: publisher,
		bucket:    chart.DefaultBucket,
		now:       time.Now,
		root:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = broadcast.Nop{}
	}

	s.logger = logger.WithComponent(s.root, "platform")
	s.ledger = ledger.New(store, s.root)
	s.charts = chart.NewCache(s.loadPoints, chart.WithTTL(s.chartTTL))
	return s
}

// ValidateSession maps a session token to its wallet id
func (s *Service) ValidateSession(token string) (int64, error) {
	return s.auth.ValidateSession(token)
}

func (s *Service) loadPoints(ctx context.Context, tokenID int64) ([]chart.Point, error) {
	trades, err := s.ledger.Trades(ctx, db.TradeQuery{TokenID: tokenID})
	if err != nil {
		return nil, err
	}
	return chart.PointsFromTrades(trades), nil
}

// sessionWallet resolves a session token to its wallet
func (s *Service) sessionWallet(ctx context.Context, session string) (*models.Wallet, error) {
	walletID, err := s.auth.ValidateSession(session)
	if err != nil {
		return nil, err
	}
	wallet, err := s.store.GetWalletByID(ctx, walletID)
	if err != nil {
		return nil, storeError(err, apperr.WalletNotFound, "load session wallet")
	}
	return wallet, nil
}

func (s *Service) tokenByContract(ctx context.Context, contract string) (*models.Token, error) {
	token, err := s.store.GetTokenByContract(ctx, models.NormalizeAddress(contract))
	if err != nil {
		return nil, storeError(err, apperr.TokenNotFound, "load token")
	}
	return token, nil
}

// publish is fire-and-forget: failures are logged, never returned
func (s *Service) publish(ctx context.Context, event string, payload any) {
	if err := s.publisher.Publish(ctx, event, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("Failed to publish event")
	}
}

// storeError classifies a store failure. ErrNotFound becomes notFound,
// anything else is Internal.
func storeError(err error, notFound apperr.Kind, op string) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.Wrap(notFound, op, err)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Wrap(apperr.Internal, op, err)
}
