package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/apperr"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/models"
)

// DefaultSessionTTL is the lifetime of an issued session token
const DefaultSessionTTL = time.Hour

// AuthService verifies wallet signatures and issues session tokens
type AuthService struct {
	Store  db.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an AuthService
type Option func(*AuthService)

// WithSessionTTL overrides the session lifetime
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *AuthService) { s.ttl = ttl }
}

// WithClock overrides the time source used for issuing and validating sessions
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithLogger sets the service logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *AuthService) { s.logger = logger.With().Str("component", "auth").Logger() }
}

// NewAuthService creates a new auth service
func NewAuthService(store db.Store, secret string, opts ...Option) *AuthService {
	s := &AuthService{
		Store:  store,
		secret: []byte(secret),
		ttl:    DefaultSessionTTL,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of a successful wallet connection
type Result struct {
	Wallet    *models.Wallet `json:"wallet"`
	IsNewUser bool           `json:"is_new_user"`
	Token     string         `json:"token"`
}

// Authenticate verifies that signature over message was produced by
// claimedAddress, creating the wallet on first sight, and issues a session.
// No wallet is created when verification fails.
func (s *AuthService) Authenticate(ctx context.Context, claimedAddress, message, signature string) (*Result, error) {
	if !common.IsHexAddress(claimedAddress) {
		return nil, apperr.New(apperr.InvalidInput, "address must be a 20-byte hex string")
	}
	if message == "" || signature == "" {
		return nil, apperr.New(apperr.InvalidInput, "message and signature are required")
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidSignature, "signature could not be recovered", err)
	}
	address := models.NormalizeAddress(claimedAddress)
	if !strings.EqualFold(recovered, address) {
		s.logger.Warn().Str("wallet", address).Str("recovered", recovered).Msg("Signature does not match address")
		return nil, apperr.ErrInvalidSignature
	}

	wallet, isNew, err := s.findOrCreate(ctx, address)
	if err != nil {
		return nil, err
	}

	token, err := s.IssueSession(wallet.ID)
	if err != nil {
		return nil, err
	}

	if isNew {
		s.logger.Info().Str("wallet", address).Int64("wallet_id", wallet.ID).Msg("Created wallet on first sign-in")
	}
	return &Result{Wallet: wallet, IsNewUser: isNew, Token: token}, nil
}

func (s *AuthService) findOrCreate(ctx context.Context, address string) (*models.Wallet, bool, error) {
	wallet, err := s.Store.GetWalletByAddress(ctx, address)
	if err == nil {
		return wallet, false, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, false, apperr.Wrap(apperr.Internal, "failed to look up wallet", err)
	}

	wallet, err = s.Store.CreateWallet(ctx, address)
	if errors.Is(err, db.ErrDuplicateKey) {
		// lost a race with a concurrent first sign-in
		wallet, err = s.Store.GetWalletByAddress(ctx, address)
		if err != nil {
			return nil, false, apperr.Wrap(apperr.Internal, "failed to look up wallet", err)
		}
		return wallet, false, nil
	}
	if err != nil {
		return nil, false, apperr.Wrap(apperr.WriteFailed, "failed to create wallet", err)
	}
	return wallet, true, nil
}

// IssueSession generates a JWT bound to walletID
func (s *AuthService) IssueSession(walletID int64) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(walletID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to sign session", err)
	}
	return tokenString, nil
}

// ValidateSession maps a session token back to its wallet id
func (s *AuthService) ValidateSession(tokenString string) (int64, error) {
	if tokenString == "" {
		return 0, apperr.ErrUnauthenticated
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, apperr.ErrSessionExpired
		}
		return 0, apperr.Wrap(apperr.Unauthenticated, "invalid session", err)
	}

	walletID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || walletID <= 0 {
		return 0, apperr.New(apperr.Unauthenticated, fmt.Sprintf("invalid session subject %q", claims.Subject))
	}
	return walletID, nil
}
