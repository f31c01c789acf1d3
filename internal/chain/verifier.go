package chain

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/apperr"
)

const (
	// DefaultFreshnessWindow is the maximum accepted age of a trade's transaction
	DefaultFreshnessWindow = 180 * time.Second
	// DefaultOracleTimeout bounds all oracle calls made for one verification
	DefaultOracleTimeout = 10 * time.Second
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// VerifiedTrade is proof that a claimed transaction exists, was sent by the
// claimed wallet and is fresh. Only Verifier produces non-zero values.
type VerifiedTrade struct {
	TxHash      string
	Sender      string
	BlockNumber uint64
	Timestamp   time.Time
}

// Valid reports whether v came out of a successful verification
func (v VerifiedTrade) Valid() bool {
	return v.TxHash != "" && v.Sender != "" && !v.Timestamp.IsZero()
}

// Verifier confirms claimed trades against the chain
type Verifier struct {
	oracle    Oracle
	freshness time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithFreshnessWindow overrides the maximum transaction age
func WithFreshnessWindow(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.freshness = d }
}

// WithOracleTimeout overrides the oracle deadline
func WithOracleTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.timeout = d }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithLogger sets the verifier logger
func WithLogger(logger zerolog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger.With().Str("component", "verifier").Logger() }
}

// NewVerifier creates a verifier over oracle
func NewVerifier(oracle Oracle, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		oracle:    oracle,
		freshness: DefaultFreshnessWindow,
		timeout:   DefaultOracleTimeout,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// NormalizeTxHash lowercases txHash and checks it is a 32-byte hex hash
func NormalizeTxHash(txHash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(txHash))
	if !txHashPattern.MatchString(h) {
		return "", apperr.New(apperr.InvalidInput, "tx hash must be 0x followed by 64 hex characters")
	}
	return h, nil
}

// VerifyTrade checks, cheapest first, that txHash exists, was sent by
// claimedWallet and is no older than the freshness window. Each failure has
// its own error kind; oracle timeouts and transport failures surface as
// OracleUnavailable.
func (v *Verifier) VerifyTrade(ctx context.Context, txHash, claimedWallet string) (*VerifiedTrade, error) {
	hash, err := NormalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}
	log := v.logger.With().Str("tx_hash", hash).Str("wallet", claimedWallet).Logger()

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	tx, err := v.oracle.GetTransaction(ctx, hash)
	if err != nil {
		return nil, v.oracleError(log, "get transaction", err)
	}
	if tx.Pending {
		return nil, apperr.New(apperr.TransactionNotFound, "transaction is not mined yet")
	}

	if !strings.EqualFold(tx.Sender, strings.TrimSpace(claimedWallet)) {
		log.Warn().Str("sender", tx.Sender).Msg("Transaction sender mismatch")
		return nil, apperr.ErrSenderMismatch
	}

	block, err := v.oracle.GetBlock(ctx, tx.BlockNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Wrap(apperr.OracleUnavailable, "block of mined transaction not found", err)
		}
		return nil, v.oracleError(log, "get block", err)
	}

	age := v.now().Sub(block.Timestamp)
	if age > v.freshness {
		log.Warn().Dur("age", age).Msg("Stale transaction")
		return nil, apperr.Newf(apperr.StaleTransaction,
			"transaction is %s old, limit is %s", age.Truncate(time.Second), v.freshness)
	}

	return &VerifiedTrade{
		TxHash:      hash,
		Sender:      strings.ToLower(tx.Sender),
		BlockNumber: tx.BlockNumber,
		Timestamp:   block.Timestamp,
	}, nil
}

func (v *Verifier) oracleError(log zerolog.Logger, op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.ErrTransactionNotFound
	}
	log.Error().Err(err).Str("op", op).Msg("Chain oracle unavailable")
	return apperr.Wrap(apperr.OracleUnavailable, op, err)
}
