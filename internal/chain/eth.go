package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/xtrntr/memestream/internal/metrics"
	"golang.org/x/time/rate"
)

// EthOracle answers Oracle queries from an EVM JSON-RPC node
type EthOracle struct {
	client  *ethclient.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ Oracle = (*EthOracle)(nil)

// DialEthOracle connects to rpcURL. rps bounds the request rate to the node.
func DialEthOracle(ctx context.Context, rpcURL string, rps float64, logger zerolog.Logger) (*EthOracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}

	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &EthOracle{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With().Str("component", "eth_oracle").Logger(),
	}, nil
}

// Close releases the RPC connection
func (o *EthOracle) Close() {
	o.client.Close()
}

// GetTransaction fetches a transaction, its block number and its recovered sender
func (o *EthOracle) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	h := common.HexToHash(hash)

	var (
		tx      *Transaction
		pending bool
	)
	err := o.observe(ctx, "get_transaction", func() error {
		t, isPending, err := o.client.TransactionByHash(ctx, h)
		if err != nil {
			return err
		}
		pending = isPending
		if pending {
			tx = &Transaction{Hash: h.Hex(), Pending: true}
			return nil
		}

		receipt, err := o.client.TransactionReceipt(ctx, h)
		if err != nil {
			return err
		}
		sender, err := o.client.TransactionSender(ctx, t, receipt.BlockHash, receipt.TransactionIndex)
		if err != nil {
			return fmt.Errorf("recover sender: %w", err)
		}

		tx = &Transaction{
			Hash:        h.Hex(),
			Sender:      strings.ToLower(sender.Hex()),
			BlockNumber: receipt.BlockNumber.Uint64(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// GetBlock fetches the header of block number
func (o *EthOracle) GetBlock(ctx context.Context, number uint64) (*Block, error) {
	var block *Block
	err := o.observe(ctx, "get_block", func() error {
		header, err := o.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		block = &Block{
			Number:    number,
			Timestamp: time.Unix(int64(header.Time), 0).UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

// observe waits for the rate limiter, runs call and records its latency
func (o *EthOracle) observe(ctx context.Context, method string, call func() error) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	err := call()
	elapsed := time.Since(start).Seconds()

	switch {
	case err == nil:
		metrics.RecordOracleCall(method, "ok", elapsed)
		return nil
	case errors.Is(err, ethereum.NotFound):
		metrics.RecordOracleCall(method, "not_found", elapsed)
		return ErrNotFound
	default:
		metrics.RecordOracleCall(method, "error", elapsed)
		o.logger.Error().Err(err).Str("method", method).Msg("RPC call failed")
		return err
	}
}
