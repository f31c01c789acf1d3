package chain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by an Oracle when the transaction or block does not exist
var ErrNotFound = errors.New("not found on chain")

// Transaction is what the verifier needs to know about an on-chain transaction
type Transaction struct {
	Hash        string
	Sender      string
	BlockNumber uint64
	// Pending transactions have no block yet
	Pending bool
}

// Block carries the timestamp of a mined block
type Block struct {
	Number    uint64
	Timestamp time.Time
}

// Oracle is a read-only view of the blockchain
type Oracle interface {
	GetTransaction(ctx context.Context, hash string) (*Transaction, error)
	GetBlock(ctx context.Context, number uint64) (*Block, error)
}
