// Package token holds the value-transfer capability used for staking and
// settlement. The engines compute splits and custody moves; actual balances
// live with the platform's token contract.
package token

import (
	"context"
	"sync"

	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
)

// Transferer moves amount from one principal to another. Implementations
// must be atomic per call: either the full amount moves or nothing does.
type Transferer interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
}

// Book is an in-process account book implementing Transferer. It backs local
// runs and tests; production wires the platform token bridge instead.
type Book struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewBook creates an empty account book.
func NewBook() *Book {
	return &Book{balances: make(map[string]int64)}
}

// Credit mints amount into an account. Setup helper.
func (b *Book) Credit(account string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
}

// Balance reports an account's current balance.
func (b *Book) Balance(account string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Transfer moves amount between accounts, failing whole if funds are short.
func (b *Book) Transfer(_ context.Context, from, to string, amount int64) error {
	if amount <= 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "transfer amount must be positive")
	}
	if from == to {
		return xerrors.New(xerrors.CodeInvalidInput, "transfer to self")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return xerrors.Newf(xerrors.CodeInvalidState, "insufficient balance for %s", from)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}
