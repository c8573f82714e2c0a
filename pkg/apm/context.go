package apm

import (
	"context"
	"sync"
)

// txKeyType is a private type for context keys to avoid collisions.
type txKeyType string

const txKey txKeyType = "outspan"

// ContextWithTransaction returns a context carrying tx as the active
// transaction. The association survives goroutine hops and suspension
// points, the context is the flow-scoped carrier.
func ContextWithTransaction(ctx context.Context, tx *Transaction) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, txKey, tx)
}

// TransactionFromContext extracts the active transaction, nil if none.
func TransactionFromContext(ctx context.Context) *Transaction {
	if ctx == nil {
		return nil
	}
	if tx, ok := ctx.Value(txKey).(*Transaction); ok {
		return tx
	}
	return nil
}

// Scope tracks the active transaction for one logical flow in hosts
// whose instrumentation hooks cannot thread a context. Nested units of
// work stack; the innermost wins. A pooled flow must Clear on
// completion or the association leaks into unrelated work.
type Scope struct {
	mu    sync.Mutex
	stack []*Transaction
}

func NewScope() *Scope {
	return &Scope{stack: make([]*Transaction, 0, 1)}
}

// GetActive returns the innermost active transaction, nil if no unit
// of work is in progress for the flow.
func (s *Scope) GetActive() *Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// SetActive establishes tx as the current transaction for the flow.
func (s *Scope) SetActive(tx *Transaction) {
	if tx == nil {
		return
	}
	s.mu.Lock()
	s.stack = append(s.stack, tx)
	s.mu.Unlock()
}

// Clear ends the innermost association. Clearing an empty scope is a
// no-op.
func (s *Scope) Clear() {
	s.mu.Lock()
	if n := len(s.stack); n > 0 {
		s.stack[n-1] = nil
		s.stack = s.stack[:n-1]
	}
	s.mu.Unlock()
}
