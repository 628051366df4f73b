package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore keeps balances in process memory. It honours the same contract
// as the SQLite store minus durability across restarts, which suits tests and
// throwaway deployments.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64

	// failNext forces the next operation to fail; used to exercise the
	// no-partial-settlement path in tests.
	failNext error
}

// NewMemoryStore constructs an empty in-memory balance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]int64)}
}

// FailNext arranges for the next store operation to return err.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Ensure returns the account balance, creating the account on first sight.
func (s *MemoryStore) Ensure(ctx context.Context, accountID string, starting int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, fmt.Errorf("account id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(); err != nil {
		return 0, err
	}
	if balance, ok := s.balances[accountID]; ok {
		return balance, nil
	}
	s.balances[accountID] = starting
	return starting, nil
}

// Balance reads the stored balance for the account.
func (s *MemoryStore) Balance(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(); err != nil {
		return 0, err
	}
	balance, ok := s.balances[strings.TrimSpace(accountID)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoAccount, accountID)
	}
	return balance, nil
}

// SetBalance overwrites the stored balance for the account.
func (s *MemoryStore) SetBalance(ctx context.Context, accountID string, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailureLocked(); err != nil {
		return err
	}
	accountID = strings.TrimSpace(accountID)
	if _, ok := s.balances[accountID]; !ok {
		return fmt.Errorf("%w: %s", ErrNoAccount, accountID)
	}
	s.balances[accountID] = value
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) takeFailureLocked() error {
	err := s.failNext
	s.failNext = nil
	return err
}
