// Package session maps live connections to authenticated identities and
// enforces the one-session-per-account and server capacity invariants.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"pointsarena/server/internal/ledger"
)

var (
	// ErrAlreadyOnline rejects a login for an account with a live session.
	ErrAlreadyOnline = errors.New("account already online")
	// ErrServerFull rejects a login once the capacity limit is reached.
	ErrServerFull = errors.New("server is full")
)

// Session ties a connection to its authenticated identity. Balance is a cache
// over the ledger for the lifetime of the connection; it is only trustworthy
// immediately after RefreshBalance.
type Session struct {
	ConnID      string
	AccountID   string
	DisplayName string
	Balance     int64
}

// RosterEntry is the outward view of one online player.
type RosterEntry struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
}

// Registry owns the session records. It never reaches into room state;
// teardown coordination across both lives in the server's disconnect path.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	store    ledger.Store

	byConn    map[string]*Session
	byAccount map[string]*Session
}

// NewRegistry constructs a registry bounded to capacity live sessions.
// A capacity of zero or less disables the limit.
func NewRegistry(capacity int, store ledger.Store) *Registry {
	return &Registry{
		capacity:  capacity,
		store:     store,
		byConn:    make(map[string]*Session),
		byAccount: make(map[string]*Session),
	}
}

// Register creates a session for the verified identity, enforcing the
// one-account-one-session invariant and the capacity limit as explicit checks.
func (r *Registry) Register(connID, accountID, displayName string, balance int64) (*Session, error) {
	connID = strings.TrimSpace(connID)
	accountID = strings.TrimSpace(accountID)
	if connID == "" || accountID == "" {
		return nil, fmt.Errorf("connection and account ids are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	//1.- A second login for the same account must not displace the first.
	if _, online := r.byAccount[accountID]; online {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOnline, accountID)
	}
	if r.capacity > 0 && len(r.byConn) >= r.capacity {
		return nil, ErrServerFull
	}
	sess := &Session{
		ConnID:      connID,
		AccountID:   accountID,
		DisplayName: strings.TrimSpace(displayName),
		Balance:     balance,
	}
	r.byConn[connID] = sess
	r.byAccount[accountID] = sess
	return sess, nil
}

// ByConnection looks up the session owning the connection, or nil.
func (r *Registry) ByConnection(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// ByAccount looks up the live session for the account, or nil.
func (r *Registry) ByAccount(accountID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAccount[strings.TrimSpace(accountID)]
}

// ByDisplayName finds a live session by the player-visible name, or nil.
// Display names are not unique across accounts; a name worn by more than one
// session resolves to nothing rather than an arbitrary pick.
func (r *Registry) ByDisplayName(name string) *Session {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *Session
	for _, sess := range r.byAccount {
		if sess.DisplayName == name {
			if found != nil {
				return nil
			}
			found = sess
		}
	}
	return found
}

// RefreshBalance re-reads the durable balance and overwrites the cached one.
// Every balance-gated operation must call this immediately before its check:
// a settlement or transfer committed on another connection may have changed
// the durable value since the cache was last written.
func (r *Registry) RefreshBalance(ctx context.Context, sess *Session) (int64, error) {
	if sess == nil {
		return 0, fmt.Errorf("session is nil")
	}
	balance, err := r.store.Balance(ctx, sess.AccountID)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	sess.Balance = balance
	r.mu.Unlock()
	return balance, nil
}

// UpdateBalance writes the durable balance first, then the cache, so a store
// failure leaves the in-memory state untouched.
func (r *Registry) UpdateBalance(ctx context.Context, sess *Session, value int64) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}
	if err := r.store.SetBalance(ctx, sess.AccountID, value); err != nil {
		return err
	}
	r.mu.Lock()
	sess.Balance = value
	r.mu.Unlock()
	return nil
}

// Remove deletes the session owned by the connection. Removing an absent
// connection is a no-op, which keeps the disconnect path idempotent.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	delete(r.byAccount, sess.AccountID)
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Roster returns the online players sorted by display name so broadcast
// payloads stay deterministic.
func (r *Registry) Roster() []RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roster := make([]RosterEntry, 0, len(r.byConn))
	for _, sess := range r.byConn {
		roster = append(roster, RosterEntry{
			AccountID:   sess.AccountID,
			DisplayName: sess.DisplayName,
			Balance:     sess.Balance,
		})
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].DisplayName == roster[j].DisplayName {
			return roster[i].AccountID < roster[j].AccountID
		}
		return roster[i].DisplayName < roster[j].DisplayName
	})
	return roster
}
