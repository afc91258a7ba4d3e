package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/patrickmn/go-cache"
)

// DefaultIdleTTL is how long an untouched session is kept.
const DefaultIdleTTL = 12 * time.Hour

// ErrNetworkChanged is returned by Refresh when the session switched network mid-flight.
var ErrNetworkChanged = errors.New("network changed during refresh")

// Page names a surface that greets first-time visitors.
type Page string

const (
	PageFaucet Page = "faucet"
	PageTokens Page = "tokens"
)

// Session is the per-chat context the flows read and write: network selection,
// wallet connection, first-visit markers and the last good token snapshot.
type Session struct {
	key string

	mu        sync.RWMutex
	network   core.Network
	connected bool
	visited   map[Page]bool
	snapshot  *core.Snapshot
}

func newSession(key string, network core.Network) *Session {
	return &Session{
		key:     key,
		network: network,
		visited: make(map[Page]bool),
	}
}

// Key identifies the session; it also keys the session's auth ticket.
func (s *Session) Key() string { return s.key }

func (s *Session) Network() core.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}

// SetNetwork switches the network. The token snapshot belongs to the previous
// network and is dropped.
func (s *Session) SetNetwork(n core.Network) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.network != n {
		s.snapshot = nil
	}
	s.network = n
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Session) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// MarkVisited records a visit to page and reports whether it was the first.
func (s *Session) MarkVisited(page Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visited[page] {
		return false
	}
	s.visited[page] = true
	return true
}

// Snapshot returns the last good snapshot.
func (s *Session) Snapshot() (core.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return core.Snapshot{}, false
	}
	return cloneSnapshot(*s.snapshot), true
}

// SetSnapshot replaces the stored snapshot wholesale. A snapshot taken on a
// network other than the selected one is discarded and false is returned.
func (s *Session) SetSnapshot(snap core.Snapshot) bool {
	c := cloneSnapshot(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Network != s.network {
		return false
	}
	s.snapshot = &c
	return true
}

// Refresh runs discover and stores its snapshot. On error the previous snapshot
// stays in place and the error is returned. If the network was switched while
// discover ran, the result is dropped with ErrNetworkChanged. Concurrent
// refreshes on one network race; the last one to finish wins.
func (s *Session) Refresh(ctx context.Context, discover func(ctx context.Context, network core.Network) (core.Snapshot, error)) (core.Snapshot, error) {
	network := s.Network()
	snap, err := discover(ctx, network)
	if err != nil {
		return core.Snapshot{}, err
	}
	if !s.SetSnapshot(snap) {
		return core.Snapshot{}, fmt.Errorf("%w: refresh ran on %s", ErrNetworkChanged, network)
	}
	return snap, nil
}

func cloneSnapshot(snap core.Snapshot) core.Snapshot {
	records := make([]core.TokenRecord, len(snap.Records))
	copy(records, snap.Records)
	snap.Records = records
	return snap
}

// Manager hands out sessions by key. Sessions idle longer than the TTL are dropped.
type Manager struct {
	mu             sync.Mutex
	sessions       *cache.Cache
	defaultNetwork core.Network
}

// NewManager creates a manager whose new sessions start on defaultNetwork.
func NewManager(idleTTL time.Duration, defaultNetwork core.Network) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if defaultNetwork == "" {
		defaultNetwork = core.Devnet
	}
	return &Manager{
		sessions:       cache.New(idleTTL, idleTTL/2),
		defaultNetwork: defaultNetwork,
	}
}

// Get returns the session for key, creating it on first use, and extends its idle TTL.
func (m *Manager) Get(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s *Session
	if v, ok := m.sessions.Get(key); ok {
		s = v.(*Session)
	} else {
		s = newSession(key, m.defaultNetwork)
	}
	m.sessions.SetDefault(key, s)
	return s
}

// Drop forgets the session for key.
func (m *Manager) Drop(key string) {
	m.sessions.Delete(key)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	return m.sessions.ItemCount()
}
