package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
	"github.com/hunterwarburton/solportal/internal/wallet"
	"github.com/jonboulle/clockwork"
	"github.com/patrickmn/go-cache"
)

// DefaultTicketTTL is how long a verified signature keeps a session authenticated.
const DefaultTicketTTL = 24 * time.Hour

var (
	ErrEmptyChallenge     = errors.New("challenge message can't be empty")
	ErrSigningUnsupported = errors.New("wallet doesn't support message signing")
	ErrNoPublicKey        = errors.New("wallet has no public key")
	ErrSigningFailed      = errors.New("error signing message")
	ErrVerificationFailed = errors.New("message signature invalid")
)

// TicketStore keeps one auth ticket per session. Entries expire after the TTL.
type TicketStore struct {
	c   *cache.Cache
	ttl time.Duration
}

// NewTicketStore creates a store whose tickets expire after ttl.
func NewTicketStore(ttl time.Duration) *TicketStore {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketStore{c: cache.New(ttl, ttl/2), ttl: ttl}
}

// TTL returns the lifetime of stored tickets.
func (s *TicketStore) TTL() time.Duration { return s.ttl }

// Put replaces the ticket of sessionKey.
func (s *TicketStore) Put(sessionKey string, t core.AuthTicket) {
	s.c.SetDefault(sessionKey, t)
}

func (s *TicketStore) Get(sessionKey string) (core.AuthTicket, bool) {
	v, ok := s.c.Get(sessionKey)
	if !ok {
		return core.AuthTicket{}, false
	}
	return v.(core.AuthTicket), true
}

func (s *TicketStore) Delete(sessionKey string) { s.c.Delete(sessionKey) }

// Len returns the number of stored tickets, expired ones included until swept.
func (s *TicketStore) Len() int { return s.c.ItemCount() }

// Authenticator proves wallet ownership by having the wallet sign a challenge.
type Authenticator struct {
	store *TicketStore
	clock clockwork.Clock
}

// NewAuthenticator creates an authenticator issuing tickets valid for the
// store's TTL.
func NewAuthenticator(store *TicketStore, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authenticator{store: store, clock: clock}
}

// Authenticate asks w to sign challenge and verifies the signature against the
// wallet's public key. On success exactly one ticket is stored for sessionKey;
// on any failure nothing is stored.
func (a *Authenticator) Authenticate(ctx context.Context, sessionKey string, w wallet.Wallet, challenge string) (*core.AuthTicket, error) {
	if challenge == "" {
		return nil, ErrEmptyChallenge
	}
	message := []byte(challenge)

	signer, ok := w.(wallet.MessageSigner)
	if !ok {
		return nil, ErrSigningUnsupported
	}
	pub, ok := w.PublicKey()
	if !ok || pub.IsZero() {
		return nil, ErrNoPublicKey
	}

	raw, err := signer.SignMessage(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes", ErrVerificationFailed, len(raw))
	}
	if !solana.SignatureFromBytes(raw).Verify(pub, message) {
		logger.Warn("Signature verification failed for %s", pub)
		return nil, ErrVerificationFailed
	}

	now := a.clock.Now()
	ticket := core.AuthTicket{
		Signature: base64.StdEncoding.EncodeToString(raw),
		Address:   pub.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.store.TTL()),
	}
	a.store.Put(sessionKey, ticket)
	logger.Info("Session %s authenticated as %s", sessionKey, pub)
	return &ticket, nil
}

// IsAuthenticated reports whether sessionKey holds an unexpired ticket issued to
// address.
func (a *Authenticator) IsAuthenticated(sessionKey, address string) bool {
	t, ok := a.store.Get(sessionKey)
	if !ok {
		return false
	}
	if t.Address != address {
		return false
	}
	return a.clock.Now().Before(t.ExpiresAt)
}

// Ticket returns the ticket stored for sessionKey.
func (a *Authenticator) Ticket(sessionKey string) (core.AuthTicket, bool) {
	return a.store.Get(sessionKey)
}

// Revoke drops the ticket of sessionKey.
func (a *Authenticator) Revoke(sessionKey string) {
	a.store.Delete(sessionKey)
}
