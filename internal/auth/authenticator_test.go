package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/wallet"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWallet signs with key and lets tests corrupt the signature or hide the key.
type fakeWallet struct {
	key      solana.PrivateKey
	noPubKey bool
	tamper   bool
	signErr  error
	calls    int
}

func (w *fakeWallet) Connected() bool { return true }

func (w *fakeWallet) PublicKey() (solana.PublicKey, bool) {
	if w.noPubKey {
		return solana.PublicKey{}, false
	}
	return w.key.PublicKey(), true
}

func (w *fakeWallet) SendTransaction(context.Context, *solana.Transaction, sol.Connection) (solana.Signature, error) {
	return solana.Signature{}, errors.New("not used")
}

func (w *fakeWallet) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	w.calls++
	if w.signErr != nil {
		return nil, w.signErr
	}
	sig, err := w.key.Sign(msg)
	if err != nil {
		return nil, err
	}
	if w.tamper {
		sig[0] ^= 0xff
	}
	return sig[:], nil
}

// readOnlyWallet cannot sign messages.
type readOnlyWallet struct{ key solana.PrivateKey }

func (w *readOnlyWallet) Connected() bool { return true }
func (w *readOnlyWallet) PublicKey() (solana.PublicKey, bool) { return w.key.PublicKey(), true }
func (w *readOnlyWallet) SendTransaction(context.Context, *solana.Transaction, sol.Connection) (solana.Signature, error) {
	return solana.Signature{}, errors.New("not used")
}

func newAuthenticator() (*Authenticator, *TicketStore, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClock()
	store := NewTicketStore(time.Hour)
	return NewAuthenticator(store, fc), store, fc
}

func TestAuthenticate_Success(t *testing.T) {
	a, store, fc := newAuthenticator()
	w := &fakeWallet{key: solana.NewWallet().PrivateKey}

	ticket, err := a.Authenticate(context.Background(), "chat-1", w, "sign me")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, w.key.PublicKey().String(), ticket.Address)
	assert.Equal(t, fc.Now(), ticket.IssuedAt)
	assert.Equal(t, fc.Now().Add(time.Hour), ticket.ExpiresAt)

	raw, err := base64.StdEncoding.DecodeString(ticket.Signature)
	require.NoError(t, err)
	assert.True(t, solana.SignatureFromBytes(raw).Verify(w.key.PublicKey(), []byte("sign me")))

	stored, ok := a.Ticket("chat-1")
	require.True(t, ok)
	assert.Equal(t, *ticket, stored)
	assert.True(t, a.IsAuthenticated("chat-1", ticket.Address))
}

func TestAuthenticate_EmptyChallengeNeverCallsWallet(t *testing.T) {
	a, store, _ := newAuthenticator()
	w := &fakeWallet{key: solana.NewWallet().PrivateKey}

	_, err := a.Authenticate(context.Background(), "chat-1", w, "")
	assert.ErrorIs(t, err, ErrEmptyChallenge)
	assert.Zero(t, w.calls)
	assert.Zero(t, store.Len())
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		wallet wallet.Wallet
		want   error
	}{
		{"tampered signature", &fakeWallet{key: solana.NewWallet().PrivateKey, tamper: true}, ErrVerificationFailed},
		{"signing unsupported", &readOnlyWallet{key: solana.NewWallet().PrivateKey}, ErrSigningUnsupported},
		{"no wallet", nil, ErrSigningUnsupported},
		{"no public key", &fakeWallet{key: solana.NewWallet().PrivateKey, noPubKey: true}, ErrNoPublicKey},
		{"wallet rejects", &fakeWallet{key: solana.NewWallet().PrivateKey, signErr: errors.New("user rejected")}, ErrSigningFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, store, _ := newAuthenticator()

			ticket, err := a.Authenticate(context.Background(), "chat-1", tt.wallet, "hello")
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, ticket)
			assert.Zero(t, store.Len())
		})
	}
}

func TestAuthenticate_DistinctCauses(t *testing.T) {
	assert.False(t, errors.Is(ErrVerificationFailed, ErrSigningUnsupported))
	assert.False(t, errors.Is(ErrNoPublicKey, ErrSigningUnsupported))
	assert.False(t, errors.Is(ErrVerificationFailed, ErrNoPublicKey))
}

func TestIsAuthenticated_BoundToAddressAndExpiry(t *testing.T) {
	a, _, fc := newAuthenticator()
	w := &fakeWallet{key: solana.NewWallet().PrivateKey}
	ticket, err := a.Authenticate(context.Background(), "chat-1", w, "hello")
	require.NoError(t, err)

	assert.False(t, a.IsAuthenticated("chat-1", solana.NewWallet().PublicKey().String()))
	assert.False(t, a.IsAuthenticated("chat-2", ticket.Address))

	fc.Advance(59 * time.Minute)
	assert.True(t, a.IsAuthenticated("chat-1", ticket.Address))
	fc.Advance(time.Minute)
	assert.False(t, a.IsAuthenticated("chat-1", ticket.Address))
}

func TestRevoke(t *testing.T) {
	a, store, _ := newAuthenticator()
	w := &fakeWallet{key: solana.NewWallet().PrivateKey}
	ticket, err := a.Authenticate(context.Background(), "chat-1", w, "hello")
	require.NoError(t, err)

	a.Revoke("chat-1")
	assert.False(t, a.IsAuthenticated("chat-1", ticket.Address))
	assert.Zero(t, store.Len())
}

func TestPolicyService(t *testing.T) {
	p := NewPolicyService("1, 2,x", "", true)
	assert.True(t, p.IsAdmin(1))
	assert.True(t, p.IsAdmin(2))
	assert.False(t, p.IsAdmin(3))
	assert.True(t, p.IsAllowed(3))

	assert.True(t, p.IsCommandAllowed(3, CommandSend, core.Devnet))
	assert.False(t, p.IsCommandAllowed(3, CommandSend, core.Mainnet))
	assert.True(t, p.IsCommandAllowed(1, CommandSend, core.Mainnet))
	assert.False(t, p.IsCommandAllowed(3, "rm -rf", core.Devnet))

	restricted := NewPolicyService("1", "5", false)
	assert.False(t, restricted.IsAllowed(3))
	assert.True(t, restricted.IsAllowed(5))
	assert.True(t, restricted.IsAllowed(1))
	assert.False(t, restricted.IsCommandAllowed(3, CommandBalance, core.Devnet))
	assert.True(t, restricted.IsCommandAllowed(5, CommandSend, core.Mainnet))
}
