package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/mr-tron/base58"
)

var (
	ErrNotConnected      = errors.New("wallet not connected")
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// Wallet is the capability provider the core flows act through.
type Wallet interface {
	Connected() bool
	// PublicKey returns false when no key is available.
	PublicKey() (solana.PublicKey, bool)
	// SendTransaction signs tx as fee payer and submits it through conn.
	SendTransaction(ctx context.Context, tx *solana.Transaction, conn sol.Connection) (solana.Signature, error)
}

// MessageSigner is implemented by wallets able to sign arbitrary messages.
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// KeypairWallet holds a local ed25519 keypair.
type KeypairWallet struct {
	key       solana.PrivateKey
	connected atomic.Bool
}

var (
	_ Wallet        = (*KeypairWallet)(nil)
	_ MessageSigner = (*KeypairWallet)(nil)
)

// NewKeypairWallet returns a connected wallet for key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	w := &KeypairWallet{key: key}
	w.connected.Store(true)
	return w
}

func (w *KeypairWallet) Connected() bool { return w.connected.Load() }

func (w *KeypairWallet) Connect()    { w.connected.Store(true) }
func (w *KeypairWallet) Disconnect() { w.connected.Store(false) }

func (w *KeypairWallet) PublicKey() (solana.PublicKey, bool) {
	if len(w.key) != ed25519.PrivateKeySize {
		return solana.PublicKey{}, false
	}
	return w.key.PublicKey(), true
}

func (w *KeypairWallet) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	if !w.Connected() {
		return nil, ErrNotConnected
	}
	sig, err := w.key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig[:], nil
}

func (w *KeypairWallet) SendTransaction(ctx context.Context, tx *solana.Transaction, conn sol.Connection) (solana.Signature, error) {
	if !w.Connected() {
		return solana.Signature{}, ErrNotConnected
	}
	pub := w.key.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key) {
			return &w.key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("unable to sign transaction: %w", err)
	}
	return conn.SendTransaction(ctx, tx)
}

// LoadPrivateKey parses a 64-byte keypair given either as base58 or as the JSON
// byte array written by solana-keygen.
func LoadPrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPrivateKey)
	}

	var raw []byte
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidPrivateKey, i)
			}
			raw[i] = byte(v)
		}
	} else {
		decoded, err := base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		raw = decoded
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPrivateKey, ed25519.PrivateKeySize, len(raw))
	}
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !derived.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidPrivateKey)
	}
	return solana.PrivateKey(raw), nil
}

// Gate returns a view of w whose connected state is the caller's session flag
// combined with the wallet's own. Message signing stays available only when w
// supports it.
func Gate(w Wallet, connected bool) Wallet {
	g := gated{Wallet: w, connected: connected}
	if s, ok := w.(MessageSigner); ok {
		return gatedSigner{gated: g, signer: s}
	}
	return g
}

type gated struct {
	Wallet
	connected bool
}

func (g gated) Connected() bool { return g.connected && g.Wallet.Connected() }

func (g gated) SendTransaction(ctx context.Context, tx *solana.Transaction, conn sol.Connection) (solana.Signature, error) {
	if !g.Connected() {
		return solana.Signature{}, ErrNotConnected
	}
	return g.Wallet.SendTransaction(ctx, tx, conn)
}

type gatedSigner struct {
	gated
	signer MessageSigner
}

func (g gatedSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	if !g.Connected() {
		return nil, ErrNotConnected
	}
	return g.signer.SignMessage(ctx, message)
}
