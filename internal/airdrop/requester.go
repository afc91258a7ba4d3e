package airdrop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const (
	DefaultMaxAttempts  = 60
	DefaultPollInterval = time.Second
)

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrInvalidAmount      = errors.New("invalid airdrop amount")
	ErrMissingAddress     = errors.New("missing wallet address")
	ErrRequestFailed      = errors.New("airdrop request failed")
)

// Status is the terminal state of an airdrop confirmation poll.
type Status string

const (
	StatusFinalized Status = "finalized"
	// StatusTimeout means the poll budget ran out. The airdrop may still land.
	StatusTimeout Status = "timeout"
)

// Outcome reports an airdrop that was accepted by the faucet.
type Outcome struct {
	Status    Status
	Signature solana.Signature
	Lamports  uint64
	Attempts  int
}

// Requester requests faucet credits and waits for them to finalize.
type Requester struct {
	connector   sol.Connector
	network     core.Network
	clock       clockwork.Clock
	maxAttempts int
	interval    time.Duration
}

// Option configures a Requester.
type Option func(*Requester)

// WithClock sets the clock used between status checks.
func WithClock(c clockwork.Clock) Option {
	return func(r *Requester) { r.clock = c }
}

// WithPolling overrides the attempt budget and the spacing between checks.
func WithPolling(maxAttempts int, interval time.Duration) Option {
	return func(r *Requester) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithNetwork selects the faucet network. Devnet is the default.
func WithNetwork(n core.Network) Option {
	return func(r *Requester) { r.network = n }
}

// NewRequester creates a requester polling 60 times, one second apart.
func NewRequester(connector sol.Connector, opts ...Option) *Requester {
	r := &Requester{
		connector:   connector,
		network:     core.Devnet,
		clock:       clockwork.NewRealClock(),
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SOLToLamports converts a decimal SOL amount to whole lamports.
func SOLToLamports(amount string) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidAmount, amount, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, d)
	}
	lamports := d.Mul(decimal.NewFromInt(int64(solana.LAMPORTS_PER_SOL)))
	if !lamports.Equal(lamports.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s is finer than one lamport", ErrInvalidAmount, d)
	}
	raw := lamports.BigInt()
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: %s SOL overflows", ErrInvalidAmount, d)
	}
	return raw.Uint64(), nil
}

// Request asks the faucet for amountSOL and polls until the airdrop is finalized or
// the attempt budget is spent. Precondition failures make no network call. A
// failed request is not retried.
func (r *Requester) Request(ctx context.Context, connected bool, address string, amountSOL string) (*Outcome, error) {
	if !connected {
		return nil, ErrWalletNotConnected
	}
	lamports, err := SOLToLamports(amountSOL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(address) == "" {
		return nil, ErrMissingAddress
	}
	account, err := sol.ParseAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingAddress, err)
	}

	conn, err := r.connector.Connection(r.network)
	if err != nil {
		return nil, err
	}
	sig, err := conn.RequestAirdrop(ctx, account, lamports)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	logger.RPCInfo("Airdrop of %d lamports to %s requested: %s", lamports, account, sig)

	out := &Outcome{Signature: sig, Lamports: lamports, Status: StatusTimeout}
	for out.Attempts < r.maxAttempts {
		if out.Attempts > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-r.clock.After(r.interval):
			}
		}
		out.Attempts++

		st, err := conn.GetSignatureStatus(ctx, sig)
		if err != nil {
			logger.RPCWarn("Status check %d for airdrop %s failed: %v", out.Attempts, sig, err)
			continue
		}
		if st != nil && st.Err != nil {
			return out, fmt.Errorf("%w: transaction %s failed: %v", ErrRequestFailed, sig, st.Err)
		}
		if st.Finalized() {
			out.Status = StatusFinalized
			return out, nil
		}
	}

	logger.RPCWarn("Airdrop %s not finalized after %d checks", sig, out.Attempts)
	return out, nil
}

// Balance returns the SOL balance of address on network.
func (r *Requester) Balance(ctx context.Context, network core.Network, address string) (decimal.Decimal, error) {
	account, err := sol.ParseAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	conn, err := r.connector.Connection(network)
	if err != nil {
		return decimal.Zero, err
	}
	lamports, err := conn.GetBalance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Shift(-9), nil
}
