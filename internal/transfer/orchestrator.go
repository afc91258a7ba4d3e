package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/wallet"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrInvalidRecipient   = errors.New("invalid recipient address")
	ErrRecipientOffCurve  = errors.New("recipient address is not on the ed25519 curve")
	ErrInvalidMint        = errors.New("invalid mint address")
	ErrInvalidProgram     = errors.New("unknown token program")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAccountResolution  = errors.New("destination account resolution failed")
	ErrSubmission         = errors.New("transfer submission failed")
	ErrAlreadyExecuted    = errors.New("transfer already executed")
)

// DestinationState tells whether Prepare found the recipient's token account or
// had to create it.
type DestinationState string

const (
	DestinationExisting DestinationState = "existing"
	DestinationCreated  DestinationState = "created"
)

// Request describes one SPL token transfer.
type Request struct {
	Sender    wallet.Wallet
	Recipient string
	Mint      string
	// Amount is a decimal string in token units, e.g. "1.25".
	Amount   string
	Decimals uint8
	Program  core.TokenProgram
	Network  core.Network
}

// RequestForRecord builds a request moving amount of rec to recipient.
func RequestForRecord(sender wallet.Wallet, rec core.TokenRecord, recipient, amount string, network core.Network) Request {
	return Request{
		Sender:    sender,
		Recipient: recipient,
		Mint:      rec.MintAddress,
		Amount:    amount,
		Decimals:  rec.Decimals,
		Program:   rec.TokenProgram,
		Network:   network,
	}
}

// Handle is a prepared transfer. When DestinationState is created, the
// recipient's token account already exists on chain even if Execute never runs.
type Handle struct {
	Sender             solana.PublicKey
	Recipient          solana.PublicKey
	Mint               solana.PublicKey
	Program            core.TokenProgram
	Network            core.Network
	SourceAccount      solana.PublicKey
	DestinationAccount solana.PublicKey
	RawAmount          uint64
	DestinationState   DestinationState
	CreateSignature    solana.Signature
	PreparedAt         time.Time

	wallet   wallet.Wallet
	conn     sol.Connection
	mu       sync.Mutex
	executed bool
}

// Result is a submitted transfer.
type Result struct {
	Signature        solana.Signature
	RawAmount        uint64
	DestinationState DestinationState
	CreateSignature  solana.Signature
}

// Orchestrator runs transfers as prepare/execute steps.
type Orchestrator struct {
	connector sol.Connector
	clock     clockwork.Clock
}

// NewOrchestrator creates an orchestrator. A nil clock uses the real clock.
func NewOrchestrator(connector sol.Connector, clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{connector: connector, clock: clock}
}

// RawAmount converts a decimal token amount to raw units: amount * 10^decimals.
// Amounts that are not positive or do not fit the mint's precision are rejected.
func RawAmount(amount string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidAmount, amount, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, d)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d, decimals)
	}
	raw := scaled.BigInt()
	if !raw.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows u64 raw units", ErrInvalidAmount, d)
	}
	return raw.Uint64(), nil
}

// Prepare validates req and makes sure the recipient's associated token account
// exists, creating it in its own transaction when absent. Validation failures
// happen before any RPC call.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Handle, error) {
	if req.Sender == nil || !req.Sender.Connected() {
		return nil, ErrWalletNotConnected
	}
	sender, ok := req.Sender.PublicKey()
	if !ok {
		return nil, fmt.Errorf("%w: no public key", ErrWalletNotConnected)
	}
	recipient, err := sol.ParseAddress(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if !sol.IsOnCurve(recipient) {
		return nil, fmt.Errorf("%w: %s", ErrRecipientOffCurve, recipient)
	}
	mint, err := sol.ParseAddress(req.Mint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	if !req.Program.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProgram, req.Program)
	}
	raw, err := RawAmount(req.Amount, req.Decimals)
	if err != nil {
		return nil, err
	}

	conn, err := o.connector.Connection(req.Network)
	if err != nil {
		return nil, err
	}
	source, err := sol.FindAssociatedTokenAddress(sender, mint, req.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountResolution, err)
	}
	destination, err := sol.FindAssociatedTokenAddress(recipient, mint, req.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountResolution, err)
	}

	h := &Handle{
		Sender:             sender,
		Recipient:          recipient,
		Mint:               mint,
		Program:            req.Program,
		Network:            req.Network,
		SourceAccount:      source,
		DestinationAccount: destination,
		RawAmount:          raw,
		DestinationState:   DestinationExisting,
		wallet:             req.Sender,
		conn:               conn,
	}

	info, err := conn.GetAccountInfo(ctx, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccountResolution, err)
	}
	if info == nil || !info.Owner.Equals(req.Program.ProgramID()) {
		logger.TokenInfo("Creating %s token account %s for %s", req.Program, destination, recipient)
		ix, err := sol.NewCreateAssociatedTokenAccountInstruction(sender, recipient, mint, req.Program)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAccountResolution, err)
		}
		sig, err := o.submit(ctx, req.Sender, conn, sender, ix)
		if err != nil {
			return nil, fmt.Errorf("%w: create token account: %w", ErrAccountResolution, err)
		}
		h.DestinationState = DestinationCreated
		h.CreateSignature = sig
	}

	h.PreparedAt = o.clock.Now()
	return h, nil
}

// Execute submits the transfer instruction of a prepared handle. A handle
// executes at most once.
func (o *Orchestrator) Execute(ctx context.Context, h *Handle) (*Result, error) {
	if h == nil {
		return nil, errors.New("nil transfer handle")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.executed {
		return nil, ErrAlreadyExecuted
	}
	if !h.wallet.Connected() {
		return nil, ErrWalletNotConnected
	}

	ix, err := sol.NewTransferInstruction(h.RawAmount, h.SourceAccount, h.DestinationAccount, h.Sender, h.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	sig, err := o.submit(ctx, h.wallet, h.conn, h.Sender, ix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	h.executed = true

	logger.TokenInfo("Transferred %d raw units of %s to %s: %s", h.RawAmount, h.Mint, h.Recipient, sig)
	return &Result{
		Signature:        sig,
		RawAmount:        h.RawAmount,
		DestinationState: h.DestinationState,
		CreateSignature:  h.CreateSignature,
	}, nil
}

// Transfer prepares and executes req. When execution fails after the
// destination account was created, the returned handle reports that state.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) (*Result, *Handle, error) {
	h, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	res, err := o.Execute(ctx, h)
	if err != nil {
		return nil, h, err
	}
	return res, h, nil
}

func (o *Orchestrator) submit(ctx context.Context, w wallet.Wallet, conn sol.Connection, payer solana.PublicKey, ix solana.Instruction) (solana.Signature, error) {
	blockhash, err := conn.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	return w.SendTransaction(ctx, tx, conn)
}
