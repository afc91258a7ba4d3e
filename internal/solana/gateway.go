package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
)

// Public RPC endpoints used when no endpoint is configured for a network.
const (
	DefaultMainnetEndpoint = rpc.MainNetBeta_RPC
	DefaultDevnetEndpoint  = rpc.DevNet_RPC
)

// ErrEndpointNotConfigured is returned when a network has no RPC endpoint.
var ErrEndpointNotConfigured = errors.New("rpc endpoint not configured")

// ParsedTokenAccount is one token account as returned by a jsonParsed owner query,
// tagged with the program it was fetched under.
type ParsedTokenAccount struct {
	Address        solana.PublicKey
	Program        core.TokenProgram
	Mint           string
	Amount         string // raw integer amount
	Decimals       uint8
	UIAmount       float64
	UIAmountString string
}

// AccountInfo is the subset of account state the core flows need.
type AccountInfo struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// Confirmation levels reported by getSignatureStatuses.
const (
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
)

// SignatureStatus is the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Slot               uint64
	ConfirmationStatus string
	Err                interface{}
}

// Finalized reports whether the transaction reached finalized commitment.
func (s *SignatureStatus) Finalized() bool {
	return s != nil && s.ConfirmationStatus == StatusFinalized
}

// Connection is an RPC gateway bound to one network.
type Connection interface {
	Network() core.Network
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	GetParsedTokenAccounts(ctx context.Context, owner solana.PublicKey, program core.TokenProgram) ([]ParsedTokenAccount, error)
	// GetAccountInfo returns nil, nil when the account does not exist.
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*AccountInfo, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error)
	// GetSignatureStatus returns nil, nil when the node does not know the signature yet.
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}

// Connector hands out the connection for the network active at call time.
type Connector interface {
	Connection(network core.Network) (Connection, error)
}

// Gateway keeps one RPC connection per configured network.
type Gateway struct {
	endpoints map[core.Network]string
	mu        sync.Mutex
	conns     map[core.Network]Connection
}

// NewGateway creates a gateway over the given endpoints. Missing entries fall back
// to the public cluster endpoints.
func NewGateway(endpoints map[core.Network]string) *Gateway {
	eps := map[core.Network]string{
		core.Devnet:  DefaultDevnetEndpoint,
		core.Mainnet: DefaultMainnetEndpoint,
	}
	for n, ep := range endpoints {
		if ep != "" {
			eps[n] = ep
		}
	}
	return &Gateway{
		endpoints: eps,
		conns:     make(map[core.Network]Connection),
	}
}

// Connection returns the cached connection for network, creating it on first use.
func (g *Gateway) Connection(network core.Network) (Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.conns[network]; ok {
		return c, nil
	}
	if network != core.Devnet && network != core.Mainnet {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownNetwork, network)
	}
	endpoint, ok := g.endpoints[network]
	if !ok || endpoint == "" {
		return nil, fmt.Errorf("%w for %s", ErrEndpointNotConfigured, network)
	}

	logger.RPCDebug("Opening %s connection to %s", network, endpoint)
	c := NewConnection(network, rpc.New(endpoint))
	g.conns[network] = c
	return c, nil
}

// Endpoint returns the endpoint configured for network.
func (g *Gateway) Endpoint(network core.Network) string {
	return g.endpoints[network]
}
