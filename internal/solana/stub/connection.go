package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	sol "github.com/hunterwarburton/solportal/internal/solana"
)

// Method names used as keys for Errors and Calls.
const (
	MethodGetBalance             = "GetBalance"
	MethodGetParsedTokenAccounts = "GetParsedTokenAccounts"
	MethodGetAccountInfo         = "GetAccountInfo"
	MethodGetLatestBlockhash     = "GetLatestBlockhash"
	MethodSendTransaction        = "SendTransaction"
	MethodRequestAirdrop         = "RequestAirdrop"
	MethodGetSignatureStatus     = "GetSignatureStatus"
)

// Connection implements solana.Connection for testing. Responses come from the
// exported maps; every call is counted.
type Connection struct {
	mu sync.Mutex

	Net           core.Network
	Balances      map[solana.PublicKey]uint64
	TokenAccounts map[core.TokenProgram][]sol.ParsedTokenAccount
	Accounts      map[solana.PublicKey]*sol.AccountInfo
	Blockhash     solana.Hash
	AirdropSig    solana.Signature
	// Statuses are returned in order by GetSignatureStatus; once exhausted the
	// signature is reported unknown.
	Statuses []*sol.SignatureStatus
	// Errors forces a method to fail.
	Errors map[string]error

	Calls    map[string]int
	Sent     []*solana.Transaction
	Airdrops []uint64
}

var _ sol.Connection = (*Connection)(nil)

// NewConnection creates an empty stub connection for network.
func NewConnection(network core.Network) *Connection {
	return &Connection{
		Net:           network,
		Balances:      make(map[solana.PublicKey]uint64),
		TokenAccounts: make(map[core.TokenProgram][]sol.ParsedTokenAccount),
		Accounts:      make(map[solana.PublicKey]*sol.AccountInfo),
		Errors:        make(map[string]error),
		Calls:         make(map[string]int),
	}
}

func (c *Connection) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls[method]++
	return c.Errors[method]
}

// CallCount returns how many times method was invoked.
func (c *Connection) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (c *Connection) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.Calls {
		n += v
	}
	return n
}

// SentTransactions returns the submitted transactions in order.
func (c *Connection) SentTransactions() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*solana.Transaction(nil), c.Sent...)
}

// AddTokenAccount registers a parsed token account under its program.
func (c *Connection) AddTokenAccount(acct sol.ParsedTokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenAccounts[acct.Program] = append(c.TokenAccounts[acct.Program], acct)
}

// SetAccount registers raw account state.
func (c *Connection) SetAccount(pk solana.PublicKey, info *sol.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pk] = info
}

func (c *Connection) Network() core.Network { return c.Net }

func (c *Connection) GetBalance(_ context.Context, owner solana.PublicKey) (uint64, error) {
	if err := c.record(MethodGetBalance); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Balances[owner], nil
}

func (c *Connection) GetParsedTokenAccounts(_ context.Context, _ solana.PublicKey, program core.TokenProgram) ([]sol.ParsedTokenAccount, error) {
	if err := c.record(MethodGetParsedTokenAccounts); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sol.ParsedTokenAccount(nil), c.TokenAccounts[program]...), nil
}

func (c *Connection) GetAccountInfo(_ context.Context, account solana.PublicKey) (*sol.AccountInfo, error) {
	if err := c.record(MethodGetAccountInfo); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[account], nil
}

func (c *Connection) GetLatestBlockhash(_ context.Context) (solana.Hash, error) {
	if err := c.record(MethodGetLatestBlockhash); err != nil {
		return solana.Hash{}, err
	}
	return c.Blockhash, nil
}

func (c *Connection) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.record(MethodSendTransaction); err != nil {
		return solana.Signature{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, tx)
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{}, nil
}

func (c *Connection) RequestAirdrop(_ context.Context, _ solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if err := c.record(MethodRequestAirdrop); err != nil {
		return solana.Signature{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Airdrops = append(c.Airdrops, lamports)
	return c.AirdropSig, nil
}

func (c *Connection) GetSignatureStatus(_ context.Context, _ solana.Signature) (*sol.SignatureStatus, error) {
	if err := c.record(MethodGetSignatureStatus); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Statuses) == 0 {
		return nil, nil
	}
	st := c.Statuses[0]
	c.Statuses = c.Statuses[1:]
	return st, nil
}

// Connector implements solana.Connector over fixed stub connections.
type Connector struct {
	Conns map[core.Network]*Connection
}

var _ sol.Connector = (*Connector)(nil)

// NewConnector returns a connector serving the given connections keyed by their network.
func NewConnector(conns ...*Connection) *Connector {
	c := &Connector{Conns: make(map[core.Network]*Connection)}
	for _, conn := range conns {
		c.Conns[conn.Net] = conn
	}
	return c
}

func (c *Connector) Connection(network core.Network) (sol.Connection, error) {
	conn, ok := c.Conns[network]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownNetwork, network)
	}
	return conn, nil
}
