package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Network selects which cluster endpoint RPC-performing operations use.
type Network string

const (
	Devnet  Network = "devnet"
	Mainnet Network = "mainnet"
)

// ErrUnknownNetwork is returned when a network name is not devnet or mainnet.
var ErrUnknownNetwork = errors.New("unknown network")

// ParseNetwork accepts "devnet", "mainnet" and the cluster name "mainnet-beta".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "devnet":
		return Devnet, nil
	case "mainnet", "mainnet-beta":
		return Mainnet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
}

func (n Network) String() string { return string(n) }

// TokenProgram identifies which SPL token program owns a token account.
type TokenProgram string

const (
	// LegacyTokenProgram is the original SPL token program (Tokenkeg...).
	LegacyTokenProgram TokenProgram = "legacy"
	// VersionedTokenProgram is Token-2022 (TokenzQd...).
	VersionedTokenProgram TokenProgram = "versioned"
)

// ProgramID returns the on-chain program id for the variant.
func (p TokenProgram) ProgramID() solana.PublicKey {
	if p == VersionedTokenProgram {
		return solana.Token2022ProgramID
	}
	return solana.TokenProgramID
}

// ParsedName is the program name the RPC node reports in jsonParsed account data.
func (p TokenProgram) ParsedName() string {
	if p == VersionedTokenProgram {
		return "spl-token-2022"
	}
	return "spl-token"
}

// Valid reports whether p is one of the two known variants.
func (p TokenProgram) Valid() bool {
	return p == LegacyTokenProgram || p == VersionedTokenProgram
}

// Placeholder display values for tokens without resolvable metadata.
const (
	UnknownTokenName   = "UNKNOWN TOKEN"
	UnknownTokenSymbol = "TOKEN"
)

// TokenRecord is one on-chain token account held by a wallet.
type TokenRecord struct {
	ID           int          `json:"id"`
	MintAddress  string       `json:"mint_address"`
	TokenAddress string       `json:"token_address"`
	TokenProgram TokenProgram `json:"token_program"`
	Balance      float64      `json:"balance"`
	RawAmount    string       `json:"raw_amount"`
	Decimals     uint8        `json:"decimals"`
	Name         string       `json:"name"`
	Symbol       string       `json:"symbol"`
	URI          string       `json:"uri,omitempty"`
	// No pricing integration exists; kept at zero for layout parity.
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

// Snapshot is the immutable result of one discovery call. A refresh replaces it wholesale.
type Snapshot struct {
	Owner   string        `json:"owner"`
	Network Network       `json:"network"`
	Records []TokenRecord `json:"tokens"`
	TakenAt time.Time     `json:"taken_at"`
}

// Find returns the record with the given ordinal id.
func (s Snapshot) Find(id int) (TokenRecord, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return TokenRecord{}, false
}

// AuthTicket is the opaque proof that a wallet signed a challenge.
type AuthTicket struct {
	Signature string    `json:"signature"` // base64
	Address   string    `json:"address"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
