package solana

import (
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/hunterwarburton/solportal/internal/core"
)

// ErrInvalidAddress is returned for strings that are not base58 32-byte public keys.
var ErrInvalidAddress = errors.New("invalid address")

// ParseAddress decodes a base58 public key.
func ParseAddress(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w %q: %v", ErrInvalidAddress, s, err)
	}
	return pk, nil
}

// IsOnCurve reports whether pk is a point on ed25519, i.e. a key a wallet can hold.
// Program-derived addresses are off-curve.
func IsOnCurve(pk solana.PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// FindAssociatedTokenAddress derives the associated token account of owner for mint
// under the given token program.
func FindAssociatedTokenAddress(owner, mint solana.PublicKey, program core.TokenProgram) (solana.PublicKey, error) {
	ata, _, err := solana.FindProgramAddress(
		[][]byte{
			owner[:],
			program.ProgramID().Bytes(),
			mint[:],
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return ata, nil
}

// NewCreateAssociatedTokenAccountInstruction builds the instruction creating the
// associated token account of owner for mint, funded by payer.
func NewCreateAssociatedTokenAccountInstruction(payer, owner, mint solana.PublicKey, program core.TokenProgram) (solana.Instruction, error) {
	if program == core.LegacyTokenProgram {
		ix, err := associatedtokenaccount.NewCreateInstruction(payer, owner, mint).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build create-ata instruction: %w", err)
		}
		return ix, nil
	}

	// The SDK builder derives against the legacy program only.
	ata, err := FindAssociatedTokenAddress(owner, mint, program)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(program.ProgramID()),
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{0}), nil
}

// NewTransferInstruction builds an SPL transfer of amount raw units addressed to the
// given token program. Both programs share the Transfer layout.
func NewTransferInstruction(amount uint64, source, destination, owner solana.PublicKey, program core.TokenProgram) (solana.Instruction, error) {
	ix, err := token.NewTransferInstruction(amount, source, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer instruction: %w", err)
	}
	return solana.NewInstruction(program.ProgramID(), ix.Accounts(), data), nil
}
