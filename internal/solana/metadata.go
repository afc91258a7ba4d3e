package solana

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
)

// MetaplexTokenMetadataProgramID is the Metaplex Token Metadata program.
const MetaplexTokenMetadataProgramID = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

var metaplexProgramID = solana.MustPublicKeyFromBase58(MetaplexTokenMetadataProgramID)

// ErrMetadataNotFound means the mint carries no readable name/symbol/uri. Callers
// fall back to placeholder values.
var ErrMetadataNotFound = errors.New("token metadata not found")

// TokenMetadata is the display metadata of a mint.
type TokenMetadata struct {
	Name   string
	Symbol string
	URI    string
}

// ResolveMetadata reads display metadata for mint. Token-2022 mints are read from
// their metadata extension first and fall back to Metaplex; legacy mints use Metaplex.
func ResolveMetadata(ctx context.Context, conn Connection, mint solana.PublicKey, program core.TokenProgram) (TokenMetadata, error) {
	if program == core.VersionedTokenProgram {
		md, err := readToken2022Metadata(ctx, conn, mint)
		if err == nil {
			return md, nil
		}
		if !errors.Is(err, ErrMetadataNotFound) {
			return TokenMetadata{}, err
		}
		logger.RPCDebug("No Token-2022 metadata extension on %s, trying Metaplex", mint)
	}
	return readMetaplexMetadata(ctx, conn, mint)
}

// DeriveMetaplexMetadataPDA derives the Metaplex metadata account of mint.
func DeriveMetaplexMetadataPDA(mint solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			metaplexProgramID.Bytes(),
			mint.Bytes(),
		},
		metaplexProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to find Metaplex metadata PDA: %w", err)
	}
	return pda, nil
}

func readMetaplexMetadata(ctx context.Context, conn Connection, mint solana.PublicKey) (TokenMetadata, error) {
	pda, err := DeriveMetaplexMetadataPDA(mint)
	if err != nil {
		return TokenMetadata{}, err
	}
	info, err := conn.GetAccountInfo(ctx, pda)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("RPC error fetching Metaplex metadata account %s for mint %s: %w", pda, mint, err)
	}
	if info == nil || len(info.Data) == 0 {
		return TokenMetadata{}, fmt.Errorf("%w: no Metaplex account for %s", ErrMetadataNotFound, mint)
	}
	if !info.Owner.Equals(metaplexProgramID) {
		return TokenMetadata{}, fmt.Errorf("%w: Metaplex account %s has wrong owner %s", ErrMetadataNotFound, pda, info.Owner)
	}
	return DecodeMetaplexMetadata(info.Data)
}

// DecodeMetaplexMetadata decodes a Borsh-encoded Metaplex metadata account.
// Undecodable data is treated as missing metadata.
func DecodeMetaplexMetadata(data []byte) (TokenMetadata, error) {
	var onChain tokenmetadata.Metadata
	if err := bin.NewBorshDecoder(data).Decode(&onChain); err != nil {
		return TokenMetadata{}, fmt.Errorf("%w: failed to deserialize Metaplex metadata: %v", ErrMetadataNotFound, err)
	}
	// Metaplex pads name, symbol and uri with NULs.
	return TokenMetadata{
		Name:   trimMeta(onChain.Data.Name),
		Symbol: trimMeta(onChain.Data.Symbol),
		URI:    trimMeta(onChain.Data.Uri),
	}, nil
}

// Token-2022 mint layout: 82-byte base mint, optionally zero-padded to the 165-byte
// account length, then one AccountType byte and the TLV extension entries.
const (
	baseMintLen                  = 82
	baseAccountLen               = 165
	mintPaddingLen               = baseAccountLen - baseMintLen
	accountTypeMint              = 1
	extensionTypeUninitialized   = 0
	extensionTypeMetadataPointer = 18
	extensionTypeTokenMetadata   = 19
)

func readToken2022Metadata(ctx context.Context, conn Connection, mint solana.PublicKey) (TokenMetadata, error) {
	info, err := conn.GetAccountInfo(ctx, mint)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("rpc call getAccountInfo failed for mint %s: %w", mint, err)
	}
	if info == nil {
		return TokenMetadata{}, fmt.Errorf("%w: mint %s does not exist", ErrMetadataNotFound, mint)
	}

	md, pointer, err := DecodeToken2022Metadata(info.Data, mint)
	if err == nil {
		return md, nil
	}
	if pointer == nil || pointer.Equals(mint) {
		return TokenMetadata{}, err
	}

	// Follow the pointer exactly once. A pointer found at the target is ignored.
	target, err := conn.GetAccountInfo(ctx, *pointer)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("rpc call getAccountInfo failed for metadata pointer %s: %w", pointer, err)
	}
	if target == nil || len(target.Data) == 0 {
		return TokenMetadata{}, fmt.Errorf("%w: metadata pointer %s has no data", ErrMetadataNotFound, pointer)
	}
	if md, _, err := parseTLVEntries(target.Data, mint); err == nil {
		return md, nil
	}
	return decodeTokenMetadataEntry(target.Data, mint)
}

// DecodeToken2022Metadata reads the TokenMetadata extension from raw Token-2022 mint
// data. When the mint only carries a MetadataPointer to another account, the pointer
// target is returned together with ErrMetadataNotFound.
func DecodeToken2022Metadata(data []byte, mint solana.PublicKey) (TokenMetadata, *solana.PublicKey, error) {
	if len(data) <= baseMintLen {
		return TokenMetadata{}, nil, fmt.Errorf("%w: mint has no extensions", ErrMetadataNotFound)
	}
	tlv, err := tlvRegion(data)
	if err != nil {
		return TokenMetadata{}, nil, err
	}
	return parseTLVEntries(tlv, mint)
}

func tlvRegion(data []byte) ([]byte, error) {
	rest := data[baseMintLen:]
	if len(rest) > mintPaddingLen && allZero(rest[:mintPaddingLen]) && rest[mintPaddingLen] == accountTypeMint {
		return rest[mintPaddingLen+1:], nil
	}
	if rest[0] != accountTypeMint {
		return nil, fmt.Errorf("%w: mint missing account type marker", ErrMetadataNotFound)
	}
	return rest[1:], nil
}

func parseTLVEntries(tlv []byte, mint solana.PublicKey) (TokenMetadata, *solana.PublicKey, error) {
	dec := bin.NewBorshDecoder(tlv)
	var pointer *solana.PublicKey

	for dec.Remaining() > 0 {
		if dec.Remaining() < 4 {
			return TokenMetadata{}, nil, fmt.Errorf("malformed token2022 TLV: truncated header (%d bytes remain)", dec.Remaining())
		}
		typ, err := dec.ReadUint16(binary.LittleEndian)
		if err != nil {
			return TokenMetadata{}, nil, fmt.Errorf("malformed token2022 TLV type: %w", err)
		}
		if typ == extensionTypeUninitialized {
			break
		}
		length, err := dec.ReadUint16(binary.LittleEndian)
		if err != nil {
			return TokenMetadata{}, nil, fmt.Errorf("malformed token2022 TLV length: %w", err)
		}
		if int(length) > dec.Remaining() {
			return TokenMetadata{}, nil, fmt.Errorf("malformed token2022 TLV: length %d exceeds remaining %d", length, dec.Remaining())
		}
		value, err := dec.ReadNBytes(int(length))
		if err != nil {
			return TokenMetadata{}, nil, fmt.Errorf("malformed token2022 TLV value: %w", err)
		}

		switch typ {
		case extensionTypeTokenMetadata:
			md, err := decodeTokenMetadataEntry(value, mint)
			return md, nil, err
		case extensionTypeMetadataPointer:
			if len(value) >= 64 {
				pk := solana.PublicKeyFromBytes(value[32:64])
				if !pk.IsZero() {
					pointer = &pk
				}
			}
		}
	}
	return TokenMetadata{}, pointer, fmt.Errorf("%w: no TokenMetadata extension", ErrMetadataNotFound)
}

// decodeTokenMetadataEntry decodes the TokenMetadata extension value:
// update authority, mint, then Borsh name, symbol and uri.
func decodeTokenMetadataEntry(val []byte, mint solana.PublicKey) (TokenMetadata, error) {
	dec := bin.NewBorshDecoder(val)
	if _, err := dec.ReadNBytes(32); err != nil {
		return TokenMetadata{}, fmt.Errorf("%w: update authority missing", ErrMetadataNotFound)
	}
	mintBytes, err := dec.ReadNBytes(32)
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("%w: mint missing", ErrMetadataNotFound)
	}
	if !bytes.Equal(mintBytes, mint.Bytes()) {
		return TokenMetadata{}, fmt.Errorf("%w: metadata belongs to mint %s", ErrMetadataNotFound, solana.PublicKeyFromBytes(mintBytes))
	}
	name, err := dec.ReadRustString()
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("%w: invalid name: %v", ErrMetadataNotFound, err)
	}
	symbol, err := dec.ReadRustString()
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("%w: invalid symbol: %v", ErrMetadataNotFound, err)
	}
	uri, err := dec.ReadRustString()
	if err != nil {
		return TokenMetadata{}, fmt.Errorf("%w: invalid uri: %v", ErrMetadataNotFound, err)
	}
	return TokenMetadata{Name: trimMeta(name), Symbol: trimMeta(symbol), URI: trimMeta(uri)}, nil
}

func trimMeta(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
