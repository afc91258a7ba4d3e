package tokens

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/solana/stub"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(conn *stub.Connection) (*Service, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewService(stub.NewConnector(conn), fc), fc
}

func tokenAccount(program core.TokenProgram, amount string, decimals uint8, ui float64) sol.ParsedTokenAccount {
	return sol.ParsedTokenAccount{
		Address:  solana.NewWallet().PublicKey(),
		Program:  program,
		Mint:     solana.NewWallet().PublicKey().String(),
		Amount:   amount,
		Decimals: decimals,
		UIAmount: ui,
	}
}

func setMetaplexMetadata(t *testing.T, conn *stub.Connection, mint, name, symbol, uri string) {
	t.Helper()
	mintKey := solana.MustPublicKeyFromBase58(mint)
	pda, err := sol.DeriveMetaplexMetadataPDA(mintKey)
	require.NoError(t, err)

	md := tokenmetadata.Metadata{
		Mint: mintKey,
		Data: tokenmetadata.Data{Name: name, Symbol: symbol, Uri: uri},
	}
	var buf bytes.Buffer
	require.NoError(t, bin.NewBorshEncoder(&buf).Encode(&md))
	conn.SetAccount(pda, &sol.AccountInfo{
		Owner: solana.MustPublicKeyFromBase58(sol.MetaplexTokenMetadataProgramID),
		Data:  buf.Bytes(),
	})
}

func TestDiscover_EmptyWallet(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	svc, _ := newTestService(conn)

	snap, err := svc.Discover(context.Background(), solana.NewWallet().PublicKey().String(), core.Devnet)
	require.NoError(t, err)
	assert.NotNil(t, snap.Records)
	assert.Empty(t, snap.Records)
	assert.Equal(t, 2, conn.CallCount(stub.MethodGetParsedTokenAccounts))
}

func TestDiscover_VersionedFirstAndTagged(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	legacy := tokenAccount(core.LegacyTokenProgram, "5000", 2, 50)
	versioned := tokenAccount(core.VersionedTokenProgram, "1500000", 6, 1.5)
	conn.AddTokenAccount(legacy)
	conn.AddTokenAccount(versioned)
	svc, fc := newTestService(conn)

	owner := solana.NewWallet().PublicKey().String()
	snap, err := svc.Discover(context.Background(), owner, core.Devnet)
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)

	assert.Equal(t, owner, snap.Owner)
	assert.Equal(t, core.Devnet, snap.Network)
	assert.Equal(t, fc.Now(), snap.TakenAt)

	first, second := snap.Records[0], snap.Records[1]
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, versioned.Mint, first.MintAddress)
	assert.Equal(t, versioned.Address.String(), first.TokenAddress)
	assert.Equal(t, core.VersionedTokenProgram, first.TokenProgram)
	assert.Equal(t, 1.5, first.Balance)
	assert.Equal(t, "1500000", first.RawAmount)
	assert.Equal(t, uint8(6), first.Decimals)

	assert.Equal(t, 2, second.ID)
	assert.Equal(t, legacy.Mint, second.MintAddress)
	assert.Equal(t, core.LegacyTokenProgram, second.TokenProgram)
}

func TestDiscover_MetadataDefaultsAndResolved(t *testing.T) {
	conn := stub.NewConnection(core.Mainnet)
	known := tokenAccount(core.LegacyTokenProgram, "1", 0, 1)
	unknown := tokenAccount(core.LegacyTokenProgram, "2", 0, 2)
	conn.AddTokenAccount(known)
	conn.AddTokenAccount(unknown)
	setMetaplexMetadata(t, conn, known.Mint, "Known Coin", "KNC", "https://example.com/knc.json")
	svc, _ := newTestService(conn)

	snap, err := svc.Discover(context.Background(), solana.NewWallet().PublicKey().String(), core.Mainnet)
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)

	assert.Equal(t, "Known Coin", snap.Records[0].Name)
	assert.Equal(t, "KNC", snap.Records[0].Symbol)
	assert.Equal(t, "https://example.com/knc.json", snap.Records[0].URI)

	assert.Equal(t, core.UnknownTokenName, snap.Records[1].Name)
	assert.Equal(t, core.UnknownTokenSymbol, snap.Records[1].Symbol)
	assert.Empty(t, snap.Records[1].URI)
	assert.Zero(t, snap.Records[1].Price)
	assert.Zero(t, snap.Records[1].Change24h)
}

func TestDiscover_FailureAbortsBatch(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	conn.AddTokenAccount(tokenAccount(core.LegacyTokenProgram, "1", 0, 1))
	rpcErr := errors.New("node unavailable")
	conn.Errors[stub.MethodGetAccountInfo] = rpcErr
	svc, _ := newTestService(conn)

	snap, err := svc.Discover(context.Background(), solana.NewWallet().PublicKey().String(), core.Devnet)
	require.ErrorIs(t, err, rpcErr)
	assert.Nil(t, snap.Records)
}

func TestDiscover_ListingFailure(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	rpcErr := errors.New("429 too many requests")
	conn.Errors[stub.MethodGetParsedTokenAccounts] = rpcErr
	svc, _ := newTestService(conn)

	_, err := svc.Discover(context.Background(), solana.NewWallet().PublicKey().String(), core.Devnet)
	assert.ErrorIs(t, err, rpcErr)
}

func TestDiscover_InvalidInput(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	svc, _ := newTestService(conn)

	_, err := svc.Discover(context.Background(), "nope", core.Devnet)
	assert.ErrorIs(t, err, sol.ErrInvalidAddress)

	_, err = svc.Discover(context.Background(), solana.NewWallet().PublicKey().String(), core.Mainnet)
	assert.ErrorIs(t, err, core.ErrUnknownNetwork)
	assert.Zero(t, conn.TotalCalls())
}
