package transfer

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/solana/stub"
	"github.com/hunterwarburton/solportal/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	conn   *stub.Connection
	orch   *Orchestrator
	wallet *wallet.KeypairWallet
	sender solana.PublicKey
	mint   solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := stub.NewConnection(core.Devnet)
	conn.Blockhash = solana.Hash{7}
	w := wallet.NewKeypairWallet(solana.NewWallet().PrivateKey)
	sender, ok := w.PublicKey()
	require.True(t, ok)
	return &fixture{
		conn:   conn,
		orch:   NewOrchestrator(stub.NewConnector(conn), nil),
		wallet: w,
		sender: sender,
		mint:   solana.NewWallet().PublicKey(),
	}
}

func (f *fixture) request(recipient string, amount string, program core.TokenProgram) Request {
	return Request{
		Sender:    f.wallet,
		Recipient: recipient,
		Mint:      f.mint.String(),
		Amount:    amount,
		Decimals:  6,
		Program:   program,
		Network:   core.Devnet,
	}
}

func programOf(tx *solana.Transaction, i int) solana.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[i].ProgramIDIndex]
}

func accountOf(tx *solana.Transaction, ix, acct int) solana.PublicKey {
	return tx.Message.AccountKeys[tx.Message.Instructions[ix].Accounts[acct]]
}

func TestRawAmount(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     uint64
	}{
		{"1", 0, 1},
		{"1.5", 6, 1_500_000},
		{"0.000001", 6, 1},
		{"0.1", 1, 1},
		{"123.456789", 9, 123_456_789_000},
		{"0.3", 18, 300_000_000_000_000_000},
		{"18446744073709551615", 0, 18446744073709551615},
	}
	for _, tt := range tests {
		got, err := RawAmount(tt.amount, tt.decimals)
		require.NoError(t, err, tt.amount)
		assert.Equal(t, tt.want, got, tt.amount)

		// raw / 10^d must give back the input exactly.
		back := decimal.NewFromBigInt(new(big.Int).SetUint64(got), -int32(tt.decimals))
		assert.True(t, back.Equal(decimal.RequireFromString(tt.amount)), tt.amount)
	}
}

func TestRawAmount_Invalid(t *testing.T) {
	for _, in := range []struct {
		amount   string
		decimals uint8
	}{
		{"", 6},
		{"abc", 6},
		{"0", 6},
		{"-1", 6},
		{"0.0000001", 6},
		{"0.5", 0},
		{"18446744073709551616", 0},
		{"18446744073709.551616", 6},
	} {
		_, err := RawAmount(in.amount, in.decimals)
		assert.ErrorIs(t, err, ErrInvalidAmount, in.amount)
	}
}

func TestPrepare_RejectsBeforeAnyRPC(t *testing.T) {
	f := newFixture(t)
	offCurve, err := sol.FindAssociatedTokenAddress(solana.NewWallet().PublicKey(), f.mint, core.LegacyTokenProgram)
	require.NoError(t, err)
	recipient := solana.NewWallet().PublicKey().String()

	disconnected := wallet.NewKeypairWallet(solana.NewWallet().PrivateKey)
	disconnected.Disconnect()

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"disconnected wallet", func(r *Request) { r.Sender = disconnected }, ErrWalletNotConnected},
		{"no wallet", func(r *Request) { r.Sender = nil }, ErrWalletNotConnected},
		{"malformed recipient", func(r *Request) { r.Recipient = "not-base58!" }, ErrInvalidRecipient},
		{"off-curve recipient", func(r *Request) { r.Recipient = offCurve.String() }, ErrRecipientOffCurve},
		{"bad mint", func(r *Request) { r.Mint = "" }, ErrInvalidMint},
		{"bad program", func(r *Request) { r.Program = "token-3000" }, ErrInvalidProgram},
		{"zero amount", func(r *Request) { r.Amount = "0" }, ErrInvalidAmount},
		{"too precise", func(r *Request) { r.Amount = "1.0000001" }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(recipient, "1", core.LegacyTokenProgram)
			tt.mutate(&req)

			h, err := f.orch.Prepare(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, h)
			assert.Zero(t, f.conn.TotalCalls())
		})
	}
}

func TestTransfer_ExistingDestination(t *testing.T) {
	f := newFixture(t)
	recipient := solana.NewWallet().PublicKey()
	dest, err := sol.FindAssociatedTokenAddress(recipient, f.mint, core.VersionedTokenProgram)
	require.NoError(t, err)
	f.conn.SetAccount(dest, &sol.AccountInfo{Owner: solana.Token2022ProgramID})

	res, h, err := f.orch.Transfer(context.Background(), f.request(recipient.String(), "2.5", core.VersionedTokenProgram))
	require.NoError(t, err)
	assert.Equal(t, DestinationExisting, h.DestinationState)
	assert.Equal(t, DestinationExisting, res.DestinationState)
	assert.Equal(t, uint64(2_500_000), res.RawAmount)

	sent := f.conn.SentTransactions()
	require.Len(t, sent, 1)
	tx := sent[0]
	assert.Equal(t, res.Signature, tx.Signatures[0])
	assert.Equal(t, solana.Token2022ProgramID, programOf(tx, 0))

	src, err := sol.FindAssociatedTokenAddress(f.sender, f.mint, core.VersionedTokenProgram)
	require.NoError(t, err)
	assert.Equal(t, src, accountOf(tx, 0, 0))
	assert.Equal(t, dest, accountOf(tx, 0, 1))
	assert.Equal(t, f.sender, accountOf(tx, 0, 2))

	data := tx.Message.Instructions[0].Data
	require.Len(t, data, 9)
	assert.Equal(t, uint64(2_500_000), binary.LittleEndian.Uint64(data[1:]))
	assert.NoError(t, tx.VerifySignatures())
}

func TestTransfer_CreatesMissingDestination(t *testing.T) {
	f := newFixture(t)
	recipient := solana.NewWallet().PublicKey()

	res, h, err := f.orch.Transfer(context.Background(), f.request(recipient.String(), "1", core.VersionedTokenProgram))
	require.NoError(t, err)
	assert.Equal(t, DestinationCreated, h.DestinationState)

	sent := f.conn.SentTransactions()
	require.Len(t, sent, 2)

	create := sent[0]
	assert.Equal(t, res.CreateSignature, create.Signatures[0])
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(create, 0))
	assert.Equal(t, h.DestinationAccount, accountOf(create, 0, 1))
	assert.Equal(t, solana.Token2022ProgramID, accountOf(create, 0, 5))

	assert.Equal(t, solana.Token2022ProgramID, programOf(sent[1], 0))
	assert.Equal(t, res.Signature, sent[1].Signatures[0])
}

func TestTransfer_DestinationOwnedByOtherProgramIsRecreated(t *testing.T) {
	f := newFixture(t)
	recipient := solana.NewWallet().PublicKey()
	dest, err := sol.FindAssociatedTokenAddress(recipient, f.mint, core.LegacyTokenProgram)
	require.NoError(t, err)
	f.conn.SetAccount(dest, &sol.AccountInfo{Owner: solana.SystemProgramID})

	h, err := f.orch.Prepare(context.Background(), f.request(recipient.String(), "1", core.LegacyTokenProgram))
	require.NoError(t, err)
	assert.Equal(t, DestinationCreated, h.DestinationState)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(f.conn.SentTransactions()[0], 0))
}

func TestExecute_FailureLeavesCreatedAccountObservable(t *testing.T) {
	f := newFixture(t)
	recipient := solana.NewWallet().PublicKey()

	h, err := f.orch.Prepare(context.Background(), f.request(recipient.String(), "1", core.LegacyTokenProgram))
	require.NoError(t, err)
	require.Equal(t, DestinationCreated, h.DestinationState)
	require.False(t, h.CreateSignature.IsZero())

	rejected := errors.New("insufficient funds")
	f.conn.Errors[stub.MethodSendTransaction] = rejected

	res, err := f.orch.Execute(context.Background(), h)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSubmission)
	assert.ErrorIs(t, err, rejected)
	assert.Len(t, f.conn.SentTransactions(), 1)
	assert.Equal(t, DestinationCreated, h.DestinationState)
}

func TestPrepare_CreateFailureIsAccountResolution(t *testing.T) {
	f := newFixture(t)
	f.conn.Errors[stub.MethodSendTransaction] = errors.New("blockhash not found")

	h, err := f.orch.Prepare(context.Background(), f.request(solana.NewWallet().PublicKey().String(), "1", core.LegacyTokenProgram))
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrAccountResolution)
}

func TestPrepare_LookupFailureIsAccountResolution(t *testing.T) {
	f := newFixture(t)
	f.conn.Errors[stub.MethodGetAccountInfo] = errors.New("timeout")

	_, err := f.orch.Prepare(context.Background(), f.request(solana.NewWallet().PublicKey().String(), "1", core.LegacyTokenProgram))
	assert.ErrorIs(t, err, ErrAccountResolution)
	assert.Zero(t, f.conn.CallCount(stub.MethodSendTransaction))
}

func TestExecute_AtMostOnce(t *testing.T) {
	f := newFixture(t)
	recipient := solana.NewWallet().PublicKey()
	dest, err := sol.FindAssociatedTokenAddress(recipient, f.mint, core.LegacyTokenProgram)
	require.NoError(t, err)
	f.conn.SetAccount(dest, &sol.AccountInfo{Owner: solana.TokenProgramID})

	h, err := f.orch.Prepare(context.Background(), f.request(recipient.String(), "1", core.LegacyTokenProgram))
	require.NoError(t, err)
	_, err = f.orch.Execute(context.Background(), h)
	require.NoError(t, err)

	_, err = f.orch.Execute(context.Background(), h)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
	assert.Len(t, f.conn.SentTransactions(), 1)
}

func TestRequestForRecord_ThreadsProgram(t *testing.T) {
	rec := core.TokenRecord{MintAddress: "mint", Decimals: 9, TokenProgram: core.VersionedTokenProgram}
	req := RequestForRecord(nil, rec, "dest", "3", core.Mainnet)
	assert.Equal(t, core.VersionedTokenProgram, req.Program)
	assert.Equal(t, uint8(9), req.Decimals)
	assert.Equal(t, "mint", req.Mint)
	assert.Equal(t, core.Mainnet, req.Network)
}
