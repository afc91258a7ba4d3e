package airdrop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/hunterwarburton/solportal/internal/core"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/hunterwarburton/solportal/internal/solana/stub"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	out *Outcome
	err error
}

func startRequest(ctx context.Context, r *Requester, address, amount string) <-chan result {
	done := make(chan result, 1)
	go func() {
		out, err := r.Request(ctx, true, address, amount)
		done <- result{out: out, err: err}
	}()
	return done
}

// tick waits for the poll loop to sleep, then advances the clock by one interval.
func tick(t *testing.T, fc *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(time.Second)
	}
}

func TestRequest_TimesOutAfterSixtyChecks(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	conn.AirdropSig = solana.Signature{9}
	fc := clockwork.NewFakeClock()
	start := fc.Now()
	r := NewRequester(stub.NewConnector(conn), WithClock(fc))

	done := startRequest(context.Background(), r, solana.NewWallet().PublicKey().String(), "1")
	tick(t, fc, DefaultMaxAttempts-1)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusTimeout, res.out.Status)
	assert.Equal(t, 60, res.out.Attempts)
	assert.Equal(t, conn.AirdropSig, res.out.Signature)
	assert.Equal(t, 60, conn.CallCount(stub.MethodGetSignatureStatus))
	assert.Equal(t, 59*time.Second, fc.Since(start))
	assert.Equal(t, []uint64{solana.LAMPORTS_PER_SOL}, conn.Airdrops)
}

func TestRequest_StopsOnFinalized(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	conn.Statuses = []*sol.SignatureStatus{
		nil,
		{ConfirmationStatus: sol.StatusConfirmed},
		{ConfirmationStatus: sol.StatusFinalized},
	}
	fc := clockwork.NewFakeClock()
	r := NewRequester(stub.NewConnector(conn), WithClock(fc))

	done := startRequest(context.Background(), r, solana.NewWallet().PublicKey().String(), "0.5")
	tick(t, fc, 2)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusFinalized, res.out.Status)
	assert.Equal(t, 3, res.out.Attempts)
	assert.Equal(t, uint64(500_000_000), res.out.Lamports)
}

func TestRequest_StatusErrorsCountAsAttempts(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	conn.Errors[stub.MethodGetSignatureStatus] = errors.New("rate limited")
	fc := clockwork.NewFakeClock()
	r := NewRequester(stub.NewConnector(conn), WithClock(fc), WithPolling(3, time.Second))

	done := startRequest(context.Background(), r, solana.NewWallet().PublicKey().String(), "1")
	tick(t, fc, 2)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusTimeout, res.out.Status)
	assert.Equal(t, 3, res.out.Attempts)
}

func TestRequest_Preconditions(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	r := NewRequester(stub.NewConnector(conn))
	addr := solana.NewWallet().PublicKey().String()

	_, err := r.Request(context.Background(), false, addr, "1")
	assert.ErrorIs(t, err, ErrWalletNotConnected)

	for _, amount := range []string{"", "0", "-2", "x", "0.0000000001"} {
		_, err = r.Request(context.Background(), true, addr, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}

	_, err = r.Request(context.Background(), true, " ", "1")
	assert.ErrorIs(t, err, ErrMissingAddress)

	assert.Zero(t, conn.TotalCalls())
}

func TestRequest_FailureNotRetried(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	faucetErr := errors.New("airdrop limit reached")
	conn.Errors[stub.MethodRequestAirdrop] = faucetErr
	r := NewRequester(stub.NewConnector(conn))

	out, err := r.Request(context.Background(), true, solana.NewWallet().PublicKey().String(), "1")
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, faucetErr)
	assert.Equal(t, 1, conn.CallCount(stub.MethodRequestAirdrop))
	assert.Zero(t, conn.CallCount(stub.MethodGetSignatureStatus))
}

func TestRequest_ContextCancelStopsPolling(t *testing.T) {
	conn := stub.NewConnection(core.Devnet)
	fc := clockwork.NewFakeClock()
	r := NewRequester(stub.NewConnector(conn), WithClock(fc))
	ctx, cancel := context.WithCancel(context.Background())

	done := startRequest(ctx, r, solana.NewWallet().PublicKey().String(), "1")
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	cancel()

	res := <-done
	assert.ErrorIs(t, res.err, context.Canceled)
	require.NotNil(t, res.out)
	assert.Equal(t, 1, res.out.Attempts)
}

func TestSOLToLamports(t *testing.T) {
	got, err := SOLToLamports("2")
	require.NoError(t, err)
	assert.Equal(t, 2*solana.LAMPORTS_PER_SOL, got)

	got, err = SOLToLamports("0.000000001")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)
}

func TestBalance(t *testing.T) {
	conn := stub.NewConnection(core.Mainnet)
	owner := solana.NewWallet().PublicKey()
	conn.Balances[owner] = 1_250_000_000
	r := NewRequester(stub.NewConnector(conn))

	bal, err := r.Balance(context.Background(), core.Mainnet, owner.String())
	require.NoError(t, err)
	assert.Equal(t, "1.25", bal.String())
}
