package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
)

// Client implements Connection using the solana-go SDK's RPC client.
type Client struct {
	network   core.Network
	rpcClient *rpc.Client
}

var _ Connection = (*Client)(nil)

// NewConnection wraps an rpc.Client for network.
func NewConnection(network core.Network, rpcClient *rpc.Client) *Client {
	return &Client{network: network, rpcClient: rpcClient}
}

// Network returns the network this client talks to.
func (c *Client) Network() core.Network { return c.network }

// GetBalance returns the lamport balance of owner.
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := c.rpcClient.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	return out.Value, nil
}

// parsedAccountData mirrors the jsonParsed layout of an SPL token account:
// {"program": ..., "parsed": {"info": {"mint": ..., "tokenAmount": {...}}}}
type parsedAccountData struct {
	Program string `json:"program"`
	Parsed  struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				Amount         string   `json:"amount"`
				Decimals       uint8    `json:"decimals"`
				UIAmount       *float64 `json:"uiAmount"`
				UIAmountString string   `json:"uiAmountString"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// GetParsedTokenAccounts lists the token accounts of owner under one token program.
// Every returned account is tagged with program.
func (c *Client) GetParsedTokenAccounts(ctx context.Context, owner solana.PublicKey, program core.TokenProgram) ([]ParsedTokenAccount, error) {
	programID := program.ProgramID()
	accts, err := c.rpcClient.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &programID},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s token accounts by owner: %w", program, err)
	}

	out := make([]ParsedTokenAccount, 0, len(accts.Value))
	for _, rawAcct := range accts.Value {
		if rawAcct == nil || rawAcct.Account.Data == nil {
			continue
		}
		rawJSON := rawAcct.Account.Data.GetRawJSON()
		if rawJSON == nil {
			logger.RPCWarn("No parsed data for token account %s", rawAcct.Pubkey)
			continue
		}
		parsed, err := decodeParsedTokenAccount(rawJSON)
		if err != nil {
			return nil, fmt.Errorf("token account %s: %w", rawAcct.Pubkey, err)
		}
		parsed.Address = rawAcct.Pubkey
		parsed.Program = program
		out = append(out, parsed)
	}
	return out, nil
}

func decodeParsedTokenAccount(raw []byte) (ParsedTokenAccount, error) {
	var data parsedAccountData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ParsedTokenAccount{}, fmt.Errorf("failed to decode parsed account data: %w", err)
	}
	info := data.Parsed.Info
	if info.Mint == "" {
		return ParsedTokenAccount{}, errors.New("parsed account data has no mint")
	}

	acct := ParsedTokenAccount{
		Mint:           info.Mint,
		Amount:         info.TokenAmount.Amount,
		Decimals:       info.TokenAmount.Decimals,
		UIAmountString: info.TokenAmount.UIAmountString,
	}
	switch {
	case info.TokenAmount.UIAmount != nil:
		acct.UIAmount = *info.TokenAmount.UIAmount
	case info.TokenAmount.UIAmountString != "":
		v, err := strconv.ParseFloat(info.TokenAmount.UIAmountString, 64)
		if err != nil {
			return ParsedTokenAccount{}, fmt.Errorf("invalid uiAmountString %q: %w", info.TokenAmount.UIAmountString, err)
		}
		acct.UIAmount = v
	}
	return acct, nil
}

// GetAccountInfo fetches base64 account data. A missing account is not an error.
func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*AccountInfo, error) {
	res, err := c.rpcClient.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("rpc call getAccountInfo failed for %s: %w", account, err)
	}
	if res == nil || res.Value == nil {
		return nil, nil
	}
	info := &AccountInfo{
		Owner:    res.Value.Owner,
		Lamports: res.Value.Lamports,
	}
	if res.Value.Data != nil {
		info.Data = res.Value.Data.GetBinary()
	}
	return info, nil
}

// GetLatestBlockhash returns a finalized recent blockhash for transaction building.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to fetch blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits an already signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	logger.RPCDebug("Submitted transaction %s on %s", sig, c.network)
	return sig, nil
}

// RequestAirdrop asks the cluster faucet for lamports.
func (c *Client) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	sig, err := c.rpcClient.RequestAirdrop(ctx, account, lamports, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("airdrop request for %s failed: %w", account, err)
	}
	return sig, nil
}

// GetSignatureStatus looks up a single signature.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	out, err := c.rpcClient.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status for %s: %w", sig, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}
	st := out.Value[0]
	return &SignatureStatus{
		Slot:               st.Slot,
		ConfirmationStatus: string(st.ConfirmationStatus),
		Err:                st.Err,
	}, nil
}
