package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/hunterwarburton/solportal/internal/core"
	"github.com/hunterwarburton/solportal/internal/logger"
	sol "github.com/hunterwarburton/solportal/internal/solana"
	"github.com/jonboulle/clockwork"
)

// Query order: Token-2022 accounts are listed before legacy ones.
var discoveryOrder = []core.TokenProgram{core.VersionedTokenProgram, core.LegacyTokenProgram}

// Service discovers the token accounts held by a wallet.
type Service struct {
	connector sol.Connector
	clock     clockwork.Clock
}

// NewService creates a discovery service. A nil clock uses the real clock.
func NewService(connector sol.Connector, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{connector: connector, clock: clock}
}

// Discover lists every token account of owner on network and resolves display
// metadata per mint. Any failure other than missing metadata aborts the batch, so
// callers keep their previous snapshot.
func (s *Service) Discover(ctx context.Context, owner string, network core.Network) (core.Snapshot, error) {
	ownerKey, err := sol.ParseAddress(owner)
	if err != nil {
		return core.Snapshot{}, err
	}
	conn, err := s.connector.Connection(network)
	if err != nil {
		return core.Snapshot{}, err
	}

	var accounts []sol.ParsedTokenAccount
	for _, program := range discoveryOrder {
		accts, err := conn.GetParsedTokenAccounts(ctx, ownerKey, program)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("discovery of %s accounts failed: %w", program, err)
		}
		logger.TokenDebug("Found %d %s token accounts for %s", len(accts), program, ownerKey)
		accounts = append(accounts, accts...)
	}

	records := make([]core.TokenRecord, 0, len(accounts))
	for i, acct := range accounts {
		rec, err := s.buildRecord(ctx, conn, acct)
		if err != nil {
			return core.Snapshot{}, err
		}
		rec.ID = i + 1
		records = append(records, rec)
	}

	logger.TokenInfo("Discovered %d tokens for %s on %s", len(records), ownerKey, network)
	return core.Snapshot{
		Owner:   ownerKey.String(),
		Network: network,
		Records: records,
		TakenAt: s.clock.Now(),
	}, nil
}

func (s *Service) buildRecord(ctx context.Context, conn sol.Connection, acct sol.ParsedTokenAccount) (core.TokenRecord, error) {
	rec := core.TokenRecord{
		MintAddress:  acct.Mint,
		TokenAddress: acct.Address.String(),
		TokenProgram: acct.Program,
		Balance:      acct.UIAmount,
		RawAmount:    acct.Amount,
		Decimals:     acct.Decimals,
		Name:         core.UnknownTokenName,
		Symbol:       core.UnknownTokenSymbol,
	}

	mint, err := sol.ParseAddress(acct.Mint)
	if err != nil {
		return core.TokenRecord{}, fmt.Errorf("token account %s: %w", acct.Address, err)
	}
	md, err := sol.ResolveMetadata(ctx, conn, mint, acct.Program)
	switch {
	case errors.Is(err, sol.ErrMetadataNotFound):
		logger.TokenDebug("No metadata for mint %s: %v", mint, err)
		return rec, nil
	case err != nil:
		return core.TokenRecord{}, fmt.Errorf("metadata resolution for mint %s failed: %w", mint, err)
	}

	if md.Name != "" {
		rec.Name = md.Name
	}
	if md.Symbol != "" {
		rec.Symbol = md.Symbol
	}
	rec.URI = md.URI
	return rec, nil
}
