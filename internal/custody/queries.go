// internal/custody/queries.go
package custody

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-custody/internal/audit"
	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/token"
	"github.com/rovshanmuradov/solana-custody/internal/verify"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

const (
	defaultHolderLimit = 10
	maxHolderLimit     = 100
)

// GetWalletBalance returns the native balance of any address.
func (s *Service) GetWalletBalance(ctx context.Context, address string) (*BalanceResult, error) {
	if err := wallet.ValidateAddress("address", address); err != nil {
		return nil, invalidRequest(err)
	}

	lamports, err := s.chain.Balance(ctx, solana.MustPublicKeyFromBase58(address))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	return &BalanceResult{
		Address:  address,
		Lamports: lamports,
		SOL:      token.FromBaseUnits(lamports, token.NativeDecimals),
	}, nil
}

// GetTokenBalances lists every SPL holding of an address across both token
// program variants, enriched with mint metadata where known.
func (s *Service) GetTokenBalances(ctx context.Context, address string) ([]TokenBalance, error) {
	if err := wallet.ValidateAddress("address", address); err != nil {
		return nil, invalidRequest(err)
	}
	owner := solana.MustPublicKeyFromBase58(address)

	var accounts []chain.TokenAccount
	for _, program := range []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID} {
		found, err := s.chain.TokenAccountsByOwner(ctx, owner, program)
		if err != nil {
			return nil, fmt.Errorf("failed to list token accounts: %w", err)
		}
		accounts = append(accounts, found...)
	}

	out := make([]TokenBalance, 0, len(accounts))
	for _, acc := range accounts {
		asset := s.resolver.Resolve(ctx, acc.Mint)
		out = append(out, TokenBalance{
			Mint:      acc.Mint.String(),
			Symbol:    asset.Symbol,
			Name:      asset.Name,
			Decimals:  asset.Decimals,
			RawAmount: acc.Amount,
			UIAmount:  token.FromBaseUnits(acc.Amount, asset.Decimals),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RawAmount > out[j].RawAmount })
	return out, nil
}

// GetTokenHolders ranks the largest holding accounts of a mint. Limit is
// clamped to [1, 100]; zero means the default of 10.
func (s *Service) GetTokenHolders(ctx context.Context, mintAddress string, limit int) ([]TokenHolder, error) {
	if err := wallet.ValidateAddress("mint", mintAddress); err != nil {
		return nil, invalidRequest(err)
	}
	switch {
	case limit == 0:
		limit = defaultHolderLimit
	case limit < 0:
		return nil, invalidRequest(fmt.Errorf("invalid limit: %d", limit))
	case limit > maxHolderLimit:
		limit = maxHolderLimit
	}

	mint := solana.MustPublicKeyFromBase58(mintAddress)
	asset := s.resolver.Resolve(ctx, mint)

	holders, err := s.chain.TokenHolderAccounts(ctx, mint, asset.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate holders: %w", err)
	}

	sort.Slice(holders, func(i, j int) bool { return holders[i].Amount > holders[j].Amount })
	if len(holders) > limit {
		holders = holders[:limit]
	}

	// Supply is cosmetic; a failed read only drops the percentage column.
	var supply decimal.Decimal
	if sup, err := s.chain.TokenSupply(ctx, mint); err == nil && sup != nil {
		supply, _ = decimal.NewFromString(sup.Amount)
	}

	out := make([]TokenHolder, 0, len(holders))
	for _, h := range holders {
		holder := TokenHolder{
			Address:   h.Address.String(),
			Owner:     h.Owner.String(),
			RawAmount: h.Amount,
			UIAmount:  token.FromBaseUnits(h.Amount, asset.Decimals),
		}
		if supply.IsPositive() {
			pct := decimal.NewFromUint64(h.Amount).Div(supply).Mul(decimal.NewFromInt(100))
			holder.PercentOfSupply = pct.Round(4).String()
		}
		out = append(out, holder)
	}
	return out, nil
}

// GetAuditTrail lists the wallet's audit records, newest first. Intended for
// operator investigation of partial batches and failed transfers.
func (s *Service) GetAuditTrail(ctx context.Context, address string, limit, offset int) ([]*audit.Record, error) {
	if err := wallet.ValidateAddress("address", address); err != nil {
		return nil, invalidRequest(err)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.auditor.Trail(ctx, address, limit, offset)
}

// VerifyPayment answers whether a claimed SOL payment actually happened.
func (s *Service) VerifyPayment(ctx context.Context, req verify.Request) (*verify.Verdict, error) {
	if req.MinAmountSOL != "" {
		if _, err := token.ToBaseUnits(req.MinAmountSOL, token.NativeDecimals); err != nil {
			return nil, invalidRequest(err)
		}
	}
	return s.verifier.VerifyPayment(ctx, req)
}
