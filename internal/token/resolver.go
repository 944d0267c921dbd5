// internal/token/resolver.go
package token

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
)

const (
	assetInfoTTL = 5 * time.Minute
	// Mint account layout: mint authority option (4) + authority (32) +
	// supply (8), decimals at offset 44.
	mintDecimalsOffset = 44
)

// AssetInfo describes which token program governs a mint and its precision.
type AssetInfo struct {
	Mint     solana.PublicKey
	Program  solana.PublicKey
	Decimals uint8
	Symbol   string
	Name     string
}

// Resolver inspects mint accounts to pick the governing token program variant
// and the asset's decimal precision, with a TTL cache on top.
type Resolver struct {
	chain  chain.Client
	logger *zap.Logger
	cache  sync.Map
	group  singleflight.Group
}

type cacheEntry struct {
	info      AssetInfo
	updatedAt time.Time
}

func NewResolver(client chain.Client, logger *zap.Logger) *Resolver {
	return &Resolver{
		chain:  client,
		logger: logger.Named("asset-resolver"),
	}
}

// Resolve returns the asset info for a mint. Detection failures fall back to
// the classic token program and the default precision rather than erroring:
// a flaky metadata read must not block a transfer whose amount still parses.
func (r *Resolver) Resolve(ctx context.Context, mint solana.PublicKey) AssetInfo {
	key := mint.String()
	if entry, ok := r.cache.Load(key); ok {
		cached := entry.(cacheEntry)
		if time.Since(cached.updatedAt) < assetInfoTTL {
			return cached.info
		}
		r.cache.Delete(key)
	}

	result, _, _ := r.group.Do(key, func() (interface{}, error) {
		info, fromChain := r.resolveFromChain(ctx, mint)
		enrichFromKnownTokens(mint, &info)
		if fromChain {
			r.cache.Store(key, cacheEntry{info: info, updatedAt: time.Now()})
		}
		return info, nil
	})
	return result.(AssetInfo)
}

func (r *Resolver) resolveFromChain(ctx context.Context, mint solana.PublicKey) (AssetInfo, bool) {
	info := AssetInfo{
		Mint:     mint,
		Program:  solana.TokenProgramID,
		Decimals: DefaultDecimals,
	}

	acc, err := r.chain.AccountInfo(ctx, mint)
	if err != nil || acc == nil || acc.Value == nil {
		r.logger.Debug("mint account unreadable, using defaults",
			zap.String("mint", mint.String()),
			zap.Error(err))
		return info, false
	}

	owner := acc.Value.Owner
	switch {
	case owner.Equals(solana.TokenProgramID):
		info.Program = solana.TokenProgramID
	case owner.Equals(solana.Token2022ProgramID):
		info.Program = solana.Token2022ProgramID
	default:
		r.logger.Debug("mint owned by unknown program, using default variant",
			zap.String("mint", mint.String()),
			zap.String("owner", owner.String()))
	}

	data := acc.Value.Data.GetBinary()
	if len(data) > mintDecimalsOffset {
		info.Decimals = data[mintDecimalsOffset]
	} else {
		r.logger.Debug("mint data too short for decimals, using default",
			zap.String("mint", mint.String()),
			zap.Int("data_len", len(data)))
	}

	return info, true
}

func enrichFromKnownTokens(mint solana.PublicKey, info *AssetInfo) {
	switch mint.String() {
	case "So11111111111111111111111111111111111111112": // wSOL
		info.Symbol = "SOL"
		info.Name = "Wrapped SOL"
	case "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": // USDC
		info.Symbol = "USDC"
		info.Name = "USD Coin"
	case "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": // USDT
		info.Symbol = "USDT"
		info.Name = "Tether USD"
	}
}
