// internal/guard/guard.go
package guard

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/token"
)

// ErrInsufficientBalance marks a pre-flight balance shortfall. Wrapped by
// InsufficientBalanceError, which carries the exact amounts.
var ErrInsufficientBalance = errors.New("insufficient balance")

// InsufficientBalanceError reports available vs required in human units so
// the caller can show the user an actionable message.
type InsufficientBalanceError struct {
	Available uint64
	Required  uint64
	Decimals  uint8
	Asset     string // "SOL" or a mint address
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s, need %s",
		e.Asset,
		token.FromBaseUnits(e.Available, e.Decimals),
		token.FromBaseUnits(e.Required, e.Decimals))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Guard performs pre-flight sufficiency checks before any transaction is
// built or signed.
type Guard struct {
	chain     chain.Client
	feeBuffer uint64
	logger    *zap.Logger
}

func New(client chain.Client, feeBufferLamports uint64, logger *zap.Logger) *Guard {
	return &Guard{
		chain:     client,
		feeBuffer: feeBufferLamports,
		logger:    logger.Named("balance-guard"),
	}
}

// CheckNative requires available >= lamports + feeBuffer. Equality passes.
func (g *Guard) CheckNative(ctx context.Context, owner solana.PublicKey, lamports uint64) error {
	available, err := g.chain.Balance(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to fetch balance: %w", err)
	}

	required := lamports + g.feeBuffer
	if required < lamports { // overflow
		return fmt.Errorf("requested amount overflows")
	}
	if available < required {
		return &InsufficientBalanceError{
			Available: available,
			Required:  required,
			Decimals:  token.NativeDecimals,
			Asset:     "SOL",
		}
	}
	return nil
}

// CheckToken requires the sender's holding account balance >= raw. A missing
// holding account is a zero balance, not an error.
func (g *Guard) CheckToken(ctx context.Context, senderATA solana.PublicKey, raw uint64, mint string, decimals uint8) error {
	available, ok, err := g.chain.TokenAccountBalance(ctx, senderATA)
	if err != nil {
		return fmt.Errorf("failed to fetch token balance: %w", err)
	}
	if !ok {
		available = 0
	}

	if available < raw {
		return &InsufficientBalanceError{
			Available: available,
			Required:  raw,
			Decimals:  decimals,
			Asset:     mint,
		}
	}
	return nil
}

// CheckTokenBatch checks the whole batch up front: rawPerRecipient x count,
// evaluated once before any sub-batch executes, so a mid-batch shortfall
// cannot occur.
func (g *Guard) CheckTokenBatch(ctx context.Context, senderATA solana.PublicKey, rawPerRecipient uint64, count int, mint string, decimals uint8) error {
	if count <= 0 {
		return fmt.Errorf("empty recipient list")
	}
	if rawPerRecipient > 0 && uint64(count) > math.MaxUint64/rawPerRecipient {
		return fmt.Errorf("batch total overflows")
	}
	return g.CheckToken(ctx, senderATA, rawPerRecipient*uint64(count), mint, decimals)
}
