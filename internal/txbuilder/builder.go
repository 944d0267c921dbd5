// internal/txbuilder/builder.go
package txbuilder

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/token"
)

// Unsigned is a fully assembled transaction awaiting signatures, paired with
// the block height after which its blockhash is no longer accepted.
type Unsigned struct {
	Tx                   *solana.Transaction
	LastValidBlockHeight uint64
}

// Builder assembles unsigned transfer transactions. Each Build* call fetches
// a fresh blockhash so the expiry window starts at assembly time, not at
// construction time.
type Builder struct {
	chain  chain.Client
	logger *zap.Logger
}

func New(client chain.Client, logger *zap.Logger) *Builder {
	return &Builder{
		chain:  client,
		logger: logger.Named("tx-builder"),
	}
}

// BuildNativeTransfer assembles a single System transfer of lamports from the
// custodial wallet to the recipient. The wallet pays the fee.
func (b *Builder) BuildNativeTransfer(ctx context.Context, from, to solana.PublicKey, lamports uint64) (*Unsigned, error) {
	ix := system.NewTransferInstruction(lamports, from, to).Build()
	return b.assemble(ctx, from, []solana.Instruction{ix})
}

// BuildTokenTransfer assembles a TransferChecked of raw base units from the
// owner's holding account to the recipient's. When the recipient's holding
// account is missing, or its existence cannot be determined, an idempotent
// create is prepended; creating an account that already exists is a no-op.
func (b *Builder) BuildTokenTransfer(ctx context.Context, owner, recipient solana.PublicKey, asset token.AssetInfo, raw uint64) (*Unsigned, error) {
	instructions, err := b.tokenTransferInstructions(ctx, owner, recipient, asset, raw)
	if err != nil {
		return nil, err
	}
	return b.assemble(ctx, owner, instructions)
}

// BuildTokenBatch assembles one transaction carrying a transfer of raw base
// units to every recipient in the chunk. The caller is responsible for
// keeping chunks small enough to fit the transaction size limit.
func (b *Builder) BuildTokenBatch(ctx context.Context, owner solana.PublicKey, recipients []solana.PublicKey, asset token.AssetInfo, rawPerRecipient uint64) (*Unsigned, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("empty recipient list")
	}

	var instructions []solana.Instruction
	for _, recipient := range recipients {
		ixs, err := b.tokenTransferInstructions(ctx, owner, recipient, asset, rawPerRecipient)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ixs...)
	}
	return b.assemble(ctx, owner, instructions)
}

func (b *Builder) tokenTransferInstructions(ctx context.Context, owner, recipient solana.PublicKey, asset token.AssetInfo, raw uint64) ([]solana.Instruction, error) {
	sourceATA, err := FindAssociatedTokenAddress(owner, asset.Mint, asset.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender holding account: %w", err)
	}
	destATA, err := FindAssociatedTokenAddress(recipient, asset.Mint, asset.Program)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient holding account: %w", err)
	}

	var instructions []solana.Instruction

	exists, err := b.chain.AccountExists(ctx, destATA)
	if err != nil {
		// Cannot tell whether the account exists; the create is idempotent,
		// so include it rather than risk sending to a nonexistent account.
		b.logger.Warn("recipient holding account probe failed, including create",
			zap.String("holding_account", destATA.String()),
			zap.Error(err))
		exists = false
	}
	if !exists {
		instructions = append(instructions,
			createAssociatedTokenAccountIdempotentInstruction(owner, recipient, asset.Mint, destATA, asset.Program))
	}

	instructions = append(instructions,
		transferCheckedInstruction(sourceATA, asset.Mint, destATA, owner, raw, asset.Decimals, asset.Program))
	return instructions, nil
}

func (b *Builder) assemble(ctx context.Context, feePayer solana.PublicKey, instructions []solana.Instruction) (*Unsigned, error) {
	bh, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		bh.Hash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	b.logger.Debug("transaction assembled",
		zap.Int("instructions", len(instructions)),
		zap.Uint64("last_valid_block_height", bh.LastValidBlockHeight))

	return &Unsigned{
		Tx:                   tx,
		LastValidBlockHeight: bh.LastValidBlockHeight,
	}, nil
}
