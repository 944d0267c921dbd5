// internal/chain/types.go
package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Blockhash pairs a recent blockhash with the last block height at which a
// transaction built on it is still submittable.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// TokenAccount carries the parsed state of an SPL token holding account.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

// HolderAccount is one entry of a token holder enumeration.
type HolderAccount struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// Client is the ledger RPC surface the custody core depends on. Reads may be
// retried by the implementation; mutations (SendTransaction) never are.
type Client interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	BlockHeight(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	// TokenAccountBalance returns ok=false when the holding account does not
	// exist; that is a zero balance, not an error.
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (amount uint64, ok bool, err error)
	AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	AccountExists(ctx context.Context, pubkey solana.PublicKey) (bool, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, signature solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error)
	Transaction(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) (*rpc.GetTransactionResult, error)
	TokenHolderAccounts(ctx context.Context, mint, tokenProgram solana.PublicKey) ([]HolderAccount, error)
	TokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.UiTokenAmount, error)
	TokenAccountsByOwner(ctx context.Context, owner, tokenProgram solana.PublicKey) ([]TokenAccount, error)
}
