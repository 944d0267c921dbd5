// internal/chain/chaintest/fake.go
//
// Fake chain client for unit tests. Each method delegates to an optional
// function field; unset methods fail the call with a descriptive error so a
// test exercising an unexpected RPC path surfaces it immediately.
package chaintest

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
)

type Fake struct {
	LatestBlockhashFn      func(ctx context.Context) (chain.Blockhash, error)
	BlockHeightFn          func(ctx context.Context) (uint64, error)
	BalanceFn              func(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	TokenAccountBalanceFn  func(ctx context.Context, account solana.PublicKey) (uint64, bool, error)
	AccountInfoFn          func(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	AccountExistsFn        func(ctx context.Context, pubkey solana.PublicKey) (bool, error)
	SendTransactionFn      func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatusFn      func(ctx context.Context, signature solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error)
	TransactionFn          func(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) (*rpc.GetTransactionResult, error)
	TokenHolderAccountsFn  func(ctx context.Context, mint, tokenProgram solana.PublicKey) ([]chain.HolderAccount, error)
	TokenSupplyFn          func(ctx context.Context, mint solana.PublicKey) (*rpc.UiTokenAmount, error)
	TokenAccountsByOwnerFn func(ctx context.Context, owner, tokenProgram solana.PublicKey) ([]chain.TokenAccount, error)
}

func (f *Fake) LatestBlockhash(ctx context.Context) (chain.Blockhash, error) {
	if f.LatestBlockhashFn == nil {
		return chain.Blockhash{}, errUnexpected("LatestBlockhash")
	}
	return f.LatestBlockhashFn(ctx)
}

func (f *Fake) BlockHeight(ctx context.Context) (uint64, error) {
	if f.BlockHeightFn == nil {
		return 0, errUnexpected("BlockHeight")
	}
	return f.BlockHeightFn(ctx)
}

func (f *Fake) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	if f.BalanceFn == nil {
		return 0, errUnexpected("Balance")
	}
	return f.BalanceFn(ctx, pubkey)
}

func (f *Fake) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, bool, error) {
	if f.TokenAccountBalanceFn == nil {
		return 0, false, errUnexpected("TokenAccountBalance")
	}
	return f.TokenAccountBalanceFn(ctx, account)
}

func (f *Fake) AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if f.AccountInfoFn == nil {
		return nil, errUnexpected("AccountInfo")
	}
	return f.AccountInfoFn(ctx, pubkey)
}

func (f *Fake) AccountExists(ctx context.Context, pubkey solana.PublicKey) (bool, error) {
	if f.AccountExistsFn == nil {
		return false, errUnexpected("AccountExists")
	}
	return f.AccountExistsFn(ctx, pubkey)
}

func (f *Fake) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if f.SendTransactionFn == nil {
		return solana.Signature{}, errUnexpected("SendTransaction")
	}
	return f.SendTransactionFn(ctx, tx)
}

func (f *Fake) SignatureStatus(ctx context.Context, signature solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error) {
	if f.SignatureStatusFn == nil {
		return nil, errUnexpected("SignatureStatus")
	}
	return f.SignatureStatusFn(ctx, signature, searchHistory)
}

func (f *Fake) Transaction(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) (*rpc.GetTransactionResult, error) {
	if f.TransactionFn == nil {
		return nil, errUnexpected("Transaction")
	}
	return f.TransactionFn(ctx, signature, commitment)
}

func (f *Fake) TokenHolderAccounts(ctx context.Context, mint, tokenProgram solana.PublicKey) ([]chain.HolderAccount, error) {
	if f.TokenHolderAccountsFn == nil {
		return nil, errUnexpected("TokenHolderAccounts")
	}
	return f.TokenHolderAccountsFn(ctx, mint, tokenProgram)
}

func (f *Fake) TokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.UiTokenAmount, error) {
	if f.TokenSupplyFn == nil {
		return nil, errUnexpected("TokenSupply")
	}
	return f.TokenSupplyFn(ctx, mint)
}

func (f *Fake) TokenAccountsByOwner(ctx context.Context, owner, tokenProgram solana.PublicKey) ([]chain.TokenAccount, error) {
	if f.TokenAccountsByOwnerFn == nil {
		return nil, errUnexpected("TokenAccountsByOwner")
	}
	return f.TokenAccountsByOwnerFn(ctx, owner, tokenProgram)
}

func errUnexpected(method string) error {
	return fmt.Errorf("chaintest: unexpected call to %s", method)
}

var _ chain.Client = (*Fake)(nil)
