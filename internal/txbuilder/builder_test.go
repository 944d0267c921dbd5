package txbuilder

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/chain/chaintest"
	"github.com/rovshanmuradov/solana-custody/internal/token"
)

func testBlockhash() chain.Blockhash {
	return chain.Blockhash{
		Hash:                 solana.MustHashFromBase58("4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM"),
		LastValidBlockHeight: 350_000_000,
	}
}

func newBuilder(accountExists func(context.Context, solana.PublicKey) (bool, error)) *Builder {
	client := &chaintest.Fake{
		LatestBlockhashFn: func(_ context.Context) (chain.Blockhash, error) {
			return testBlockhash(), nil
		},
		AccountExistsFn: accountExists,
	}
	return New(client, zap.NewNop())
}

// programOf resolves the program id of a compiled instruction.
func programOf(t *testing.T, tx *solana.Transaction, i int) solana.PublicKey {
	t.Helper()
	ix := tx.Message.Instructions[i]
	return tx.Message.AccountKeys[ix.ProgramIDIndex]
}

func TestBuildNativeTransfer(t *testing.T) {
	b := newBuilder(nil)
	from := solana.NewWallet().PublicKey()
	to := solana.NewWallet().PublicKey()

	unsigned, err := b.BuildNativeTransfer(context.Background(), from, to, 500_000_000)
	require.NoError(t, err)

	require.Len(t, unsigned.Tx.Message.Instructions, 1)
	assert.Equal(t, solana.SystemProgramID, programOf(t, unsigned.Tx, 0))
	assert.Equal(t, from, unsigned.Tx.Message.AccountKeys[0], "custodial wallet pays the fee")
	assert.Equal(t, uint64(350_000_000), unsigned.LastValidBlockHeight)
}

func usdcAsset() token.AssetInfo {
	return token.AssetInfo{
		Mint:     solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		Program:  solana.TokenProgramID,
		Decimals: 6,
	}
}

func TestBuildTokenTransfer_ExistingHoldingAccount(t *testing.T) {
	b := newBuilder(func(_ context.Context, _ solana.PublicKey) (bool, error) {
		return true, nil
	})
	owner := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	unsigned, err := b.BuildTokenTransfer(context.Background(), owner, recipient, usdcAsset(), 1_000_000)
	require.NoError(t, err)

	require.Len(t, unsigned.Tx.Message.Instructions, 1)
	assert.Equal(t, solana.TokenProgramID, programOf(t, unsigned.Tx, 0))

	data := []byte(unsigned.Tx.Message.Instructions[0].Data)
	require.Len(t, data, 10)
	assert.Equal(t, byte(12), data[0], "TransferChecked")
	assert.Equal(t, uint64(1_000_000), binary.LittleEndian.Uint64(data[1:9]))
	assert.Equal(t, byte(6), data[9])
}

func TestBuildTokenTransfer_MissingHoldingAccount(t *testing.T) {
	b := newBuilder(func(_ context.Context, _ solana.PublicKey) (bool, error) {
		return false, nil
	})
	owner := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	unsigned, err := b.BuildTokenTransfer(context.Background(), owner, recipient, usdcAsset(), 1_000_000)
	require.NoError(t, err)

	require.Len(t, unsigned.Tx.Message.Instructions, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(t, unsigned.Tx, 0))
	assert.Equal(t, []byte{1}, []byte(unsigned.Tx.Message.Instructions[0].Data), "CreateIdempotent")
	assert.Equal(t, solana.TokenProgramID, programOf(t, unsigned.Tx, 1))
}

func TestBuildTokenTransfer_ProbeFailureIncludesCreate(t *testing.T) {
	b := newBuilder(func(_ context.Context, _ solana.PublicKey) (bool, error) {
		return false, errors.New("rpc node down")
	})
	owner := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()

	unsigned, err := b.BuildTokenTransfer(context.Background(), owner, recipient, usdcAsset(), 1)
	require.NoError(t, err)
	require.Len(t, unsigned.Tx.Message.Instructions, 2)
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, programOf(t, unsigned.Tx, 0))
}

func TestBuildTokenBatch(t *testing.T) {
	missing := solana.NewWallet().PublicKey()
	missingATA, err := FindAssociatedTokenAddress(missing, usdcAsset().Mint, solana.TokenProgramID)
	require.NoError(t, err)

	b := newBuilder(func(_ context.Context, account solana.PublicKey) (bool, error) {
		return !account.Equals(missingATA), nil
	})
	owner := solana.NewWallet().PublicKey()
	recipients := []solana.PublicKey{
		solana.NewWallet().PublicKey(),
		missing,
		solana.NewWallet().PublicKey(),
	}

	unsigned, err := b.BuildTokenBatch(context.Background(), owner, recipients, usdcAsset(), 1_000_000)
	require.NoError(t, err)

	// One transfer per recipient plus one create for the missing account.
	require.Len(t, unsigned.Tx.Message.Instructions, 4)
}

func TestBuildTokenBatch_EmptyRecipients(t *testing.T) {
	b := newBuilder(nil)
	_, err := b.BuildTokenBatch(context.Background(), solana.NewWallet().PublicKey(), nil, usdcAsset(), 1)
	require.Error(t, err)
}

func TestFindAssociatedTokenAddress_VariesByProgram(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := usdcAsset().Mint

	classic, err := FindAssociatedTokenAddress(owner, mint, solana.TokenProgramID)
	require.NoError(t, err)
	t22, err := FindAssociatedTokenAddress(owner, mint, solana.Token2022ProgramID)
	require.NoError(t, err)

	assert.False(t, classic.Equals(t22), "program variant participates in derivation")

	// Matches the stock helper for the classic program.
	stock, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	assert.True(t, classic.Equals(stock))
}
