package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/chain/chaintest"
)

func mintAccount(t *testing.T, owner solana.PublicKey, decimals uint8) *rpc.GetAccountInfoResult {
	t.Helper()
	// Mint layout prefix: 4 + 32 + 8 bytes before the decimals byte.
	data := make([]byte, 82)
	data[mintDecimalsOffset] = decimals

	encoded, err := json.Marshal([]string{base64.StdEncoding.EncodeToString(data), "base64"})
	require.NoError(t, err)
	var payload rpc.DataBytesOrJSON
	require.NoError(t, json.Unmarshal(encoded, &payload))

	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: owner,
			Data:  &payload,
		},
	}
}

func TestResolver_ClassicTokenProgram(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return mintAccount(t, solana.TokenProgramID, 6), nil
		},
	}

	r := NewResolver(client, zap.NewNop())
	info := r.Resolve(context.Background(), mint)

	assert.Equal(t, solana.TokenProgramID, info.Program)
	assert.Equal(t, uint8(6), info.Decimals)
}

func TestResolver_Token2022Program(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return mintAccount(t, solana.Token2022ProgramID, 9), nil
		},
	}

	r := NewResolver(client, zap.NewNop())
	info := r.Resolve(context.Background(), mint)

	assert.Equal(t, solana.Token2022ProgramID, info.Program)
	assert.Equal(t, uint8(9), info.Decimals)
}

func TestResolver_FallbackOnUnreadableMint(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, errors.New("rpc unavailable")
		},
	}

	r := NewResolver(client, zap.NewNop())
	info := r.Resolve(context.Background(), mint)

	assert.Equal(t, solana.TokenProgramID, info.Program)
	assert.Equal(t, DefaultDecimals, info.Decimals)
}

func TestResolver_CachesSuccessfulLookups(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	calls := 0
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			calls++
			return mintAccount(t, solana.TokenProgramID, 6), nil
		},
	}

	r := NewResolver(client, zap.NewNop())
	r.Resolve(context.Background(), mint)
	r.Resolve(context.Background(), mint)

	assert.Equal(t, 1, calls)
}

func TestResolver_KnownTokenEnrichment(t *testing.T) {
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return mintAccount(t, solana.TokenProgramID, 6), nil
		},
	}

	r := NewResolver(client, zap.NewNop())
	info := r.Resolve(context.Background(), usdc)

	assert.Equal(t, "USDC", info.Symbol)
	assert.Equal(t, "USD Coin", info.Name)
}
