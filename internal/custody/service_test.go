package custody

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/audit"
	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/chain/chaintest"
	"github.com/rovshanmuradov/solana-custody/internal/config"
	"github.com/rovshanmuradov/solana-custody/internal/guard"
	"github.com/rovshanmuradov/solana-custody/internal/ratelimit"
	"github.com/rovshanmuradov/solana-custody/internal/signer"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

var confirmSig = solana.SignatureFromBytes(append([]byte{9}, make([]byte, 63)...))

// passthroughSigner returns the transaction unchanged; the pipeline under
// test does not inspect signatures.
type passthroughSigner struct {
	calls atomic.Int32
	fail  error
}

func (p *passthroughSigner) Sign(_ context.Context, req signer.SignRequest) (*solana.Transaction, error) {
	p.calls.Add(1)
	if p.fail != nil {
		return nil, p.fail
	}
	return req.Transaction, nil
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(context.Context, string, string) error {
	return ratelimit.ErrRateLimited
}

func testConfig() *config.Config {
	return &config.Config{
		WalletLockTTL:      300,
		MaxBatchSize:       20,
		MaxBatchRecipients: 100,
		FeeBufferLamports:  5000,
		ConfirmPollMs:      1,
	}
}

// happyChain serves a transfer pipeline where everything works.
func happyChain(balance uint64) *chaintest.Fake {
	return &chaintest.Fake{
		BalanceFn: func(_ context.Context, _ solana.PublicKey) (uint64, error) {
			return balance, nil
		},
		TokenAccountBalanceFn: func(_ context.Context, _ solana.PublicKey) (uint64, bool, error) {
			return balance, true, nil
		},
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, nil // resolver falls back to defaults
		},
		AccountExistsFn: func(_ context.Context, _ solana.PublicKey) (bool, error) {
			return true, nil
		},
		LatestBlockhashFn: func(_ context.Context) (chain.Blockhash, error) {
			return chain.Blockhash{
				Hash:                 solana.MustHashFromBase58("4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM"),
				LastValidBlockHeight: 1000,
			}, nil
		},
		SendTransactionFn: func(_ context.Context, _ *solana.Transaction) (solana.Signature, error) {
			return confirmSig, nil
		},
		SignatureStatusFn: func(_ context.Context, _ solana.Signature, _ bool) (*rpc.SignatureStatusesResult, error) {
			return &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}, nil
		},
	}
}

type harness struct {
	svc    *Service
	store  *audit.MemoryStore
	signer *passthroughSigner
	locker wallet.Locker
}

func newHarness(t *testing.T, client chain.Client, limiter RateLimiter) *harness {
	t.Helper()
	store := audit.NewMemoryStore()
	sgn := &passthroughSigner{}
	locker := wallet.NewMemoryLocker()
	svc := New(testConfig(), client, sgn, locker, limiter, audit.NewLogger(store, zap.NewNop()), zap.NewNop())
	return &harness{svc: svc, store: store, signer: sgn, locker: locker}
}

func walletCtx() wallet.Context {
	return wallet.Context{
		UserID:        "user-1",
		WalletID:      "wallet-1",
		WalletAddress: solana.NewWallet().PublicKey().String(),
		AgentID:       "agent-7",
		ChatID:        "chat-42",
	}
}

func TestTransferSOL_Confirmed(t *testing.T) {
	h := newHarness(t, happyChain(10_000_000_000), nil)

	result, err := h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "0.5",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, confirmSig.String(), result.Signature)

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OpTransferSOL, recs[0].Operation)
	assert.Equal(t, audit.StatusConfirmed, recs[0].Status)
	assert.Equal(t, confirmSig.String(), recs[0].Signature)
	assert.Equal(t, "500000000", recs[0].AmountRaw)
	assert.NotEmpty(t, recs[0].CorrelationID)
}

func TestTransferSOL_InvalidAmountNeverTouchesChain(t *testing.T) {
	// Every chain call on the bare fake fails loudly, so reaching the chain
	// at all would fail the assertion below with a different message.
	h := newHarness(t, &chaintest.Fake{}, nil)

	_, err := h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "abc",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")
	assert.Zero(t, h.signer.calls.Load())

	// The rejection itself is on the trail.
	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].ErrorMessage, "invalid amount")
	assert.Empty(t, recs[0].Signature)
}

func TestTransferToken_InvalidAmountNeverTouchesChain(t *testing.T) {
	var lookups atomic.Int32
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			lookups.Add(1)
			return nil, nil
		},
	}
	h := newHarness(t, client, nil)

	_, err := h.svc.TransferToken(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "abc",
		Mint:      "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, lookups.Load(), "malformed amount must be rejected before any mint lookup")
	assert.Zero(t, h.signer.calls.Load())

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusFailed, recs[0].Status)
}

func TestBatchTransferToken_InvalidAmountNeverTouchesChain(t *testing.T) {
	var lookups atomic.Int32
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			lookups.Add(1)
			return nil, nil
		},
	}
	h := newHarness(t, client, nil)

	_, err := h.svc.BatchTransferToken(context.Background(), BatchRequest{
		Wallet:     walletCtx(),
		Recipients: []string{solana.NewWallet().PublicKey().String()},
		AmountEach: "-1",
		Mint:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, lookups.Load(), "malformed amount must be rejected before any mint lookup")
	assert.Zero(t, h.signer.calls.Load())
}

func TestTransferSOL_InvalidRecipient(t *testing.T) {
	h := newHarness(t, &chaintest.Fake{}, nil)

	_, err := h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: "not-an-address",
		Amount:    "0.5",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient")
}

func TestTransferSOL_WalletBusy(t *testing.T) {
	h := newHarness(t, happyChain(10_000_000_000), nil)
	w := walletCtx()

	release, err := h.locker.Acquire(context.Background(), w.WalletAddress)
	require.NoError(t, err)
	defer release()

	_, err = h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    w,
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "0.5",
	})
	assert.ErrorIs(t, err, wallet.ErrWalletBusy)
	assert.Zero(t, h.signer.calls.Load())

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].ErrorMessage, "busy")
}

func TestTransferSOL_RateLimited(t *testing.T) {
	h := newHarness(t, &chaintest.Fake{}, denyAllLimiter{})

	_, err := h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "0.5",
	})
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
	assert.Zero(t, h.signer.calls.Load())

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusFailed, recs[0].Status)
}

func TestTransferSOL_InsufficientBalanceAudited(t *testing.T) {
	h := newHarness(t, happyChain(1000), nil)

	_, err := h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "0.5",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrInsufficientBalance)
	assert.Zero(t, h.signer.calls.Load(), "nothing signed on a failed balance check")

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusFailed, recs[0].Status)
	assert.Empty(t, recs[0].Signature)
	assert.NotEmpty(t, recs[0].ErrorMessage)
}

func TestTransferSOL_LockReleasedAfterRun(t *testing.T) {
	h := newHarness(t, happyChain(10_000_000_000), nil)
	w := walletCtx()

	_, err := h.svc.TransferSOL(context.Background(), TransferRequest{
		Wallet:    w,
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "0.5",
	})
	require.NoError(t, err)

	release, err := h.locker.Acquire(context.Background(), w.WalletAddress)
	require.NoError(t, err, "lock must be released after the transfer")
	release()
}

func TestTransferToken_Confirmed(t *testing.T) {
	h := newHarness(t, happyChain(10_000_000), nil)

	result, err := h.svc.TransferToken(context.Background(), TransferRequest{
		Wallet:    walletCtx(),
		Recipient: solana.NewWallet().PublicKey().String(),
		Amount:    "1.5",
		Mint:      "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.OpTransferToken, recs[0].Operation)
	// Resolver fell back to the default precision of 6.
	assert.Equal(t, "1500000", recs[0].AmountRaw)
}

func TestBatchTransferToken_SubBatching(t *testing.T) {
	client := happyChain(1_000_000_000)
	var sends atomic.Int32
	client.SendTransactionFn = func(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
		sends.Add(1)
		return confirmSig, nil
	}

	h := newHarness(t, client, nil)

	recipients := make([]string, 45)
	for i := range recipients {
		recipients[i] = solana.NewWallet().PublicKey().String()
	}

	result, err := h.svc.BatchTransferToken(context.Background(), BatchRequest{
		Wallet:     walletCtx(),
		Recipients: recipients,
		AmountEach: "1",
		Mint:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.NoError(t, err)

	assert.Equal(t, 45, result.Total)
	assert.Equal(t, 45, result.SuccessCount)
	assert.Equal(t, 0, result.FailureCount)
	assert.Len(t, result.SubBatches, 3)
	assert.Equal(t, int32(3), sends.Load(), "one transaction per sub-batch")
	assert.Equal(t, int32(3), h.signer.calls.Load())

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusConfirmed, recs[0].Status)
	assert.Contains(t, recs[0].Recipients, recipients[0])
}

func TestBatchTransferToken_PartialFailure(t *testing.T) {
	client := happyChain(1_000_000_000)
	var sends atomic.Int32
	client.SendTransactionFn = func(_ context.Context, _ *solana.Transaction) (solana.Signature, error) {
		if sends.Add(1) == 2 {
			return solana.Signature{}, assert.AnError
		}
		return confirmSig, nil
	}

	h := newHarness(t, client, nil)

	recipients := make([]string, 45)
	for i := range recipients {
		recipients[i] = solana.NewWallet().PublicKey().String()
	}

	result, err := h.svc.BatchTransferToken(context.Background(), BatchRequest{
		Wallet:     walletCtx(),
		Recipients: recipients,
		AmountEach: "1",
		Mint:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.NoError(t, err)

	assert.Equal(t, 25, result.SuccessCount)
	assert.Equal(t, 20, result.FailureCount)
	assert.Equal(t, result.Total, result.SuccessCount+result.FailureCount)

	recs := h.store.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.StatusPartial, recs[0].Status)
	assert.NotEmpty(t, recs[0].ErrorMessage)
}

func TestBatchTransferToken_TooManyRecipients(t *testing.T) {
	h := newHarness(t, &chaintest.Fake{}, nil)

	recipients := make([]string, 101)
	for i := range recipients {
		recipients[i] = solana.NewWallet().PublicKey().String()
	}

	_, err := h.svc.BatchTransferToken(context.Background(), BatchRequest{
		Wallet:     walletCtx(),
		Recipients: recipients,
		AmountEach: "1",
		Mint:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many recipients")
}

func TestBatchTransferToken_InsufficientForWholeBatch(t *testing.T) {
	// Enough for 44 recipients at 1 token each, not 45.
	h := newHarness(t, happyChain(44_999_999), nil)

	recipients := make([]string, 45)
	for i := range recipients {
		recipients[i] = solana.NewWallet().PublicKey().String()
	}

	_, err := h.svc.BatchTransferToken(context.Background(), BatchRequest{
		Wallet:     walletCtx(),
		Recipients: recipients,
		AmountEach: "1",
		Mint:       "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrInsufficientBalance)
	assert.Zero(t, h.signer.calls.Load(), "the whole batch is checked before anything runs")
}

func TestGetWalletBalance(t *testing.T) {
	h := newHarness(t, happyChain(1_500_000_000), nil)

	res, err := h.svc.GetWalletBalance(context.Background(), solana.NewWallet().PublicKey().String())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), res.Lamports)
	assert.Equal(t, "1.5", res.SOL)
}

func TestGetTokenHolders(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	holders := []chain.HolderAccount{
		{Address: solana.NewWallet().PublicKey(), Owner: solana.NewWallet().PublicKey(), Amount: 100},
		{Address: solana.NewWallet().PublicKey(), Owner: solana.NewWallet().PublicKey(), Amount: 900},
		{Address: solana.NewWallet().PublicKey(), Owner: solana.NewWallet().PublicKey(), Amount: 500},
	}
	client := &chaintest.Fake{
		AccountInfoFn: func(_ context.Context, _ solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, nil
		},
		TokenHolderAccountsFn: func(_ context.Context, m, _ solana.PublicKey) ([]chain.HolderAccount, error) {
			assert.Equal(t, mint, m)
			return holders, nil
		},
		TokenSupplyFn: func(_ context.Context, _ solana.PublicKey) (*rpc.UiTokenAmount, error) {
			return &rpc.UiTokenAmount{Amount: "2000"}, nil
		},
	}
	h := newHarness(t, client, nil)

	out, err := h.svc.GetTokenHolders(context.Background(), mint.String(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint64(900), out[0].RawAmount, "sorted by amount descending")
	assert.Equal(t, uint64(500), out[1].RawAmount)
	assert.Equal(t, "45", out[0].PercentOfSupply)
}
