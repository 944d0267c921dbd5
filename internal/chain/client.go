// internal/chain/client.go
package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// RPCClient is a thin adapter over solana-go's RPC client.
type RPCClient struct {
	rpc    *rpc.Client
	logger *zap.Logger
}

const readRetries = 3

var maxSupportedTransactionVersion = uint64(0)

// IsAccountNotFoundError reports whether an RPC error means "account not found".
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// NewRPCClient creates a new client for the given RPC URL.
func NewRPCClient(rpcURL string, logger *zap.Logger) *RPCClient {
	return &RPCClient{
		rpc:    rpc.New(rpcURL),
		logger: logger.Named("chain-client"),
	}
}

// retryRead retries an idempotent read with exponential backoff. Mutating
// calls must not go through here.
func (c *RPCClient) retryRead(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), readRetries), ctx))
}

func (c *RPCClient) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out Blockhash
	err := c.retryRead(ctx, func() error {
		result, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = Blockhash{
			Hash:                 result.Value.Blockhash,
			LastValidBlockHeight: result.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("LatestBlockhash error", zap.Error(err))
		return Blockhash{}, err
	}
	return out, nil
}

func (c *RPCClient) BlockHeight(ctx context.Context) (uint64, error) {
	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Error("BlockHeight error", zap.Error(err))
		return 0, err
	}
	return height, nil
}

func (c *RPCClient) Balance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var out uint64
	err := c.retryRead(ctx, func() error {
		result, err := c.rpc.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		out = result.Value
		return nil
	})
	if err != nil {
		c.logger.Error("GetBalance error", zap.Error(err))
		return 0, err
	}
	return out, nil
}

func (c *RPCClient) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, bool, error) {
	result, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		if IsAccountNotFoundError(err) {
			return 0, false, nil
		}
		c.logger.Error("GetTokenAccountBalance error",
			zap.String("account", account.String()),
			zap.Error(err))
		return 0, false, err
	}
	if result == nil || result.Value == nil {
		return 0, false, nil
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return amount, true, nil
}

func (c *RPCClient) AccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	result, err := c.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) AccountExists(ctx context.Context, pubkey solana.PublicKey) (bool, error) {
	result, err := c.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		if IsAccountNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	return result != nil && result.Value != nil, nil
}

// SendTransaction broadcasts a signed transaction with preflight simulation
// enabled. Never retried: a duplicate send of a mutating transaction is worse
// than a reported failure.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}

func (c *RPCClient) SignatureStatus(ctx context.Context, signature solana.Signature, searchHistory bool) (*rpc.SignatureStatusesResult, error) {
	result, err := c.rpc.GetSignatureStatuses(ctx, searchHistory, signature)
	if err != nil {
		c.logger.Error("GetSignatureStatuses error", zap.Error(err))
		return nil, err
	}
	if result == nil || len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

func (c *RPCClient) Transaction(ctx context.Context, signature solana.Signature, commitment rpc.CommitmentType) (*rpc.GetTransactionResult, error) {
	result, err := c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     commitment,
		MaxSupportedTransactionVersion: &maxSupportedTransactionVersion,
	})
	if err != nil {
		c.logger.Debug("GetTransaction error",
			zap.String("signature", signature.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// TokenHolderAccounts enumerates holding accounts of a mint by filtering the
// token program's accounts on the mint field at offset 0.
func (c *RPCClient) TokenHolderAccounts(ctx context.Context, mint, tokenProgram solana.PublicKey) ([]HolderAccount, error) {
	opts := rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{
				Memcmp: &rpc.RPCFilterMemcmp{
					Offset: 0,
					Bytes:  solana.Base58(mint.Bytes()),
				},
			},
		},
	}

	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, tokenProgram, &opts)
	if err != nil {
		c.logger.Error("TokenHolderAccounts error",
			zap.String("mint", mint.String()),
			zap.Error(err))
		return nil, err
	}

	holders := make([]HolderAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc == nil || acc.Account == nil {
			continue
		}
		parsed, ok := parseTokenAccountData(acc.Account.Data.GetBinary())
		if !ok {
			continue
		}
		holders = append(holders, HolderAccount{
			Address: acc.Pubkey,
			Owner:   parsed.owner,
			Amount:  parsed.amount,
		})
	}
	return holders, nil
}

func (c *RPCClient) TokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.UiTokenAmount, error) {
	result, err := c.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		c.logger.Error("GetTokenSupply error", zap.Error(err))
		return nil, err
	}
	return result.Value, nil
}

func (c *RPCClient) TokenAccountsByOwner(ctx context.Context, owner, tokenProgram solana.PublicKey) ([]TokenAccount, error) {
	result, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: &tokenProgram},
		&rpc.GetTokenAccountsOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
	if err != nil {
		c.logger.Error("GetTokenAccountsByOwner error",
			zap.String("owner", owner.String()),
			zap.Error(err))
		return nil, err
	}

	accounts := make([]TokenAccount, 0, len(result.Value))
	for _, acc := range result.Value {
		// Account is a value here, unlike the program-accounts result.
		if acc == nil || acc.Account.Data == nil {
			continue
		}
		parsed, ok := parseTokenAccountData(acc.Account.Data.GetBinary())
		if !ok {
			continue
		}
		accounts = append(accounts, TokenAccount{
			Address: acc.Pubkey,
			Mint:    parsed.mint,
			Amount:  parsed.amount,
		})
	}
	return accounts, nil
}

type tokenAccountData struct {
	mint   solana.PublicKey
	owner  solana.PublicKey
	amount uint64
}

// SPL token account layout: mint at 0..32, owner at 32..64, amount (u64 LE)
// at 64..72. Token-2022 accounts may carry extensions past byte 165; the
// prefix layout is identical.
func parseTokenAccountData(data []byte) (tokenAccountData, bool) {
	if len(data) < 72 {
		return tokenAccountData{}, false
	}
	return tokenAccountData{
		mint:   solana.PublicKeyFromBytes(data[0:32]),
		owner:  solana.PublicKeyFromBytes(data[32:64]),
		amount: binary.LittleEndian.Uint64(data[64:72]),
	}, true
}

// Ensure RPCClient implements the Client interface.
var _ Client = (*RPCClient)(nil)
