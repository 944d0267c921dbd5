// internal/submit/submitter.go
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
)

// ErrBlockhashExpired means the chain moved past the transaction's blockhash
// window without the transaction landing. The transaction can no longer be
// included, so it is safe to report a definitive failure.
var ErrBlockhashExpired = errors.New("transaction expired: blockhash no longer valid")

// SubmitError carries the signature alongside the failure so the caller can
// always audit-log what was broadcast.
type SubmitError struct {
	Signature solana.Signature
	Err       error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%v (signature %s)", e.Err, e.Signature)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Submitter broadcasts signed transactions and polls for confirmation. Send
// is attempted exactly once: re-broadcasting a transfer that may already have
// landed risks double spending.
type Submitter struct {
	chain        chain.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

func New(client chain.Client, pollInterval time.Duration, logger *zap.Logger) *Submitter {
	return &Submitter{
		chain:        client,
		pollInterval: pollInterval,
		logger:       logger.Named("submitter"),
	}
}

// SubmitAndConfirm broadcasts the transaction and blocks until it reaches
// confirmed commitment, fails on chain, or its blockhash expires. The
// returned signature is valid in every outcome once broadcast succeeded.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error) {
	sig, err := s.chain.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	log := s.logger.With(zap.String("signature", sig.String()))
	log.Info("transaction sent, awaiting confirmation",
		zap.Uint64("last_valid_block_height", lastValidBlockHeight))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return sig, &SubmitError{Signature: sig, Err: ctx.Err()}
		case <-ticker.C:
		}

		status, err := s.chain.SignatureStatus(ctx, sig, false)
		if err != nil {
			log.Warn("signature status poll failed", zap.Error(err))
			continue
		}

		if status != nil {
			if status.Err != nil {
				return sig, &SubmitError{
					Signature: sig,
					Err:       fmt.Errorf("transaction failed on chain: %v", status.Err),
				}
			}
			if confirmationRank(status.ConfirmationStatus) >= confirmationRank(rpc.ConfirmationStatusConfirmed) {
				log.Info("transaction confirmed",
					zap.String("commitment", string(status.ConfirmationStatus)))
				return sig, nil
			}
			// Seen but not yet confirmed; keep polling.
			continue
		}

		// Unknown signature: either still propagating or expired. Only the
		// block height tells which.
		height, err := s.chain.BlockHeight(ctx)
		if err != nil {
			log.Warn("block height poll failed", zap.Error(err))
			continue
		}
		if height > lastValidBlockHeight {
			return sig, &SubmitError{Signature: sig, Err: ErrBlockhashExpired}
		}
	}
}

func confirmationRank(status rpc.ConfirmationStatusType) int {
	switch status {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}
