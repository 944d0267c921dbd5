// internal/custody/transfers.go
package custody

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/audit"
	"github.com/rovshanmuradov/solana-custody/internal/signer"
	"github.com/rovshanmuradov/solana-custody/internal/submit"
	"github.com/rovshanmuradov/solana-custody/internal/token"
	"github.com/rovshanmuradov/solana-custody/internal/txbuilder"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

// TransferSOL moves native SOL from the custodial wallet to the recipient.
// An error return means nothing was broadcast; once a transaction is sent,
// the outcome (including failures) is reported through TransferResult so the
// signature is never lost.
func (s *Service) TransferSOL(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	correlationID := uuid.New().String()
	// The record exists before the first check so rejected attempts leave a
	// trail too.
	rec := &audit.Record{
		CorrelationID: correlationID,
		Operation:     audit.OpTransferSOL,
		UserID:        req.Wallet.UserID,
		WalletID:      req.Wallet.WalletID,
		WalletAddress: req.Wallet.WalletAddress,
		AgentID:       req.Wallet.AgentID,
		ChatID:        req.Wallet.ChatID,
		Recipient:     req.Recipient,
		AmountUI:      req.Amount,
	}

	if err := req.Wallet.Validate(); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := wallet.ValidateAddress("recipient", req.Recipient); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	lamports, err := token.ToBaseUnits(req.Amount, token.NativeDecimals)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	rec.AmountRaw = fmt.Sprintf("%d", lamports)

	if err := s.allow(ctx, req.Wallet.UserID, audit.OpTransferSOL); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	log := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("wallet_address", req.Wallet.WalletAddress),
		zap.String("recipient", req.Recipient))

	release, err := s.locks.Acquire(ctx, req.Wallet.WalletAddress)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}
	defer release()

	from := solana.MustPublicKeyFromBase58(req.Wallet.WalletAddress)
	to := solana.MustPublicKeyFromBase58(req.Recipient)

	if err := s.guard.CheckNative(ctx, from, lamports); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	unsigned, err := s.builder.BuildNativeTransfer(ctx, from, to, lamports)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	result := s.signSubmitAudit(ctx, log, req.Wallet, unsigned, rec)
	return result.transfer, result.preflightErr
}

// TransferToken moves SPL tokens. The mint's token program variant and
// decimal precision are resolved from the chain.
func (s *Service) TransferToken(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	correlationID := uuid.New().String()
	rec := &audit.Record{
		CorrelationID: correlationID,
		Operation:     audit.OpTransferToken,
		UserID:        req.Wallet.UserID,
		WalletID:      req.Wallet.WalletID,
		WalletAddress: req.Wallet.WalletAddress,
		AgentID:       req.Wallet.AgentID,
		ChatID:        req.Wallet.ChatID,
		Recipient:     req.Recipient,
		Mint:          req.Mint,
		AmountUI:      req.Amount,
	}

	if err := req.Wallet.Validate(); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := wallet.ValidateAddress("recipient", req.Recipient); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := wallet.ValidateAddress("mint", req.Mint); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	// Syntax check first: a malformed amount must be rejected without any
	// chain lookup. Decimal scaling happens once the mint is resolved.
	if err := token.ValidateAmount(req.Amount); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := s.allow(ctx, req.Wallet.UserID, audit.OpTransferToken); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	mint := solana.MustPublicKeyFromBase58(req.Mint)
	asset := s.resolver.Resolve(ctx, mint)

	raw, err := token.ToBaseUnits(req.Amount, asset.Decimals)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	rec.AmountRaw = fmt.Sprintf("%d", raw)

	log := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("wallet_address", req.Wallet.WalletAddress),
		zap.String("recipient", req.Recipient),
		zap.String("mint", req.Mint))

	release, err := s.locks.Acquire(ctx, req.Wallet.WalletAddress)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}
	defer release()

	owner := solana.MustPublicKeyFromBase58(req.Wallet.WalletAddress)
	recipient := solana.MustPublicKeyFromBase58(req.Recipient)

	senderATA, err := txbuilder.FindAssociatedTokenAddress(owner, asset.Mint, asset.Program)
	if err != nil {
		err = fmt.Errorf("failed to derive sender holding account: %w", err)
		s.auditFailure(ctx, rec, err)
		return nil, err
	}
	if err := s.guard.CheckToken(ctx, senderATA, raw, req.Mint, asset.Decimals); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	unsigned, err := s.builder.BuildTokenTransfer(ctx, owner, recipient, asset, raw)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	result := s.signSubmitAudit(ctx, log, req.Wallet, unsigned, rec)
	return result.transfer, result.preflightErr
}

// BatchTransferToken pays the same token amount to every recipient, split
// into bounded sub-batches run strictly one after another under a single
// wallet lock. A failed sub-batch does not stop the rest.
func (s *Service) BatchTransferToken(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	correlationID := uuid.New().String()
	recipientsJSON, _ := json.Marshal(req.Recipients)
	rec := &audit.Record{
		CorrelationID: correlationID,
		Operation:     audit.OpBatchTransfer,
		UserID:        req.Wallet.UserID,
		WalletID:      req.Wallet.WalletID,
		WalletAddress: req.Wallet.WalletAddress,
		AgentID:       req.Wallet.AgentID,
		ChatID:        req.Wallet.ChatID,
		Recipients:    string(recipientsJSON),
		Mint:          req.Mint,
		AmountUI:      req.AmountEach,
	}

	if err := req.Wallet.Validate(); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := wallet.ValidateAddress("mint", req.Mint); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := s.batches.Validate(req.Recipients); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	for i, r := range req.Recipients {
		if err := wallet.ValidateAddress(fmt.Sprintf("recipients[%d]", i), r); err != nil {
			s.auditFailure(ctx, rec, err)
			return nil, invalidRequest(err)
		}
	}
	if err := token.ValidateAmount(req.AmountEach); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	if err := s.allow(ctx, req.Wallet.UserID, audit.OpBatchTransfer); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	mint := solana.MustPublicKeyFromBase58(req.Mint)
	asset := s.resolver.Resolve(ctx, mint)

	rawEach, err := token.ToBaseUnits(req.AmountEach, asset.Decimals)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, invalidRequest(err)
	}
	rec.AmountRaw = fmt.Sprintf("%d", rawEach)

	log := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("wallet_address", req.Wallet.WalletAddress),
		zap.String("mint", req.Mint),
		zap.Int("recipients", len(req.Recipients)))

	// One lock spans the whole batch so no other operation can interleave
	// with the sub-batches.
	release, err := s.locks.Acquire(ctx, req.Wallet.WalletAddress)
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}
	defer release()

	owner := solana.MustPublicKeyFromBase58(req.Wallet.WalletAddress)

	senderATA, err := txbuilder.FindAssociatedTokenAddress(owner, asset.Mint, asset.Program)
	if err != nil {
		err = fmt.Errorf("failed to derive sender holding account: %w", err)
		s.auditFailure(ctx, rec, err)
		return nil, err
	}
	// The whole batch is checked before the first sub-batch runs, so a
	// mid-batch shortfall cannot occur.
	if err := s.guard.CheckTokenBatch(ctx, senderATA, rawEach, len(req.Recipients), req.Mint, asset.Decimals); err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	run, err := s.batches.Run(ctx, req.Recipients, func(ctx context.Context, chunk []string) (string, error) {
		recipients := make([]solana.PublicKey, len(chunk))
		for i, r := range chunk {
			recipients[i] = solana.MustPublicKeyFromBase58(r)
		}

		unsigned, err := s.builder.BuildTokenBatch(ctx, owner, recipients, asset, rawEach)
		if err != nil {
			return "", err
		}
		signed, err := s.signer.Sign(ctx, signer.SignRequest{
			WalletID:    req.Wallet.WalletID,
			AgentID:     req.Wallet.AgentID,
			ChatID:      req.Wallet.ChatID,
			Transaction: unsigned.Tx,
		})
		if err != nil {
			return "", err
		}
		sig, err := s.submitter.SubmitAndConfirm(ctx, signed, unsigned.LastValidBlockHeight)
		if err != nil {
			return "", err
		}
		return sig.String(), nil
	})
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return nil, err
	}

	switch {
	case run.FailureCount == 0:
		rec.Status = audit.StatusConfirmed
	case run.SuccessCount == 0:
		rec.Status = audit.StatusFailed
	default:
		rec.Status = audit.StatusPartial
	}
	if rec.Status != audit.StatusConfirmed {
		for _, sub := range run.SubBatches {
			if !sub.Success {
				rec.ErrorMessage = sub.Error
				break
			}
		}
	}
	for _, sub := range run.SubBatches {
		if sub.Success {
			// First confirmed signature; the full set lives in the result.
			rec.Signature = sub.Signature
			break
		}
	}
	s.auditor.Log(ctx, rec)

	log.Info("batch transfer finished",
		zap.Int("succeeded", run.SuccessCount),
		zap.Int("failed", run.FailureCount))

	return &BatchResult{
		Total:        run.Total,
		SuccessCount: run.SuccessCount,
		FailureCount: run.FailureCount,
		SubBatches:   run.SubBatches,
	}, nil
}

type pipelineResult struct {
	transfer     *TransferResult
	preflightErr error
}

// signSubmitAudit runs the tail of the pipeline. Sign failures are pre-flight
// (nothing broadcast); submit failures are not, and surface in the result
// with the signature attached.
func (s *Service) signSubmitAudit(ctx context.Context, log *zap.Logger, w wallet.Context, unsigned *txbuilder.Unsigned, rec *audit.Record) pipelineResult {
	signed, err := s.signer.Sign(ctx, signer.SignRequest{
		WalletID:    w.WalletID,
		AgentID:     w.AgentID,
		ChatID:      w.ChatID,
		Transaction: unsigned.Tx,
	})
	if err != nil {
		s.auditFailure(ctx, rec, err)
		return pipelineResult{preflightErr: err}
	}

	sig, err := s.submitter.SubmitAndConfirm(ctx, signed, unsigned.LastValidBlockHeight)
	if err != nil {
		var se *submit.SubmitError
		if errors.As(err, &se) {
			rec.Signature = se.Signature.String()
		}
		s.auditFailure(ctx, rec, err)
		log.Warn("transfer failed after broadcast", zap.Error(err))
		return pipelineResult{transfer: &TransferResult{
			Signature: rec.Signature,
			Success:   false,
			Error:     err.Error(),
		}}
	}

	rec.Signature = sig.String()
	rec.Status = audit.StatusConfirmed
	s.auditor.Log(ctx, rec)
	log.Info("transfer confirmed", zap.String("signature", sig.String()))

	return pipelineResult{transfer: &TransferResult{
		Signature: sig.String(),
		Success:   true,
	}}
}

func (s *Service) auditFailure(ctx context.Context, rec *audit.Record, err error) {
	rec.Status = audit.StatusFailed
	rec.ErrorMessage = err.Error()
	s.auditor.Log(ctx, rec)
}
