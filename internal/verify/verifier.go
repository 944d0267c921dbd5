// internal/verify/verifier.go
package verify

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/token"
)

// Request describes an expected payment to check against the ledger.
type Request struct {
	Signature         solana.Signature
	ExpectedRecipient solana.PublicKey
	// ExpectedPayer, when set, must be the transaction's fee payer.
	ExpectedPayer solana.PublicKey
	// MinAmountSOL is the minimum total in SOL. Empty means any amount.
	MinAmountSOL string
	// Finality defaults to confirmed.
	Finality rpc.ConfirmationStatusType
}

// Transfer is one System transfer found in the transaction.
type Transfer struct {
	From     solana.PublicKey `json:"from"`
	To       solana.PublicKey `json:"to"`
	Lamports uint64           `json:"lamports"`
}

// Verdict is the outcome of a verification. Semantic failures (not found,
// failed on chain, amount too low) land here, not in an error: the caller
// asked a question and got an answer.
type Verdict struct {
	Found bool `json:"found"`
	Valid bool `json:"valid"`
	// MeetsFinality and AmountValid break Valid down so a caller can tell a
	// payment that is merely early from one that is short.
	MeetsFinality    bool                       `json:"meets_finality"`
	AmountValid      bool                       `json:"amount_valid"`
	Reason           string                     `json:"reason,omitempty"`
	Slot             uint64                     `json:"slot,omitempty"`
	Finality         rpc.ConfirmationStatusType `json:"finality,omitempty"`
	RequiredFinality rpc.ConfirmationStatusType `json:"required_finality"`
	Payer            string                     `json:"payer,omitempty"`
	MinLamports      uint64                     `json:"min_lamports"`
	TotalLamports    uint64                     `json:"total_lamports"`
	Transfers        []Transfer                 `json:"transfers,omitempty"`
}

// Verifier answers "did payment X actually happen" from on-chain state only.
// It trusts nothing the requester supplies beyond the signature to look up.
type Verifier struct {
	chain  chain.Client
	logger *zap.Logger
}

func New(client chain.Client, logger *zap.Logger) *Verifier {
	return &Verifier{
		chain:  client,
		logger: logger.Named("verifier"),
	}
}

// VerifyPayment checks that the referenced transaction landed, reached the
// requested finality, succeeded, and moved at least the minimum amount of
// SOL to the expected recipient via System transfers.
func (v *Verifier) VerifyPayment(ctx context.Context, req Request) (*Verdict, error) {
	var minLamports uint64
	if req.MinAmountSOL != "" {
		var err error
		minLamports, err = token.ToBaseUnits(req.MinAmountSOL, token.NativeDecimals)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum amount: %w", err)
		}
	}

	finality := req.Finality
	if finality == "" {
		finality = rpc.ConfirmationStatusConfirmed
	}

	verdict := &Verdict{
		RequiredFinality: finality,
		MinLamports:      minLamports,
	}

	status, err := v.chain.SignatureStatus(ctx, req.Signature, true)
	if err != nil {
		return nil, fmt.Errorf("failed to look up signature: %w", err)
	}
	if status == nil {
		verdict.Reason = "transaction not found"
		return verdict, nil
	}
	verdict.Found = true
	verdict.Slot = status.Slot
	verdict.Finality = status.ConfirmationStatus
	verdict.MeetsFinality = finalityRank(status.ConfirmationStatus) >= finalityRank(finality)

	if status.Err != nil {
		verdict.Reason = fmt.Sprintf("transaction failed on chain: %v", status.Err)
		return verdict, nil
	}
	if !verdict.MeetsFinality {
		verdict.Reason = fmt.Sprintf("finality %q not reached, currently %q", finality, status.ConfirmationStatus)
		return verdict, nil
	}

	res, err := v.chain.Transaction(ctx, req.Signature, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	if len(tx.Message.AccountKeys) == 0 {
		verdict.Reason = "transaction has no account keys"
		return verdict, nil
	}
	payer := tx.Message.AccountKeys[0]
	verdict.Payer = payer.String()

	if !req.ExpectedPayer.IsZero() && !payer.Equals(req.ExpectedPayer) {
		verdict.Reason = fmt.Sprintf("fee payer %s does not match expected payer", payer)
		return verdict, nil
	}

	transfers, err := v.collectTransfers(tx, res.Meta)
	if err != nil {
		return nil, err
	}

	for _, tr := range transfers {
		if tr.To.Equals(req.ExpectedRecipient) {
			verdict.Transfers = append(verdict.Transfers, tr)
			verdict.TotalLamports += tr.Lamports
		}
	}

	if len(verdict.Transfers) == 0 {
		verdict.Reason = "no transfer to the expected recipient"
		return verdict, nil
	}
	verdict.AmountValid = verdict.TotalLamports >= minLamports
	if !verdict.AmountValid {
		verdict.Reason = fmt.Sprintf("received %s SOL, expected at least %s",
			token.FromBaseUnits(verdict.TotalLamports, token.NativeDecimals), req.MinAmountSOL)
		return verdict, nil
	}

	verdict.Valid = true
	return verdict, nil
}

// collectTransfers decodes every System transfer in the transaction, both
// top-level and CPI-emitted inner instructions.
func (v *Verifier) collectTransfers(tx *solana.Transaction, meta *rpc.TransactionMeta) ([]Transfer, error) {
	var out []Transfer

	for _, inst := range tx.Message.Instructions {
		tr, ok, err := v.decodeTransfer(tx, inst)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, tr)
		}
	}

	if meta != nil {
		for _, inner := range meta.InnerInstructions {
			for _, inst := range inner.Instructions {
				tr, ok, err := v.decodeTransfer(tx, inst)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, tr)
				}
			}
		}
	}
	return out, nil
}

func (v *Verifier) decodeTransfer(tx *solana.Transaction, inst solana.CompiledInstruction) (Transfer, bool, error) {
	if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
		return Transfer{}, false, nil
	}
	if !tx.Message.AccountKeys[inst.ProgramIDIndex].Equals(solana.SystemProgramID) {
		return Transfer{}, false, nil
	}

	accountMetas := make([]*solana.AccountMeta, len(inst.Accounts))
	for i, accIdx := range inst.Accounts {
		if int(accIdx) >= len(tx.Message.AccountKeys) {
			return Transfer{}, false, nil
		}
		pub := tx.Message.AccountKeys[accIdx]
		writable, err := tx.Message.IsWritable(pub)
		if err != nil {
			return Transfer{}, false, fmt.Errorf("failed to resolve account metas: %w", err)
		}
		accountMetas[i] = &solana.AccountMeta{
			PublicKey:  pub,
			IsSigner:   tx.Message.IsSigner(pub),
			IsWritable: writable,
		}
	}

	sysInst, err := system.DecodeInstruction(accountMetas, inst.Data)
	if err != nil {
		// A System instruction that is not decodable is not a transfer.
		return Transfer{}, false, nil
	}
	transfer, ok := sysInst.Impl.(*system.Transfer)
	if !ok || transfer.Lamports == nil || len(accountMetas) < 2 {
		return Transfer{}, false, nil
	}

	return Transfer{
		From:     accountMetas[0].PublicKey,
		To:       accountMetas[1].PublicKey,
		Lamports: *transfer.Lamports,
	}, true, nil
}

func finalityRank(status rpc.ConfirmationStatusType) int {
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
