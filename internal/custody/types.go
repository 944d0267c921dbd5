// internal/custody/types.go
package custody

import (
	"errors"
	"fmt"

	"github.com/rovshanmuradov/solana-custody/internal/batch"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

// ErrInvalidRequest marks a request rejected before anything reached the
// chain: bad addresses, unparsable amounts, oversized batches.
var ErrInvalidRequest = errors.New("invalid request")

func invalidRequest(err error) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, err)
}

// TransferRequest describes a single transfer from a custodial wallet. Mint
// empty means native SOL; otherwise an SPL mint address.
type TransferRequest struct {
	Wallet    wallet.Context `json:"wallet"`
	Recipient string         `json:"recipient"`
	Amount    string         `json:"amount"`
	Mint      string         `json:"mint,omitempty"`
}

// BatchRequest describes a same-amount token transfer to many recipients.
type BatchRequest struct {
	Wallet     wallet.Context `json:"wallet"`
	Recipients []string       `json:"recipients"`
	AmountEach string         `json:"amount_each"`
	Mint       string         `json:"mint"`
}

// TransferResult is the outcome of a single transfer. Signature is set as
// soon as the transaction was broadcast, even when confirmation failed.
type TransferResult struct {
	Signature string `json:"signature,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Total        int                    `json:"total"`
	SuccessCount int                    `json:"success_count"`
	FailureCount int                    `json:"failure_count"`
	SubBatches   []batch.SubBatchResult `json:"sub_batches"`
}

// BalanceResult is a wallet's native balance in both representations.
type BalanceResult struct {
	Address  string `json:"address"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
}

// TokenBalance is one SPL holding of a wallet.
type TokenBalance struct {
	Mint      string `json:"mint"`
	Symbol    string `json:"symbol,omitempty"`
	Name      string `json:"name,omitempty"`
	Decimals  uint8  `json:"decimals"`
	RawAmount uint64 `json:"raw_amount"`
	UIAmount  string `json:"ui_amount"`
}

// TokenHolder is one entry of a holder ranking.
type TokenHolder struct {
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	RawAmount       uint64 `json:"raw_amount"`
	UIAmount        string `json:"ui_amount"`
	PercentOfSupply string `json:"percent_of_supply,omitempty"`
}
