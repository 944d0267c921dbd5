// internal/wallet/context.go
package wallet

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Context identifies the custodial wallet an operation acts on. Created per
// tool invocation and immutable for its duration.
type Context struct {
	UserID        string `json:"user_id"`
	WalletID      string `json:"wallet_id"`
	WalletAddress string `json:"wallet_address"`
	AgentID       string `json:"agent_id,omitempty"`
	ChatID        string `json:"chat_id,omitempty"`
}

// Validate checks the context fields needed for any mutating operation.
func (c Context) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("missing user id")
	}
	if c.WalletID == "" {
		return fmt.Errorf("missing wallet id")
	}
	return ValidateAddress("walletAddress", c.WalletAddress)
}

// ValidateAddress checks that s is a syntactically valid ledger address
// (base58, 32 bytes). field names the offending input in the error.
func ValidateAddress(field, s string) error {
	if s == "" {
		return fmt.Errorf("invalid %s: empty address", field)
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %s is not base58", field, s)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("invalid %s: %s has wrong length", field, s)
	}
	return nil
}
