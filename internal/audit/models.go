// internal/audit/models.go
package audit

import "time"

// BaseModel replaces gorm.Model for tighter control over columns.
type BaseModel struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

// Operation names for audit records.
const (
	OpTransferSOL   = "transfer_sol"
	OpTransferToken = "transfer_token"
	OpBatchTransfer = "batch_transfer"
)

// Record statuses.
const (
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusPartial   = "partial"
)

// Record is one audited transfer attempt. Failed attempts are recorded too:
// the trail must show what was tried, not only what landed.
type Record struct {
	BaseModel
	CorrelationID string `gorm:"index;not null;type:varchar(36)"`
	Operation     string `gorm:"index;not null;type:varchar(30)"`
	UserID        string `gorm:"index;not null;type:varchar(64)"`
	WalletID      string `gorm:"not null;type:varchar(64)"`
	WalletAddress string `gorm:"index;not null;type:varchar(44)"`
	AgentID       string `gorm:"type:varchar(64)"`
	ChatID        string `gorm:"type:varchar(64)"`
	Recipient     string `gorm:"type:varchar(44)"`
	// Recipients holds the full list for batch operations, JSON-encoded.
	Recipients   string `gorm:"type:text"`
	Mint         string `gorm:"type:varchar(44)"`
	AmountRaw    string `gorm:"type:varchar(24)"`
	AmountUI     string `gorm:"type:varchar(32)"`
	Signature    string `gorm:"index;type:varchar(88)"`
	Status       string `gorm:"not null;type:varchar(20)"`
	ErrorMessage string `gorm:"type:text"`
}
