// internal/audit/logger.go
package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Logger writes audit records without ever failing the operation being
// audited: a transfer that landed on chain must be reported to the caller
// even when the trail cannot be written.
type Logger struct {
	store  Store
	logger *zap.Logger
}

func NewLogger(store Store, logger *zap.Logger) *Logger {
	return &Logger{
		store:  store,
		logger: logger.Named("audit"),
	}
}

// Log persists the record. Failures are logged to the operational log and
// swallowed.
func (l *Logger) Log(ctx context.Context, rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("audit write panicked", zap.Any("panic", r))
		}
	}()

	if err := l.store.SaveRecord(ctx, rec); err != nil {
		l.logger.Error("failed to write audit record",
			zap.String("operation", rec.Operation),
			zap.String("signature", rec.Signature),
			zap.String("status", rec.Status),
			zap.Error(err))
	}
}

// Trail lists what was written for a wallet, newest first. Unlike Log, read
// failures surface to the caller.
func (l *Logger) Trail(ctx context.Context, walletAddress string, limit, offset int) ([]*Record, error) {
	return l.store.ListRecords(ctx, walletAddress, limit, offset)
}

// MemoryStore keeps records in memory. Used in tests and in deployments
// without a database configured.
type MemoryStore struct {
	mu      sync.Mutex
	records []*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveRecord(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) GetRecordBySignature(_ context.Context, signature string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.Signature == signature {
			return rec, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *MemoryStore) ListRecords(_ context.Context, walletAddress string, limit, offset int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].WalletAddress == walletAddress {
			out = append(out, m.records[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Records returns a snapshot of everything written so far.
func (m *MemoryStore) Records() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, len(m.records))
	copy(out, m.records)
	return out
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*postgresStore)(nil)
