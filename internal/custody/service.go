// internal/custody/service.go
package custody

import (
	"context"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/audit"
	"github.com/rovshanmuradov/solana-custody/internal/batch"
	"github.com/rovshanmuradov/solana-custody/internal/chain"
	"github.com/rovshanmuradov/solana-custody/internal/config"
	"github.com/rovshanmuradov/solana-custody/internal/guard"
	"github.com/rovshanmuradov/solana-custody/internal/signer"
	"github.com/rovshanmuradov/solana-custody/internal/submit"
	"github.com/rovshanmuradov/solana-custody/internal/token"
	"github.com/rovshanmuradov/solana-custody/internal/txbuilder"
	"github.com/rovshanmuradov/solana-custody/internal/verify"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

// RateLimiter gates actions per user. A nil limiter on the Service means no
// limiting (development deployments without Redis).
type RateLimiter interface {
	Allow(ctx context.Context, userID, action string) error
}

// Service orchestrates the transfer pipeline: rate limit, validate, lock,
// balance check, build, sign, submit, audit. It owns no key material and
// talks to the signer service for every signature.
type Service struct {
	cfg       *config.Config
	chain     chain.Client
	resolver  *token.Resolver
	limiter   RateLimiter
	locks     wallet.Locker
	guard     *guard.Guard
	builder   *txbuilder.Builder
	signer    signer.Signer
	submitter *submit.Submitter
	batches   *batch.Scheduler
	auditor   *audit.Logger
	verifier  *verify.Verifier
	logger    *zap.Logger
}

func New(
	cfg *config.Config,
	client chain.Client,
	sgn signer.Signer,
	locker wallet.Locker,
	limiter RateLimiter,
	auditor *audit.Logger,
	log *zap.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		chain:     client,
		resolver:  token.NewResolver(client, log),
		limiter:   limiter,
		locks:     locker,
		guard:     guard.New(client, cfg.FeeBufferLamports, log),
		builder:   txbuilder.New(client, log),
		signer:    sgn,
		submitter: submit.New(client, cfg.ConfirmPollInterval(), log),
		batches:   batch.New(cfg.MaxBatchSize, cfg.MaxBatchRecipients, log),
		auditor:   auditor,
		verifier:  verify.New(client, log),
		logger:    log.Named("custody"),
	}
}

func (s *Service) allow(ctx context.Context, userID, action string) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Allow(ctx, userID, action)
}
