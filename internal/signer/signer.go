// internal/signer/signer.go
package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// ErrSignerRejected marks a signing request the signer service refused. The
// caller must not retry: the signer's policy engine said no.
var ErrSignerRejected = errors.New("signer rejected the transaction")

// Signer signs an assembled transaction on behalf of a custodial wallet. Key
// material never enters this process.
type Signer interface {
	Sign(ctx context.Context, req SignRequest) (*solana.Transaction, error)
}

// SignRequest carries the unsigned transaction and the identity context the
// signer uses for policy checks.
type SignRequest struct {
	WalletID    string              `json:"wallet_id"`
	AgentID     string              `json:"agent_id,omitempty"`
	ChatID      string              `json:"chat_id,omitempty"`
	Transaction *solana.Transaction `json:"-"`
}

type signRequestWire struct {
	WalletID    string `json:"wallet_id"`
	AgentID     string `json:"agent_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	Transaction string `json:"transaction"`
}

type signResponseWire struct {
	SignedTransaction string `json:"signed_transaction"`
	Error             string `json:"error,omitempty"`
}

// HTTPSigner talks to the external signing service over HTTPS with a bearer
// token. Requests are never retried: a timed-out request may still have been
// signed and broadcast-able, so the safe behavior is to surface the failure.
type HTTPSigner struct {
	url    string
	token  string
	client *http.Client
	logger *zap.Logger
}

func NewHTTPSigner(url, token string, logger *zap.Logger) *HTTPSigner {
	return &HTTPSigner{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.Named("signer"),
	}
}

func (s *HTTPSigner) Sign(ctx context.Context, req SignRequest) (*solana.Transaction, error) {
	raw, err := req.Transaction.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	body, err := json.Marshal(signRequestWire{
		WalletID:    req.WalletID,
		AgentID:     req.AgentID,
		ChatID:      req.ChatID,
		Transaction: base64.StdEncoding.EncodeToString(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sign request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create sign request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read signer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var wire signResponseWire
		if json.Unmarshal(respBody, &wire) == nil && wire.Error != "" {
			return nil, fmt.Errorf("%w: %s (status %d)", ErrSignerRejected, wire.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrSignerRejected, resp.StatusCode)
	}

	var wire signResponseWire
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("malformed signer response: %w", err)
	}
	if wire.SignedTransaction == "" {
		return nil, fmt.Errorf("malformed signer response: missing signed_transaction")
	}

	signedRaw, err := base64.StdEncoding.DecodeString(wire.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("malformed signer response: %w", err)
	}

	signed, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signedRaw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed transaction: %w", err)
	}
	if len(signed.Signatures) == 0 || signed.Signatures[0].IsZero() {
		return nil, fmt.Errorf("signer returned an unsigned transaction")
	}

	s.logger.Debug("transaction signed",
		zap.String("wallet_id", req.WalletID),
		zap.Int("signatures", len(signed.Signatures)))
	return signed, nil
}

var _ Signer = (*HTTPSigner)(nil)
