// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-custody/internal/custody"
	"github.com/rovshanmuradov/solana-custody/internal/guard"
	"github.com/rovshanmuradov/solana-custody/internal/ratelimit"
	"github.com/rovshanmuradov/solana-custody/internal/signer"
	"github.com/rovshanmuradov/solana-custody/internal/verify"
	"github.com/rovshanmuradov/solana-custody/internal/wallet"
)

// Server exposes the custody service over HTTP. The routes mirror the tool
// surface an agent runtime calls.
type Server struct {
	svc    *custody.Service
	logger *zap.Logger
	http   *http.Server
}

func NewServer(addr string, svc *custody.Service, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger.Named("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/v1")
	{
		v1.POST("/transfers/sol", s.handleTransferSOL)
		v1.POST("/transfers/token", s.handleTransferToken)
		v1.POST("/transfers/token/batch", s.handleBatchTransfer)
		v1.GET("/wallet/:address/balance", s.handleWalletBalance)
		v1.GET("/wallet/:address/tokens", s.handleTokenBalances)
		v1.GET("/wallet/:address/audit", s.handleAuditTrail)
		v1.GET("/tokens/:mint/holders", s.handleTokenHolders)
		v1.POST("/payments/verify", s.handleVerifyPayment)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleTransferSOL(c *gin.Context) {
	var req custody.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.TransferSOL(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTransferToken(c *gin.Context) {
	var req custody.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mint is required"})
		return
	}

	result, err := s.svc.TransferToken(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBatchTransfer(c *gin.Context) {
	var req custody.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.BatchTransferToken(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleWalletBalance(c *gin.Context) {
	result, err := s.svc.GetWalletBalance(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTokenBalances(c *gin.Context) {
	result, err := s.svc.GetTokenBalances(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": result})
}

func (s *Server) handleAuditTrail(c *gin.Context) {
	var query struct {
		Limit  int `form:"limit"`
		Offset int `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := s.svc.GetAuditTrail(c.Request.Context(), c.Param("address"), query.Limit, query.Offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) handleTokenHolders(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.svc.GetTokenHolders(c.Request.Context(), c.Param("mint"), query.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holders": result})
}

type verifyPaymentRequest struct {
	Signature         string `json:"signature" binding:"required"`
	ExpectedRecipient string `json:"expected_recipient" binding:"required"`
	ExpectedPayer     string `json:"expected_payer,omitempty"`
	MinAmountSOL      string `json:"min_amount_sol,omitempty"`
	Finality          string `json:"finality,omitempty"`
}

func (s *Server) handleVerifyPayment(c *gin.Context) {
	var body verifyPaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig, err := solana.SignatureFromBase58(body.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}
	if err := wallet.ValidateAddress("expected_recipient", body.ExpectedRecipient); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := verify.Request{
		Signature:         sig,
		ExpectedRecipient: solana.MustPublicKeyFromBase58(body.ExpectedRecipient),
		MinAmountSOL:      body.MinAmountSOL,
		Finality:          rpc.ConfirmationStatusType(body.Finality),
	}
	if body.ExpectedPayer != "" {
		if err := wallet.ValidateAddress("expected_payer", body.ExpectedPayer); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.ExpectedPayer = solana.MustPublicKeyFromBase58(body.ExpectedPayer)
	}

	verdict, err := s.svc.VerifyPayment(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

// writeError maps domain errors to status codes. Unrecognized errors are
// internal: their text may carry infrastructure detail that does not belong
// in a response.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrWalletBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, guard.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, signer.ErrSignerRejected):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, custody.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
