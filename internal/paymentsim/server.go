// Package paymentsim is an in-memory payment gateway for local runs and tests.
package paymentsim

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	StatusAuthorized = "authorized"
	StatusVoided     = "voided"
)

type Authorization struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type authorizeRequest struct {
	Amount   *int64            `json:"amount" binding:"required"`
	Currency string            `json:"currency" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Server struct {
	mu           sync.Mutex
	auths        map[string]*Authorization
	byKey        map[string]string
	declineAbove int64
	logger       *zap.Logger
}

// NewServer declines any authorization above declineAbove minor units. Zero
// disables declines.
func NewServer(declineAbove int64, logger *zap.Logger) *Server {
	return &Server{
		auths:        make(map[string]*Authorization),
		byKey:        make(map[string]string),
		declineAbove: declineAbove,
		logger:       logger,
	}
}

func (s *Server) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.POST("/authorizations", s.authorize)
	v1.GET("/authorizations/:id", s.get)
	v1.POST("/authorizations/:id/void", s.void)
}

func (s *Server) authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{apiError{Code: "invalid_request", Message: err.Error()}})
		return
	}
	if *req.Amount < 0 {
		c.JSON(http.StatusBadRequest, errorBody{apiError{Code: "invalid_request", Message: "amount must not be negative"}})
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok && key != "" {
		c.JSON(http.StatusCreated, s.auths[id])
		return
	}

	if s.declineAbove > 0 && *req.Amount > s.declineAbove {
		s.logger.Info("💳 Declined authorization",
			zap.Int64("amount", *req.Amount),
			zap.Int64("limit", s.declineAbove),
		)
		c.JSON(http.StatusPaymentRequired, errorBody{apiError{
			Code:    "card_declined",
			Message: "amount exceeds the card limit",
		}})
		return
	}

	auth := &Authorization{
		ID:        "auth_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    StatusAuthorized,
		Amount:    *req.Amount,
		Currency:  strings.ToLower(req.Currency),
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.auths[auth.ID] = auth
	if key != "" {
		s.byKey[key] = auth.ID
	}

	s.logger.Info("💳 Authorized payment",
		zap.String("authorization_id", auth.ID),
		zap.Int64("amount", auth.Amount),
		zap.String("currency", auth.Currency),
	)
	c.JSON(http.StatusCreated, auth)
}

func (s *Server) get(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.auths[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{apiError{Code: "not_found", Message: "no such authorization"}})
		return
	}
	c.JSON(http.StatusOK, auth)
}

// void is idempotent: voiding twice reports the voided authorization.
func (s *Server) void(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.auths[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{apiError{Code: "not_found", Message: "no such authorization"}})
		return
	}
	if auth.Status != StatusVoided {
		auth.Status = StatusVoided
		s.logger.Info("↩️ Voided authorization", zap.String("authorization_id", auth.ID))
	}
	c.JSON(http.StatusOK, auth)
}

// Authorization returns a copy of a stored authorization.
func (s *Server) Authorization(id string) (Authorization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth, ok := s.auths[id]
	if !ok {
		return Authorization{}, false
	}
	return *auth, true
}
