package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/torpedo-one/torpedo/internal/marketplace"
	"github.com/torpedo-one/torpedo/internal/matcher"
	"github.com/torpedo-one/torpedo/internal/registry"
	"github.com/torpedo-one/torpedo/pkg/models"
)

// Request/Response types

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterProviderRequest is the request to register a capacity record
type RegisterProviderRequest struct {
	CPUs             int       `json:"cpus" binding:"required,min=1"`
	GPUs             int       `json:"gpus" binding:"min=0"`
	DiskGB           int       `json:"disk_gb" binding:"min=0"`
	RAMGB            int       `json:"ram_gb" binding:"min=0"`
	AvailableUntil   time.Time `json:"available_until" binding:"required"`
	MaxDurationHours int       `json:"max_duration_hours" binding:"required,min=1"`
	GPUType          int       `json:"gpu_type" binding:"min=0,max=2"`
	ServiceType      int       `json:"service_type" binding:"min=0,max=2"`
}

// QuoteResponse carries a quote in both currencies
type QuoteResponse struct {
	USDCents           int64  `json:"usd_cents"`
	RequiredSettlement string `json:"required_settlement"`
}

// CreateSessionRequest is the request to rent capacity. Payment is the
// escrowed settlement amount in base units, as a decimal string.
type CreateSessionRequest struct {
	Request models.SessionRequest `json:"request"`
	Payment string                `json:"payment" binding:"required"`
}

// InitialiseSessionRequest carries the provider's connection details
type InitialiseSessionRequest struct {
	URL    string `json:"url" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// ProviderStatusResponse reports the engagement state of the caller's records
type ProviderStatusResponse struct {
	Account   string `json:"account"`
	Engaged   bool   `json:"engaged"`
	SessionID string `json:"session_id,omitempty"`
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		response.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleRegisterProvider(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	var req RegisterProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	index, err := s.marketplace.RegisterProvider(ctx, account, models.ProviderRecord{
		CPUs:             req.CPUs,
		GPUs:             req.GPUs,
		DiskGB:           req.DiskGB,
		RAMGB:            req.RAMGB,
		AvailableUntil:   req.AvailableUntil,
		MaxDurationHours: req.MaxDurationHours,
		GPUType:          models.GPUType(req.GPUType),
		ServiceType:      models.ServiceType(req.ServiceType),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"index": index,
		"owner": account,
	})
}

func (s *Server) handleGetProvider(c *gin.Context) {
	index, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid index: must be a valid integer, got %q", c.Param("index")),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	rec, err := s.marketplace.ViewProvider(index)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleProviderStatus(c *gin.Context) {
	account, ok := s.caller(c)
	if !ok {
		return
	}

	engaged, err := s.marketplace.CheckEngaged(account)
	if err != nil {
		s.writeError(c, err)
		return
	}

	response := ProviderStatusResponse{Account: account, Engaged: engaged}
	if engaged {
		sessionID, err := s.marketplace.SessionOf(account)
		if err != nil {
			s.writeError(c, err)
			return
		}
		response.SessionID = sessionID
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handlePoolTotals(c *gin.Context) {
	c.JSON(http.StatusOK, s.marketplace.PoolTotals())
}

func (s *Server) handleQuote(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(c, err)
		return
	}

	required, err := s.marketplace.RequiredSettlement(ctx, req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, QuoteResponse{
		USDCents:           s.marketplace.QuoteUSDCents(req),
		RequiredSettlement: required.String(),
	})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	payment, ok := new(big.Int).SetString(req.Payment, 10)
	if !ok || payment.Sign() < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid payment: must be a non-negative decimal integer, got %q", req.Payment),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	session, err := s.marketplace.CreateSession(ctx, account, req.Request, payment)
	if err != nil {
		var ipe *marketplace.InsufficientPaymentError
		if errors.As(err, &ipe) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":      err.Error(),
				"error_type": "insufficient_payment",
				"required":   ipe.Required.String(),
				"paid":       ipe.Paid.String(),
				"request_id": c.GetString("request_id"),
			})
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// ListSessionsQuery defines query parameters for listing sessions
type ListSessionsQuery struct {
	Role  string `form:"role"`
	State string `form:"state"`
	Limit int    `form:"limit"`
}

func (s *Server) handleListSessions(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	var query ListSessionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     err.Error(),
			RequestID: c.GetString("request_id"),
		})
		return
	}
	if query.Limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     fmt.Sprintf("invalid limit: must be non-negative, got %d", query.Limit),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	sessions, err := s.marketplace.ListSessions(ctx, account, query.Role, models.SessionState(query.State), query.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	session, err := s.marketplace.GetSession(ctx, c.Param("id"), account)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) handleGetSessionRequest(c *gin.Context) {
	ctx := c.Request.Context()

	req, err := s.marketplace.SessionRequest(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, req)
}

func (s *Server) handleGetSessionParties(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	client, provider, err := s.marketplace.SessionParties(ctx, c.Param("id"), account)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client":   client,
		"provider": provider,
	})
}

func (s *Server) handleInitialiseSession(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	var req InitialiseSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	if err := s.marketplace.InitialiseSession(ctx, c.Param("id"), account, req.URL, req.Secret); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "session initialised",
		"session_id": c.Param("id"),
	})
}

func (s *Server) handleStartSession(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	url, secret, err := s.marketplace.StartSession(ctx, c.Param("id"), account)
	if err != nil {
		s.writeError(c, err)
		return
	}

	// Connection details are handed out here and nowhere else
	c.JSON(http.StatusOK, gin.H{
		"session_id": c.Param("id"),
		"url":        url,
		"secret":     secret,
	})
}

func (s *Server) handleCompleteSession(c *gin.Context) {
	ctx := c.Request.Context()

	account, ok := s.caller(c)
	if !ok {
		return
	}

	if err := s.marketplace.CompleteSession(ctx, c.Param("id"), account); err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "session completed",
		"session_id": c.Param("id"),
	})
}

// caller extracts the account the request acts as. Identity is asserted by
// the deployment's fronting proxy; the API trusts the header.
func (s *Server) caller(c *gin.Context) (string, bool) {
	account := c.GetHeader("X-Account")
	if account == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:     "missing X-Account header",
			RequestID: c.GetString("request_id"),
		})
		return "", false
	}
	return account, true
}

// writeError maps service errors onto HTTP status codes
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var notFound *marketplace.SessionNotFoundError
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, registry.ErrOutOfRange),
		errors.Is(err, marketplace.ErrNoProviderRecord):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, registry.ErrAlreadyEngaged),
		errors.Is(err, matcher.ErrNoEligibleProvider):
		status = http.StatusConflict
	case errors.Is(err, marketplace.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, registry.ErrInvalidCapacity),
		errors.Is(err, registry.ErrInsufficientLeadTime):
		status = http.StatusBadRequest
	}

	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		RequestID: c.GetString("request_id"),
	})
}

// sanitizeValidationError converts internal field names to JSON field names
// in validation error messages to avoid leaking implementation details.
func sanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		jsonFieldName := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", jsonFieldName))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", jsonFieldName, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", jsonFieldName, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", jsonFieldName, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toSnakeCase converts a PascalCase or camelCase string to snake_case
func toSnakeCase(s string) string {
	fieldMappings := map[string]string{
		"CPUs":             "cpus",
		"GPUs":             "gpus",
		"DiskGB":           "disk_gb",
		"RAMGB":            "ram_gb",
		"AvailableUntil":   "available_until",
		"MaxDurationHours": "max_duration_hours",
		"GPUType":          "gpu_type",
		"ServiceType":      "service_type",
		"DurationHours":    "duration_hours",
		"URL":              "url",
	}
	if mapped, ok := fieldMappings[s]; ok {
		return mapped
	}
	re := regexp.MustCompile("([a-z0-9])([A-Z])")
	return strings.ToLower(re.ReplaceAllString(s, "${1}_${2}"))
}
