package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/oselz/escrowd/internal/identity"
	"github.com/oselz/escrowd/internal/money"
	"github.com/oselz/escrowd/internal/payment"
	"github.com/oselz/escrowd/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes. All routes require an
// identified caller (see internal/identity).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow/transactions", h.OpenTransaction)
	r.GET("/escrow/transactions/:id", h.GetTransaction)
	r.POST("/escrow/transactions/:id/release", h.ReleaseTransaction)
	r.POST("/escrow/transactions/:id/dispute", h.DisputeTransaction)
	r.POST("/escrow/transactions/:id/resolve-dispute", h.ResolveDispute)
	r.GET("/escrow/disputed-transactions", h.ListDisputed)
	r.GET("/transactions/history", h.History)
}

type openRequest struct {
	SellerID          int64  `json:"sellerId" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
	Memo              string `json:"memo"`
	ReleaseConditions string `json:"releaseConditions"`
}

// OpenTransaction handles POST /v1/escrow/transactions.
// The authenticated caller is the buyer; the transaction is created
// and synchronously locked against a fresh payment hold.
func (h *Handler) OpenTransaction(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.PositiveID("sellerId", req.SellerID),
		validation.ValidAmount("amount", req.Amount),
		validation.MaxLength("memo", req.Memo, 500),
		validation.MaxLength("releaseConditions", req.ReleaseConditions, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	amount, _ := money.ParsePositive(req.Amount)

	buyerID := identity.CallerID(c)
	tx, hold, err := h.service.Open(c.Request.Context(), CreateRequest{
		SellerID:          req.SellerID,
		BuyerID:           buyerID,
		Amount:            amount,
		Memo:              validation.SanitizeString(req.Memo, 500),
		ReleaseConditions: validation.SanitizeString(req.ReleaseConditions, validation.MaxReasonLength),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction": tx,
		"payment":     hold,
	})
}

// GetTransaction handles GET /v1/escrow/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	tx, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ReleaseTransaction handles POST /v1/escrow/transactions/:id/release
func (h *Handler) ReleaseTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	tx, err := h.service.Release(c.Request.Context(), id, identity.CallerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisputeTransaction handles POST /v1/escrow/transactions/:id/dispute
func (h *Handler) DisputeTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Dispute reason is required",
		})
		return
	}
	if errs := validation.Validate(
		validation.MaxLength("reason", req.Reason, validation.MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tx, err := h.service.Dispute(c.Request.Context(), id, identity.CallerID(c),
		validation.SanitizeString(req.Reason, validation.MaxReasonLength))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

type resolveRequest struct {
	Resolution string `json:"resolution" binding:"required"`
	Notes      string `json:"notes"`
}

// ResolveDispute handles POST /v1/escrow/transactions/:id/resolve-dispute
func (h *Handler) ResolveDispute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Resolution is required",
		})
		return
	}

	resolution := Resolution(req.Resolution)
	if resolution != ResolutionRefund && resolution != ResolutionRelease {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "resolution must be \"refund\" or \"release\"",
		})
		return
	}

	tx, err := h.service.Resolve(c.Request.Context(), id, identity.CallerID(c), resolution,
		validation.SanitizeString(req.Notes, validation.MaxReasonLength))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListDisputed handles GET /v1/escrow/disputed-transactions
func (h *Handler) ListDisputed(c *gin.Context) {
	txs, err := h.service.ListDisputed(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

// History handles GET /v1/transactions/history
func (h *Handler) History(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.service.History(c.Request.Context(), identity.CallerID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if entries == nil {
		entries = []*HistoryEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": entries,
		"count":        len(entries),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid transaction id",
		})
		return 0, false
	}
	return id, true
}

// respondError maps engine errors to HTTP status codes. This mapping
// is a boundary concern; the engine only knows its own taxonomy.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStateConflict):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrInvalidParty), errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, payment.ErrGateway), errors.Is(err, payment.ErrUnknownPayment):
		code = "payment_gateway_error"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
