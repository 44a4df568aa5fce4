package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumipay/risk-engine/internal/domain/entities"
	"github.com/lumipay/risk-engine/internal/domain/repositories"
	"github.com/lumipay/risk-engine/internal/domain/services/evaluator"
	"github.com/lumipay/risk-engine/internal/domain/services/graph"
	"github.com/lumipay/risk-engine/internal/domain/services/review"
	"github.com/lumipay/risk-engine/internal/domain/services/velocity"
	"github.com/lumipay/risk-engine/internal/infrastructure/cache"
	"github.com/lumipay/risk-engine/pkg/errors"
	"github.com/lumipay/risk-engine/pkg/money"
)

// RiskHandler serves the evaluation endpoint called by the payment service
// and the admin review surface.
type RiskHandler struct {
	evaluator  *evaluator.Evaluator
	reviews    *review.Service
	tracker    *velocity.Tracker
	analyzer   *graph.Analyzer
	activities repositories.SuspiciousActivityRepository
	blocklist  *cache.Blocklist
	logger     *zap.Logger
}

// NewRiskHandler creates a risk handler.
func NewRiskHandler(
	eval *evaluator.Evaluator,
	reviews *review.Service,
	tracker *velocity.Tracker,
	analyzer *graph.Analyzer,
	activities repositories.SuspiciousActivityRepository,
	blocklist *cache.Blocklist,
	logger *zap.Logger,
) *RiskHandler {
	return &RiskHandler{
		evaluator:  eval,
		reviews:    reviews,
		tracker:    tracker,
		analyzer:   analyzer,
		activities: activities,
		blocklist:  blocklist,
		logger:     logger,
	}
}

type evaluateRequest struct {
	PaymentID string `json:"payment_id" binding:"required,uuid"`
	PayerID   string `json:"payer_id" binding:"required,uuid"`
	PayeeID   string `json:"payee_id" binding:"required,uuid"`
	Amount    string `json:"amount" binding:"required"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// EvaluatePayment godoc
// @Summary Evaluate a payment for fraud risk
// @Tags risk
// @Accept json
// @Produce json
// @Param request body evaluateRequest true "payment to evaluate"
// @Success 200 {object} entities.RiskDecision
// @Router /api/v1/risk/evaluate [post]
func (h *RiskHandler) EvaluatePayment(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ValidationError(err.Error()))
		return
	}

	amount, err := money.FromString(req.Amount)
	if err != nil || amount <= 0 {
		respondError(c, errors.ValidationError("amount must be a positive decimal"))
		return
	}

	in := &evaluator.PaymentInput{
		PaymentID: uuid.MustParse(req.PaymentID),
		PayerID:   uuid.MustParse(req.PayerID),
		PayeeID:   uuid.MustParse(req.PayeeID),
		Amount:    amount,
	}
	if req.IPAddress != "" {
		in.IPAddress = &req.IPAddress
	}
	if req.UserAgent != "" {
		in.UserAgent = &req.UserAgent
	}

	decision, err := h.evaluator.EvaluatePayment(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// GetCheck returns one risk check.
func (h *RiskHandler) GetCheck(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	check, err := h.reviews.GetCheck(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// ListPendingChecks returns checks awaiting review.
func (h *RiskHandler) ListPendingChecks(c *gin.Context) {
	limit, offset := pagination(c)
	checks, err := h.reviews.ListPendingChecks(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checks": checks, "limit": limit, "offset": offset})
}

// ListUserChecks returns a user's check history.
func (h *RiskHandler) ListUserChecks(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	checks, err := h.reviews.ListUserChecks(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checks": checks, "limit": limit, "offset": offset})
}

type reviewRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

// ReviewCheck records an admin verdict on a pending check.
func (h *RiskHandler) ReviewCheck(c *gin.Context) {
	checkID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ValidationError(err.Error()))
		return
	}
	reviewerID := c.MustGet("admin_id").(uuid.UUID)

	check, err := h.reviews.ReviewCheck(c.Request.Context(), checkID, reviewerID, req.Approve, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

// EvaluateUser runs a profile-only evaluation for a user.
func (h *RiskHandler) EvaluateUser(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	decision, err := h.evaluator.EvaluateUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// ListActivities returns suspicious activity records by status.
func (h *RiskHandler) ListActivities(c *gin.Context) {
	status := entities.ActivityStatus(c.DefaultQuery("status", string(entities.ActivityStatusActive)))
	limit, offset := pagination(c)
	activities, err := h.reviews.ListActivities(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities, "limit": limit, "offset": offset})
}

type resolveRequest struct {
	Notes string `json:"notes" binding:"required"`
}

// ResolveActivity closes a suspicious activity record.
func (h *RiskHandler) ResolveActivity(c *gin.Context) {
	activityID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ValidationError(err.Error()))
		return
	}
	resolverID := c.MustGet("admin_id").(uuid.UUID)

	if err := h.reviews.ResolveActivity(c.Request.Context(), activityID, resolverID, req.Notes); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// GetUserNetwork returns the user's transaction neighborhood and whether
// it contains a circular payment flow. A detected cycle is also recorded
// as a suspicious activity.
func (h *RiskHandler) GetUserNetwork(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	now := time.Now().UTC()

	connected, err := h.analyzer.ConnectedUsers(c.Request.Context(), userID, now)
	if err != nil {
		respondError(c, err)
		return
	}
	circular, cycle, err := h.analyzer.CircularNetwork(c.Request.Context(), userID, now)
	if err != nil {
		respondError(c, err)
		return
	}

	if circular {
		activity := &entities.SuspiciousActivity{
			ID:              uuid.New(),
			UserID:          userID,
			ActivityType:    entities.ActivityCircularNetwork,
			Description:     "user participates in a circular payment flow",
			RiskScore:       30,
			FirstDetectedAt: now,
			LastDetectedAt:  now,
			Frequency:       1,
			Status:          entities.ActivityStatusActive,
		}
		if err := h.activities.Record(c.Request.Context(), activity); err != nil {
			h.logger.Warn("failed to record circular network activity",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":         userID,
		"connected_users": connected,
		"circular":        circular,
		"cycle":           cycle,
	})
}

type assignLimitRequest struct {
	LimitType        string `json:"limit_type" binding:"required,oneof=hourly daily weekly monthly"`
	AmountLimit      string `json:"amount_limit" binding:"required"`
	TransactionLimit int    `json:"transaction_limit" binding:"required,min=1"`
	WindowMinutes    int    `json:"window_minutes" binding:"required,min=1"`
}

// AssignLimit creates or replaces a velocity limit for a user.
func (h *RiskHandler) AssignLimit(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req assignLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ValidationError(err.Error()))
		return
	}
	amountLimit, err := money.FromString(req.AmountLimit)
	if err != nil {
		respondError(c, errors.ValidationError("amount_limit must be a decimal"))
		return
	}

	limit, err := h.tracker.AssignLimit(
		c.Request.Context(), userID,
		entities.LimitType(req.LimitType), amountLimit, req.TransactionLimit,
		time.Duration(req.WindowMinutes)*time.Minute,
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, limit)
}

// ListLimits returns a user's active velocity limits.
func (h *RiskHandler) ListLimits(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	limits, err := h.tracker.ListLimits(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limits": limits})
}

// RemoveLimit deactivates a velocity limit.
func (h *RiskHandler) RemoveLimit(c *gin.Context) {
	userID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	limitType := entities.LimitType(c.Param("type"))
	if err := h.tracker.RemoveLimit(c.Request.Context(), userID, limitType); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

type blocklistRequest struct {
	IP string `json:"ip" binding:"required,ip"`
}

// AddBlocklistIP adds an address to the shared blocklist and reloads the
// local snapshot.
func (h *RiskHandler) AddBlocklistIP(c *gin.Context) {
	var req blocklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ValidationError(err.Error()))
		return
	}
	if err := h.blocklist.Add(c.Request.Context(), req.IP); err != nil {
		respondError(c, err)
		return
	}
	if err := h.blocklist.Reload(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ip": req.IP, "blocklist_size": h.blocklist.Current().Size()})
}

// RemoveBlocklistIP removes an address from the shared blocklist.
func (h *RiskHandler) RemoveBlocklistIP(c *gin.Context) {
	ip := c.Param("ip")
	if err := h.blocklist.Remove(c.Request.Context(), ip); err != nil {
		respondError(c, err)
		return
	}
	if err := h.blocklist.Reload(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": ip})
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, errors.ValidationError(name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func respondError(c *gin.Context, err error) {
	if riskErr, ok := err.(*errors.RiskError); ok {
		c.JSON(riskErr.StatusCode, gin.H{
			"error": gin.H{"code": riskErr.Code, "message": riskErr.Message, "details": riskErr.Details},
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": errors.ErrCodeInternal, "message": "internal server error"},
	})
}
