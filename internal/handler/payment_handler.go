package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-commerce-api/internal/dto"
	"github.com/noah-isme/sma-commerce-api/internal/models"
	"github.com/noah-isme/sma-commerce-api/internal/service"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
	"github.com/noah-isme/sma-commerce-api/pkg/response"
)

const (
	errConfirmFailed    = "confirm_failed"
	errEnrollmentFailed = "enrollment_failed"
)

type purchaseService interface {
	CreateCheckoutSession(ctx context.Context, studentID, classroomID int64, successURL, cancelURL string) (string, error)
	ConfirmAndEnroll(ctx context.Context, sessionID string) (*models.ConfirmResult, error)
}

type receiptService interface {
	Receipt(ctx context.Context, studentID, orderID int64) ([]byte, string, error)
}

// PaymentHandler exposes the checkout and confirmation endpoints used by the payment pages.
type PaymentHandler struct {
	purchases purchaseService
	receipts  receiptService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(purchases purchaseService, receipts receiptService, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{purchases: purchases, receipts: receipts, validator: service.NewValidator(), logger: logger}
}

// CreateCheckoutSession godoc
// @Summary Start a classroom purchase
// @Description Prices the order from the classroom and returns the hosted checkout URL.
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CheckoutSessionRequest true "Classroom to buy"
// @Success 201 {object} dto.CheckoutSessionResponse
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /student/payments/checkout-session [post]
func (h *PaymentHandler) CreateCheckoutSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err))
		return
	}
	if err := service.ValidateStruct(h.validator, req, "invalid checkout request"); err != nil {
		response.Error(c, err)
		return
	}

	url, err := h.purchases.CreateCheckoutSession(c.Request.Context(), claims.UserID, req.ClassroomID, "", "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, http.StatusCreated, dto.CheckoutSessionResponse{CheckoutURL: url})
}

// Start godoc
// @Summary Start a classroom purchase (query variant)
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param classroom_id query int true "Classroom ID"
// @Success 200 {object} dto.CheckoutSessionResponse
// @Failure 400 {object} response.Envelope
// @Router /api/payment/start [post]
func (h *PaymentHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	classroomID, err := int64Query(c, "classroom_id")
	if err != nil {
		response.Error(c, err)
		return
	}

	url, err := h.purchases.CreateCheckoutSession(c.Request.Context(), claims.UserID, classroomID, "", "")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, http.StatusOK, dto.CheckoutSessionResponse{CheckoutURL: url})
}

// Confirm godoc
// @Summary Confirm a checkout session and enroll
// @Description Safe to poll. Reports paid, already_paid or not_paid.
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param session_id query string true "Checkout session ID"
// @Success 200 {object} dto.ConfirmResponse
// @Failure 400 {object} response.Envelope
// @Failure 500 {object} dto.ConfirmResponse
// @Router /student/payments/confirm [get]
func (h *PaymentHandler) Confirm(c *gin.Context) {
	result, err := h.purchases.ConfirmAndEnroll(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrValidation.Code) {
			response.Error(c, err)
			return
		}
		response.Raw(c, http.StatusInternalServerError, dto.ConfirmResponse{OK: false, Error: h.failureCode(result, err)})
		return
	}
	response.Raw(c, http.StatusOK, dto.ConfirmResponse{OK: true, Status: string(result.Status)})
}

// Verify godoc
// @Summary Verify a checkout session (payment success page)
// @Tags Payments
// @Produce json
// @Param session_id query string true "Checkout session ID"
// @Success 200 {object} dto.VerifyResponse
// @Router /api/payment/verify [get]
func (h *PaymentHandler) Verify(c *gin.Context) {
	result, err := h.purchases.ConfirmAndEnroll(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrValidation.Code) {
			response.Raw(c, http.StatusBadRequest, dto.VerifyResponse{OK: false, Error: "session_id is required"})
			return
		}
		response.Raw(c, http.StatusInternalServerError, dto.VerifyResponse{OK: false, Error: h.failureCode(result, err)})
		return
	}
	switch result.Status {
	case models.ConfirmStatusPaid, models.ConfirmStatusAlreadyPaid:
		response.Raw(c, http.StatusOK, dto.VerifyResponse{OK: true, OrderID: result.OrderID})
	default:
		response.Raw(c, http.StatusOK, dto.VerifyResponse{OK: false, Error: string(models.ConfirmStatusNotPaid)})
	}
}

// Receipt godoc
// @Summary Download the receipt of a paid order
// @Tags Payments
// @Produce application/pdf
// @Security BearerAuth
// @Param id path int true "Order ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /student/payments/orders/{id}/receipt [get]
func (h *PaymentHandler) Receipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	orderID, err := int64Param(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	body, filename, err := h.receipts.Receipt(c.Request.Context(), claims.UserID, orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "application/pdf", filename, body)
}

func (h *PaymentHandler) failureCode(result *models.ConfirmResult, err error) string {
	code := errConfirmFailed
	if result != nil && result.Status == models.ConfirmStatusPaid {
		code = errEnrollmentFailed
	}
	h.logger.Error("payment confirmation failed", zap.String("code", code), zap.Error(err))
	return code
}
