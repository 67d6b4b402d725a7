package dto

// CheckoutSessionRequest is the body of POST /student/payments/checkout-session.
type CheckoutSessionRequest struct {
	ClassroomID int64 `json:"classroomId" validate:"required,gt=0"`
}

// CheckoutSessionResponse carries the hosted checkout redirect.
type CheckoutSessionResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

// ConfirmResponse is returned by GET /student/payments/confirm.
type ConfirmResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// VerifyResponse is the shape polled by the payment success page.
type VerifyResponse struct {
	OK      bool   `json:"ok"`
	OrderID int64  `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}
