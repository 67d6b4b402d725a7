package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
	"github.com/noah-isme/sma-commerce-api/pkg/export"
)

type orderReader interface {
	FindByID(ctx context.Context, id int64) (*models.Order, error)
}

// ReceiptService renders PDF receipts for paid orders.
type ReceiptService struct {
	orders     orderReader
	users      userLookup
	classrooms classroomLookup
	now        func() time.Time
}

// NewReceiptService constructs the receipt renderer.
func NewReceiptService(orders orderReader, users userLookup, classrooms classroomLookup) *ReceiptService {
	return &ReceiptService{orders: orders, users: users, classrooms: classrooms, now: func() time.Time { return time.Now().UTC() }}
}

// Receipt returns the PDF and its file name. Orders of other students are reported as not found.
func (s *ReceiptService) Receipt(ctx context.Context, studentID, orderID int64) ([]byte, string, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	if order.StudentID != studentID {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "order not found")
	}
	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusRefunded {
		return nil, "", appErrors.Clone(appErrors.ErrPreconditionFailed, "receipt is available once the order is paid")
	}

	student, err := s.users.FindByID(ctx, order.StudentID)
	if err != nil {
		return nil, "", lookupFailure(err, "student")
	}
	classroom, err := s.classrooms.FindByID(ctx, order.ClassroomID)
	if err != nil {
		return nil, "", lookupFailure(err, "classroom")
	}

	receipt := export.Receipt{
		OrderID:       order.ID,
		StudentName:   student.FullName,
		StudentEmail:  student.Email,
		ClassroomName: classroom.Name,
		AmountCents:   order.AmountTotalCents,
		Currency:      order.Currency,
		Provider:      order.Provider,
		Reference:     order.SessionID(),
		IssuedAt:      s.now(),
	}
	if order.ProviderPaymentIntentID != nil {
		receipt.Reference = *order.ProviderPaymentIntentID
	}
	if order.PaidAt != nil {
		receipt.PaidAt = *order.PaidAt
	}

	body, err := export.RenderReceipt(receipt)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return body, fmt.Sprintf("receipt-%d.pdf", order.ID), nil
}

func lookupFailure(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, what+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+what)
}
