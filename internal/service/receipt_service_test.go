package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

func TestReceiptServiceRendersPaidOrder(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	order := f.onlyOrder(t)
	f.gateway.Pay(order.SessionID())
	_, err = f.svc.ConfirmAndEnroll(ctx, order.SessionID())
	require.NoError(t, err)

	users := memUsers{testStudentID: {ID: testStudentID, FullName: "Ana", Email: "ana@example.com", Active: true}}
	svc := NewReceiptService(f.ledger, users, f.classrooms)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	body, name, err := svc.Receipt(ctx, testStudentID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipt-1.pdf", name)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestReceiptServiceHidesOtherStudentsOrders(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)

	svc := NewReceiptService(f.ledger, memUsers{}, f.classrooms)
	_, _, err = svc.Receipt(ctx, 1000, 1)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReceiptServiceRequiresPaidOrder(t *testing.T) {
	f := newPurchaseFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateCheckoutSession(ctx, testStudentID, testClassroomID, "", "")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, f.onlyOrder(t).Status)

	svc := NewReceiptService(f.ledger, memUsers{}, f.classrooms)
	_, _, err = svc.Receipt(ctx, testStudentID, 1)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}
