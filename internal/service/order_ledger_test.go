package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-commerce-api/internal/models"
	appErrors "github.com/noah-isme/sma-commerce-api/pkg/errors"
)

func TestOrderLedgerCreateDefaultsCurrency(t *testing.T) {
	ledger := NewOrderLedger(newMemOrderRepo(), nil)

	order, err := ledger.Create(context.Background(), 1, 7, 3900, "", "stripe")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "EUR", order.Currency)
	assert.Equal(t, int64(3900), order.AmountTotalCents)
	assert.NotZero(t, order.ID)
}

func TestOrderLedgerCreateRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)

	_, err := ledger.Create(context.Background(), 1, 7, 0, "EUR", "stripe")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
	assert.Zero(t, repo.writeCount())
}

func TestOrderLedgerMarkPaidIsIdempotent(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, 7, 3900, "EUR", "stripe")
	require.NoError(t, err)

	already, err := ledger.MarkPaid(ctx, order, "pi_1")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)

	writes := repo.writeCount()
	already, err = ledger.MarkPaid(ctx, order, "pi_1")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, writes, repo.writeCount())
}

func TestOrderLedgerMarkPaidLosingCASReportsAlreadyPaid(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, 7, 3900, "EUR", "stripe")
	require.NoError(t, err)
	stale := *order

	_, err = ledger.MarkPaid(ctx, order, "")
	require.NoError(t, err)

	already, err := ledger.MarkPaid(ctx, &stale, "")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, models.OrderStatusPaid, stale.Status)
}

func TestOrderLedgerMarkPaidRejectsFailedOrder(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, 7, 3900, "EUR", "stripe")
	require.NoError(t, err)
	changed, err := ledger.MarkFailed(ctx, order)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = ledger.MarkPaid(ctx, order, "")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvariant.Code))
}

func TestOrderLedgerMarkFailedLeavesPaidOrder(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, 7, 3900, "EUR", "stripe")
	require.NoError(t, err)
	_, err = ledger.MarkPaid(ctx, order, "")
	require.NoError(t, err)

	changed, err := ledger.MarkFailed(ctx, order)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
}

func TestOrderLedgerAttachSessionOnce(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, 7, 3900, "EUR", "stripe")
	require.NoError(t, err)
	require.NoError(t, ledger.AttachSession(ctx, order, "cs_1", "pi_1"))
	assert.Equal(t, "cs_1", order.SessionID())

	stale, err := ledger.FindByID(ctx, order.ID)
	require.NoError(t, err)
	stale.ProviderSessionID = nil
	require.NoError(t, ledger.AttachSession(ctx, stale, "cs_1", ""))
	assert.Equal(t, "cs_1", stale.SessionID())

	err = ledger.AttachSession(ctx, stale, "cs_other", "")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvariant.Code))
}

func TestOrderLedgerLookups(t *testing.T) {
	repo := newMemOrderRepo()
	ledger := NewOrderLedger(repo, nil)
	ctx := context.Background()

	order, err := ledger.Create(ctx, 1, 7, 3900, "EUR", "stripe")
	require.NoError(t, err)
	require.NoError(t, ledger.AttachSession(ctx, order, "cs_1", ""))

	found, err := ledger.FindBySessionID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = ledger.FindBySessionID(ctx, "cs_missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	found, err = ledger.FindByMetadataOrderID(ctx, order.ID, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = ledger.FindByMetadataOrderID(ctx, order.ID, "cs_foreign")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
