package service

import (
	"context"
	"testing"
	"time"

	"payment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaymentService() (*PaymentService, *fakeStore, *fakeGateway) {
	st := newFakeStore()
	gw := newFakeGateway()
	return NewPaymentService(st, st, gw, nil), st, gw
}

func TestCreateIntentRoundTrip(t *testing.T) {
	svc, _, _ := newTestPaymentService()
	ctx := context.Background()

	payment, err := svc.CreateIntent(ctx, &CreateIntentRequest{
		Amount:   decimal.RequireFromString("10.00"),
		Currency: "usd",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, "usd", payment.Currency)
	assert.NotEmpty(t, payment.GatewayPaymentID)

	got, err := svc.GetIntent(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)
	assert.Equal(t, payment.Status, got.Status)
	assert.True(t, payment.Amount.Equal(got.Amount))
	assert.Equal(t, payment.GatewayPaymentID, got.GatewayPaymentID)
}

func TestCreateIntentRejectsNonPositiveAmount(t *testing.T) {
	svc, _, gw := newTestPaymentService()

	_, err := svc.CreateIntent(context.Background(), &CreateIntentRequest{
		Amount:   decimal.Zero,
		Currency: "usd",
	})
	assert.True(t, IsValidation(err))
	assert.Zero(t, gw.createCalls, "validation must happen before any gateway call")
}

func TestCreateIntentRejectsBadCurrency(t *testing.T) {
	svc, _, gw := newTestPaymentService()

	_, err := svc.CreateIntent(context.Background(), &CreateIntentRequest{
		Amount:   decimal.NewFromInt(5),
		Currency: "dollars",
	})
	assert.True(t, IsValidation(err))
	assert.Zero(t, gw.createCalls)
}

func TestCreateIntentCustomerNotFound(t *testing.T) {
	svc, _, gw := newTestPaymentService()

	_, err := svc.CreateIntent(context.Background(), &CreateIntentRequest{
		Amount:     decimal.NewFromInt(5),
		Currency:   "usd",
		CustomerID: "missing",
	})
	assert.ErrorIs(t, err, ErrCustomerNotFound)
	assert.Zero(t, gw.createCalls)
}

func TestGetIntentNotFound(t *testing.T) {
	svc, _, _ := newTestPaymentService()

	_, err := svc.GetIntent(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestConfirmIntentMapsGatewayStatus(t *testing.T) {
	svc, _, gw := newTestPaymentService()
	ctx := context.Background()

	payment, err := svc.CreateIntent(ctx, &CreateIntentRequest{
		Amount:   decimal.NewFromInt(25),
		Currency: "eur",
	})
	require.NoError(t, err)

	gw.confirmStatus = "succeeded"
	updated, err := svc.ConfirmIntent(ctx, payment.ID, "pm_card")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, updated.Status)
	assert.Equal(t, 1, gw.confirmCalls)
}

func TestConfirmIntentUnrecognizedGatewayStatusStaysPending(t *testing.T) {
	svc, _, gw := newTestPaymentService()
	ctx := context.Background()

	payment, err := svc.CreateIntent(ctx, &CreateIntentRequest{
		Amount:   decimal.NewFromInt(25),
		Currency: "eur",
	})
	require.NoError(t, err)

	gw.confirmStatus = "some_future_status"
	updated, err := svc.ConfirmIntent(ctx, payment.ID, "")
	require.NoError(t, err, "unrecognized gateway statuses must never fail the call")
	assert.Equal(t, models.PaymentStatusPending, updated.Status)
}

func TestConfirmIntentGatewayLinkMissing(t *testing.T) {
	svc, st, _ := newTestPaymentService()

	key := st.seedPayment(models.PaymentRecord{
		Amount:   decimal.NewFromInt(5),
		Currency: "usd",
		Status:   models.PaymentStatusPending,
	})

	_, err := svc.ConfirmIntent(context.Background(), key, "")
	assert.ErrorIs(t, err, ErrGatewayLinkMissing)
}

func TestConfirmIntentNotFound(t *testing.T) {
	svc, _, _ := newTestPaymentService()

	_, err := svc.ConfirmIntent(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestCancelIdempotence(t *testing.T) {
	svc, st, gw := newTestPaymentService()
	ctx := context.Background()

	payment, err := svc.CreateIntent(ctx, &CreateIntentRequest{
		Amount:   decimal.NewFromInt(30),
		Currency: "usd",
	})
	require.NoError(t, err)

	first, err := svc.CancelIntent(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCanceled, first.Status)

	second, err := svc.CancelIntent(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCanceled, second.Status)

	assert.Equal(t, 2, gw.cancelCalls)
	assert.Equal(t, 1, st.statusUpdates, "second cancel must not rewrite the record")
}

func TestTerminalStatusAbsorbsLaterTransitions(t *testing.T) {
	svc, st, _ := newTestPaymentService()
	ctx := context.Background()

	key := st.seedPayment(models.PaymentRecord{
		Amount:           decimal.NewFromInt(10),
		Currency:         "usd",
		Status:           models.PaymentStatusSucceeded,
		GatewayPaymentID: "pi_done",
	})

	err := svc.ApplyStatusByGatewayID(ctx, "pi_done", models.PaymentStatusFailed)
	require.NoError(t, err)

	got, err := svc.GetIntent(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
	assert.Zero(t, st.statusUpdates)
}

func TestApplyStatusByGatewayID(t *testing.T) {
	svc, st, _ := newTestPaymentService()
	ctx := context.Background()

	key := st.seedPayment(models.PaymentRecord{
		Amount:           decimal.NewFromInt(10),
		Currency:         "usd",
		Status:           models.PaymentStatusPending,
		GatewayPaymentID: "pi_async",
	})

	err := svc.ApplyStatusByGatewayID(ctx, "pi_async", models.PaymentStatusSucceeded)
	require.NoError(t, err)

	got, err := svc.GetIntent(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
}

func TestApplyStatusOrphanIsBenign(t *testing.T) {
	svc, st, _ := newTestPaymentService()

	err := svc.ApplyStatusByGatewayID(context.Background(), "pi_unknown", models.PaymentStatusSucceeded)
	assert.NoError(t, err)
	assert.Zero(t, st.statusUpdates)
}

func TestRacingPathsConvergeRegardlessOfOrder(t *testing.T) {
	// a confirmIntent API call and a succeeded event for the same payment
	// may race; both orders must land on the same final state
	ctx := context.Background()

	t.Run("api first", func(t *testing.T) {
		svc, _, gw := newTestPaymentService()
		gw.confirmStatus = "succeeded"

		payment, err := svc.CreateIntent(ctx, &CreateIntentRequest{
			Amount: decimal.NewFromInt(10), Currency: "usd",
		})
		require.NoError(t, err)

		_, err = svc.ConfirmIntent(ctx, payment.ID, "")
		require.NoError(t, err)
		require.NoError(t, svc.ApplyStatusByGatewayID(ctx, payment.GatewayPaymentID, models.PaymentStatusSucceeded))

		got, err := svc.GetIntent(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
	})

	t.Run("event first", func(t *testing.T) {
		svc, _, gw := newTestPaymentService()
		gw.confirmStatus = "succeeded"

		payment, err := svc.CreateIntent(ctx, &CreateIntentRequest{
			Amount: decimal.NewFromInt(10), Currency: "usd",
		})
		require.NoError(t, err)

		require.NoError(t, svc.ApplyStatusByGatewayID(ctx, payment.GatewayPaymentID, models.PaymentStatusSucceeded))
		got, err := svc.ConfirmIntent(ctx, payment.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSucceeded, got.Status)
	})
}

func TestListByCustomerMostRecentFirst(t *testing.T) {
	svc, st, _ := newTestPaymentService()

	older := st.seedPayment(models.PaymentRecord{
		Amount: decimal.NewFromInt(1), Currency: "usd",
		Status: models.PaymentStatusPending, CustomerID: "cust-1",
		CreatedAt: time.Now().Add(-time.Hour),
	})
	newer := st.seedPayment(models.PaymentRecord{
		Amount: decimal.NewFromInt(2), Currency: "usd",
		Status: models.PaymentStatusPending, CustomerID: "cust-1",
		CreatedAt: time.Now(),
	})
	st.seedPayment(models.PaymentRecord{
		Amount: decimal.NewFromInt(3), Currency: "usd",
		Status: models.PaymentStatusPending, CustomerID: "cust-2",
	})

	payments, err := svc.ListByCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, newer, payments[0].ID)
	assert.Equal(t, older, payments[1].ID)
}
