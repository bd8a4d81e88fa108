package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

func paymentNotification(paymentID string) *models.PaymentNotification {
	n := &models.PaymentNotification{Type: models.NotificationTypePayment, Action: "payment.updated"}
	n.Data.ID = models.NotificationID(paymentID)
	return n
}

func createPendingOrder(t *testing.T, env *testEnv, paymentID string) *models.Order {
	t.Helper()
	order, err := env.orders.CreateOrder(context.Background(), &models.CreateOrderRequest{
		UserID:    "user_1",
		UserEmail: "ana@example.com",
		Customer:  models.Customer{Name: "Ana", Phone: "11999990000", Address: "Rua A", Number: "10"},
		Items: []models.LineItem{
			{ProductID: "prod_1", Name: "Camiseta", Price: decimal.RequireFromString("49.90"), Quantity: 1},
		},
		TotalAmount: decimal.RequireFromString("49.90"),
		PaymentID:   paymentID,
	})
	require.NoError(t, err)
	return order
}

func TestHandleNotification_ApprovesMatchingOrder(t *testing.T) {
	env := newTestEnv()
	order := createPendingOrder(t, env, "123456")
	env.gateway.setStatus("123456", "approved")

	result, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, order.ID, result.OrderID)
	assert.Equal(t, "approved", result.GatewayStatus)

	stored, err := env.repo.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusApproved, stored.PaymentStatus)
	assert.Equal(t, "49.90", stored.TotalAmount.StringFixed(2))

	approved := 0
	for _, status := range env.repo.snapshot() {
		if status == models.PaymentStatusApproved {
			approved++
		}
	}
	assert.Equal(t, 1, approved)

	require.Len(t, env.publisher.changed, 1)
	assert.Equal(t, statusEvent{order.ID, models.PaymentStatusPending, models.PaymentStatusApproved, SourceWebhook}, env.publisher.changed[0])
	assert.Equal(t, models.OutcomeApplied, env.deduper.marks["123456"])
}

func TestHandleNotification_RedeliveryIsIdempotent(t *testing.T) {
	tests := []struct {
		name         string
		dedup        bool
		secondResult models.ReconcileOutcome
		gatewayCalls int
	}{
		{"with dedup", true, models.OutcomeDuplicate, 1},
		{"without dedup", false, models.OutcomeAlreadyApplied, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(func(c *config.Config) { c.Features.EnableWebhookDedup = tt.dedup })
			createPendingOrder(t, env, "123456")
			env.gateway.setStatus("123456", "approved")

			first, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
			require.NoError(t, err)
			afterFirst := env.repo.snapshot()

			second, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
			require.NoError(t, err)

			assert.Equal(t, models.OutcomeApplied, first.Outcome)
			assert.Equal(t, tt.secondResult, second.Outcome)
			assert.Equal(t, afterFirst, env.repo.snapshot())
			assert.Equal(t, 1, env.publisher.changeCount())
			assert.Equal(t, tt.gatewayCalls, env.gateway.callCount())
		})
	}
}

func TestHandleNotification_UnknownPaymentLeavesOrdersUnchanged(t *testing.T) {
	env := newTestEnv()
	createPendingOrder(t, env, "123456")
	createPendingOrder(t, env, "")
	before := env.repo.snapshot()

	env.gateway.setStatus("999999", "approved")

	result, err := env.payments.HandleNotification(context.Background(), paymentNotification("999999"), SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnmatched, result.Outcome)

	result, err = env.payments.HandleNotification(context.Background(), paymentNotification("000000"), SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnknownPayment, result.Outcome)

	assert.Equal(t, before, env.repo.snapshot())
	assert.Empty(t, env.publisher.changed)
	assert.Empty(t, env.deduper.marks)
}

func TestHandleNotification_IgnoresOtherEventTypes(t *testing.T) {
	env := newTestEnv()
	createPendingOrder(t, env, "123456")

	tests := []*models.PaymentNotification{
		{Type: "merchant_order"},
		{Type: "plan"},
		{Type: ""},
		paymentNotification(""),
	}
	tests[0].Data.ID = "123456"

	for _, n := range tests {
		result, err := env.payments.HandleNotification(context.Background(), n, SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeIgnored, result.Outcome)
	}

	assert.Equal(t, 0, env.gateway.callCount())
}

func TestHandleNotification_InProcessKeepsPending(t *testing.T) {
	for _, gatewayStatus := range []string{"in_process", "pending", "authorized", "refunded"} {
		t.Run(gatewayStatus, func(t *testing.T) {
			env := newTestEnv()
			order := createPendingOrder(t, env, "123456")
			env.gateway.setStatus("123456", gatewayStatus)

			result, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
			require.NoError(t, err)

			assert.Equal(t, models.OutcomeNoChange, result.Outcome)
			assert.Equal(t, gatewayStatus, result.GatewayStatus)
			assert.Equal(t, order.ID, result.OrderID)
			assert.Equal(t, models.PaymentStatusPending, result.PaymentStatus)
			assert.Equal(t, models.PaymentStatusPending, env.repo.snapshot()[order.ID])
			assert.Empty(t, env.deduper.marks)
		})
	}
}

func TestHandleNotification_ContradictoryStatusIsRefused(t *testing.T) {
	env := newTestEnv(func(c *config.Config) { c.Features.EnableWebhookDedup = false })
	order := createPendingOrder(t, env, "123456")

	env.gateway.setStatus("123456", "approved")
	_, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
	require.NoError(t, err)

	env.gateway.setStatus("123456", "rejected")
	result, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeConflict, result.Outcome)
	assert.Equal(t, order.ID, result.OrderID)
	assert.Equal(t, models.PaymentStatusApproved, result.PaymentStatus)
	assert.Equal(t, models.PaymentStatusApproved, env.repo.snapshot()[order.ID])
}

func TestHandleNotification_GatewayFailureIsRetryable(t *testing.T) {
	env := newTestEnv()
	order := createPendingOrder(t, env, "123456")
	env.gateway.err = &errors.GatewayCallError{Op: "get_payment", StatusCode: 503}

	_, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)

	require.Error(t, err)
	assert.True(t, errors.Retryable(err))
	assert.Equal(t, models.PaymentStatusPending, env.repo.snapshot()[order.ID])
	assert.Empty(t, env.deduper.marks)
}

func TestHandleNotification_StoreFailureIsReturned(t *testing.T) {
	env := newTestEnv()
	createPendingOrder(t, env, "123456")
	env.gateway.setStatus("123456", "approved")
	env.repo.failErr = errors.New("connection refused")

	_, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
	assert.EqualError(t, err, "connection refused")
}

func TestHandleNotification_DedupLookupFailsOpen(t *testing.T) {
	env := newTestEnv()
	order := createPendingOrder(t, env, "123456")
	env.gateway.setStatus("123456", "approved")
	env.deduper.seenErr = errors.New("redis down")

	result, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeApplied, result.Outcome)
	assert.Equal(t, models.PaymentStatusApproved, env.repo.snapshot()[order.ID])
}

func TestHandleNotification_ConcurrentDeliveriesConverge(t *testing.T) {
	env := newTestEnv(func(c *config.Config) { c.Features.EnableWebhookDedup = false })
	order := createPendingOrder(t, env, "123456")
	env.gateway.setStatus("123456", "approved")

	var wg sync.WaitGroup
	outcomes := make(chan models.ReconcileOutcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.payments.HandleNotification(context.Background(), paymentNotification("123456"), SourceWebhook)
			if err == nil {
				outcomes <- result.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[models.ReconcileOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}

	assert.Equal(t, 1, counts[models.OutcomeApplied])
	assert.Equal(t, 9, counts[models.OutcomeAlreadyApplied])
	assert.Equal(t, models.PaymentStatusApproved, env.repo.snapshot()[order.ID])
	assert.Equal(t, 1, env.publisher.changeCount())
}

func TestReconcile_BypassesDedup(t *testing.T) {
	env := newTestEnv()
	createPendingOrder(t, env, "123456")
	env.gateway.setStatus("123456", "approved")
	env.deduper.marks["123456"] = models.OutcomeApplied

	result, err := env.payments.Reconcile(context.Background(), "123456", SourceAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeApplied, result.Outcome)
}

func TestReconcile_RejectsInvalidPaymentID(t *testing.T) {
	env := newTestEnv()

	_, err := env.payments.Reconcile(context.Background(), "../orders", SourceCLI)

	var validationErr *errors.ValidationError
	assert.True(t, errors.As(err, &validationErr))
	assert.Equal(t, 0, env.gateway.callCount())
}

func TestCreatePreference(t *testing.T) {
	env := newTestEnv()
	order := createPendingOrder(t, env, "")

	req := &models.CreatePreferenceRequest{
		OrderID: order.ID,
		Items: []models.PreferenceItem{
			{ID: "prod_1", Name: "Camiseta", Price: decimal.RequireFromString("49.90"), Quantity: 1},
		},
		Payer: models.Payer{Name: "Ana", Email: "ana@example.com"},
	}

	pref, err := env.payments.CreatePreference(context.Background(), req, "https://shop.example.com", "idem-1")
	require.NoError(t, err)

	assert.Equal(t, "pref_1", pref.ID)
	sent := env.gateway.lastPref
	assert.Equal(t, order.ID, sent.ExternalReference)
	assert.Equal(t, "idem-1", sent.IdempotencyKey)
	assert.Equal(t, "https://shop.example.com/payment-success", sent.BackURLs.Success)
	assert.Equal(t, "https://shop.example.com/payment-failure", sent.BackURLs.Failure)
	assert.Equal(t, "https://shop.example.com/payment-pending", sent.BackURLs.Pending)
	assert.Equal(t, "https://shop.example.com/api/payments/webhook", sent.NotificationURL)

	assert.Equal(t, models.PaymentStatusPending, env.repo.snapshot()[order.ID])
}

func TestCreatePreference_PublicBaseURLWins(t *testing.T) {
	env := newTestEnv(func(c *config.Config) { c.Checkout.PublicBaseURL = "https://loja.example.com" })

	_, err := env.payments.CreatePreference(context.Background(), &models.CreatePreferenceRequest{
		Items: []models.PreferenceItem{{Name: "Camiseta", Price: decimal.NewFromInt(10), Quantity: 1}},
		Payer: models.Payer{Email: "ana@example.com"},
	}, "http://internal:8082", "")
	require.NoError(t, err)

	assert.Equal(t, "https://loja.example.com/api/payments/webhook", env.gateway.lastPref.NotificationURL)
}

func TestCreatePreference_Errors(t *testing.T) {
	validItems := []models.PreferenceItem{{Name: "Camiseta", Price: decimal.NewFromInt(10), Quantity: 1}}
	payer := models.Payer{Email: "ana@example.com"}

	t.Run("no items", func(t *testing.T) {
		env := newTestEnv()
		_, err := env.payments.CreatePreference(context.Background(), &models.CreatePreferenceRequest{Payer: payer}, "https://shop", "")
		var validationErr *errors.ValidationError
		assert.True(t, errors.As(err, &validationErr))
		assert.Equal(t, 0, env.gateway.callCount())
	})

	t.Run("no base url", func(t *testing.T) {
		env := newTestEnv()
		_, err := env.payments.CreatePreference(context.Background(), &models.CreatePreferenceRequest{Items: validItems, Payer: payer}, "", "")
		var cfgErr *errors.GatewayConfigError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("zero quantity", func(t *testing.T) {
		env := newTestEnv()
		items := []models.PreferenceItem{{Name: "Camiseta", Price: decimal.RequireFromString("49.90"), Quantity: 0}}
		_, err := env.payments.CreatePreference(context.Background(), &models.CreatePreferenceRequest{Items: items, Payer: payer}, "https://shop", "")
		var validationErr *errors.ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "items[0].quantity", validationErr.Field)
		assert.Equal(t, 0, env.gateway.callCount())
	})

	t.Run("unknown order", func(t *testing.T) {
		env := newTestEnv()
		_, err := env.payments.CreatePreference(context.Background(), &models.CreatePreferenceRequest{OrderID: "ord_missing", Items: validItems, Payer: payer}, "https://shop", "")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		assert.Equal(t, 0, env.gateway.callCount())
	})

	t.Run("gateway failure", func(t *testing.T) {
		env := newTestEnv()
		env.gateway.err = &errors.GatewayConfigError{Setting: "GATEWAY_ACCESS_TOKEN"}
		_, err := env.payments.CreatePreference(context.Background(), &models.CreatePreferenceRequest{Items: validItems, Payer: payer}, "https://shop", "")
		var cfgErr *errors.GatewayConfigError
		assert.True(t, errors.As(err, &cfgErr))
	})
}
