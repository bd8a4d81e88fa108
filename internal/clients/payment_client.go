package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const (
	HeaderIdempotencyKey = "X-Idempotency-Key"

	opCreatePreference = "create_preference"
	opGetPayment       = "get_payment"

	autoReturnApproved = "approved"
	defaultCurrency    = "BRL"
)

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req *PreferenceRequest) (*models.Preference, error)
	// GetPayment returns the authoritative payment record. A payment the
	// provider does not know yields errors.ErrNotFound.
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
}

// Ensure HTTPPaymentClient implements PaymentGateway
var _ PaymentGateway = (*HTTPPaymentClient)(nil)

// PreferenceRequest is everything the gateway needs to open a hosted checkout.
type PreferenceRequest struct {
	Items             []models.PreferenceItem
	Payer             models.Payer
	ExternalReference string
	BackURLs          models.BackURLs
	NotificationURL   string
	IdempotencyKey    string
}

type preferenceItemBody struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	CurrencyID  string  `json:"currency_id"`
}

type payerBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone *struct {
		Number string `json:"number"`
	} `json:"phone,omitempty"`
}

type preferenceBody struct {
	Items             []preferenceItemBody `json:"items"`
	Payer             payerBody            `json:"payer"`
	BackURLs          models.BackURLs      `json:"back_urls"`
	AutoReturn        string               `json:"auto_return"`
	NotificationURL   string               `json:"notification_url,omitempty"`
	ExternalReference string               `json:"external_reference,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// HTTPPaymentClient implements PaymentGateway against a Mercado Pago style REST API.
type HTTPPaymentClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *logging.LoggerV2
}

// NewHTTPPaymentClient creates a new HTTP-based payment gateway client.
func NewHTTPPaymentClient(cfg config.GatewayConfig, logger *logging.LoggerV2) *HTTPPaymentClient {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPPaymentClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// CreatePreference opens a hosted checkout session and returns its redirect URL.
func (c *HTTPPaymentClient) CreatePreference(ctx context.Context, req *PreferenceRequest) (*models.Preference, error) {
	if c.accessToken == "" {
		return nil, &errors.GatewayConfigError{Setting: "GATEWAY_ACCESS_TOKEN"}
	}

	c.logger.Debug("Creating payment preference", logging.Fields{
		"items":              len(req.Items),
		"external_reference": req.ExternalReference,
	})

	body, err := json.Marshal(buildPreferenceBody(req))
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(ctx, httpReq)

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	httpReq.Header.Set(HeaderIdempotencyKey, idempotencyKey)

	resp, err := c.do(ctx, opCreatePreference, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("Preference request returned error", logging.Fields{
			"status_code": resp.StatusCode,
			"body":        readSnippet(resp.Body),
		})
		return nil, &errors.GatewayCallError{Op: opCreatePreference, StatusCode: resp.StatusCode}
	}

	var result preferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &errors.GatewayCallError{Op: opCreatePreference, Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.InitPoint == "" {
		return nil, &errors.GatewayCallError{Op: opCreatePreference, Err: errors.New("response has no init_point")}
	}

	c.logger.Info("Payment preference created", logging.Fields{
		"preference_id":      result.ID,
		"external_reference": req.ExternalReference,
	})

	return &models.Preference{ID: result.ID, InitPoint: result.InitPoint}, nil
}

// GetPayment retrieves the authoritative status of a payment.
func (c *HTTPPaymentClient) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	if c.accessToken == "" {
		return nil, &errors.GatewayConfigError{Setting: "GATEWAY_ACCESS_TOKEN"}
	}

	c.logger.Debug("Getting payment", logging.Fields{"payment_id": paymentID})

	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(paymentID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(ctx, httpReq)

	resp, err := c.do(ctx, opGetPayment, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Payment lookup returned error", logging.Fields{
			"payment_id":  paymentID,
			"status_code": resp.StatusCode,
		})
		return nil, &errors.GatewayCallError{Op: opGetPayment, StatusCode: resp.StatusCode}
	}

	var payment models.Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, &errors.GatewayCallError{Op: opGetPayment, Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.Debug("Payment fetched", logging.Fields{
		"payment_id": payment.ID,
		"status":     payment.Status,
	})

	return &payment, nil
}

// do waits for the rate limiter, sends the request and records the call.
func (c *HTTPPaymentClient) do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "rate_limited").Inc()
		return nil, &errors.GatewayCallError{Op: op, Err: err}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "error").Inc()
		c.logger.Error("Gateway request failed", logging.Fields{
			"op":    op,
			"error": err.Error(),
		})
		return nil, &errors.GatewayCallError{Op: op, Err: err}
	}

	metrics.GatewayRequests.WithLabelValues(op, metrics.StatusClass(resp.StatusCode)).Inc()
	return resp, nil
}

func (c *HTTPPaymentClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
}

func buildPreferenceBody(req *PreferenceRequest) preferenceBody {
	items := make([]preferenceItemBody, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, preferenceItemBody{
			ID:          item.ID,
			Title:       item.Name,
			Description: item.Variation,
			Quantity:    item.Quantity,
			UnitPrice:   item.Price.InexactFloat64(),
			CurrencyID:  defaultCurrency,
		})
	}

	payer := payerBody{Name: req.Payer.Name, Email: req.Payer.Email}
	if req.Payer.Phone != "" {
		payer.Phone = &struct {
			Number string `json:"number"`
		}{Number: req.Payer.Phone}
	}

	return preferenceBody{
		Items:             items,
		Payer:             payer,
		BackURLs:          req.BackURLs,
		AutoReturn:        autoReturnApproved,
		NotificationURL:   req.NotificationURL,
		ExternalReference: req.ExternalReference,
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
