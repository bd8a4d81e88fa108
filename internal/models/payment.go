package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the order's payment state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// allowedTransitions lists, for each status, the statuses it may move to.
// Approved and rejected are terminal.
var allowedTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentStatusPending:  {PaymentStatusApproved: true, PaymentStatusRejected: true},
	PaymentStatusApproved: {},
	PaymentStatusRejected: {},
}

// ParsePaymentStatus validates a status name.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown payment status %q", s)
	}
	return status, nil
}

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

// CanTransition reports whether from -> to is in the transition table.
// Staying in the same status is not a transition.
func CanTransition(from, to PaymentStatus) bool {
	return allowedTransitions[from][to]
}

// TransitionSources returns every status that may move to target, in a stable order.
func TransitionSources(target PaymentStatus) []PaymentStatus {
	var sources []PaymentStatus
	for _, from := range []PaymentStatus{PaymentStatusPending, PaymentStatusApproved, PaymentStatusRejected} {
		if CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Gateway payment statuses as reported by GET /v1/payments/{id}.
const (
	GatewayStatusApproved    = "approved"
	GatewayStatusRejected    = "rejected"
	GatewayStatusPending     = "pending"
	GatewayStatusInProcess   = "in_process"
	GatewayStatusAuthorized  = "authorized"
	GatewayStatusCancelled   = "cancelled"
	GatewayStatusRefunded    = "refunded"
	GatewayStatusChargedBack = "charged_back"
	GatewayStatusInMediation = "in_mediation"
)

// PaymentStatusFromGateway maps a gateway status to an order status. Only approved
// and rejected map; every other gateway status leaves the order unchanged.
func PaymentStatusFromGateway(gatewayStatus string) (PaymentStatus, bool) {
	switch gatewayStatus {
	case GatewayStatusApproved:
		return PaymentStatusApproved, true
	case GatewayStatusRejected:
		return PaymentStatusRejected, true
	default:
		return "", false
	}
}

// Payment is the authoritative payment record fetched from the gateway.
type Payment struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail,omitempty"`
	ExternalReference string          `json:"external_reference,omitempty"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
}

// UnmarshalJSON accepts the gateway's numeric payment ids.
func (p *Payment) UnmarshalJSON(data []byte) error {
	type alias Payment
	aux := struct {
		ID NotificationID `json:"id"`
		*alias
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.ID = string(aux.ID)
	return nil
}

// NotificationTypePayment is the only notification kind that triggers reconciliation.
const NotificationTypePayment = "payment"

// PaymentNotification is the webhook body sent by the gateway.
type PaymentNotification struct {
	ID     NotificationID `json:"id,omitempty"`
	Type   string         `json:"type"`
	Topic  string         `json:"topic,omitempty"`
	Action string         `json:"action,omitempty"`
	Data   struct {
		ID NotificationID `json:"id"`
	} `json:"data"`
}

// Kind returns the notification type, falling back to the legacy topic field.
func (n *PaymentNotification) Kind() string {
	if n.Type != "" {
		return n.Type
	}
	return n.Topic
}

// PaymentID returns the payment id the notification refers to, or "" when absent.
func (n *PaymentNotification) PaymentID() string {
	if n.Data.ID != "" {
		return string(n.Data.ID)
	}
	if n.Topic != "" {
		return string(n.ID)
	}
	return ""
}

// IsPayment reports whether the notification is a payment event.
func (n *PaymentNotification) IsPayment() bool {
	return n.Kind() == NotificationTypePayment
}

// NotificationID is an id the gateway may encode as a JSON string or number.
type NotificationID string

func (id *NotificationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NotificationID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	*id = NotificationID(n.String())
	return nil
}

// ReconcileOutcome names what reconciliation did with a notification.
type ReconcileOutcome string

const (
	OutcomeIgnored        ReconcileOutcome = "ignored"
	OutcomeDuplicate      ReconcileOutcome = "duplicate"
	OutcomeUnknownPayment ReconcileOutcome = "unknown_payment"
	OutcomeNoChange       ReconcileOutcome = "no_change"
	OutcomeUnmatched      ReconcileOutcome = "unmatched"
	OutcomeApplied        ReconcileOutcome = "applied"
	OutcomeAlreadyApplied ReconcileOutcome = "already_applied"
	OutcomeConflict       ReconcileOutcome = "conflict"
)

// ReconcileResult is returned to the webhook caller and the CLI.
type ReconcileResult struct {
	PaymentID     string           `json:"payment_id,omitempty"`
	Outcome       ReconcileOutcome `json:"outcome"`
	GatewayStatus string           `json:"gateway_status,omitempty"`
	OrderID       string           `json:"order_id,omitempty"`
	PaymentStatus PaymentStatus    `json:"payment_status,omitempty"`
}

// Settled reports whether repeated deliveries of the same payment id can be skipped.
func (r *ReconcileResult) Settled() bool {
	return r.Outcome == OutcomeApplied || r.Outcome == OutcomeAlreadyApplied || r.Outcome == OutcomeConflict
}

// PreferenceItem is one entry in a checkout preference.
type PreferenceItem struct {
	ID        string          `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Variation string          `json:"variation,omitempty"`
}

// Payer is the shopper's contact info sent to the gateway.
type Payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// CreatePreferenceRequest is the client's checkout request.
type CreatePreferenceRequest struct {
	OrderID string           `json:"order_id,omitempty"`
	Items   []PreferenceItem `json:"items"`
	Payer   Payer            `json:"payer"`
}

// BackURLs are the hosted page's return targets.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// Preference is the gateway's answer to a preference creation.
type Preference struct {
	ID        string `json:"preference_id"`
	InitPoint string `json:"init_point"`
}
