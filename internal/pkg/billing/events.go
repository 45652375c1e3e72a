package billing

import (
	"encoding/json"
	"errors"
	"strings"
)

// Event types dispatched by the ingestion gateway. Anything else is accepted
// and ignored so the gateway stays forward compatible with the provider's
// evolving event catalog.
const (
	EventTypeCheckoutCompleted   = "checkout.session.completed"
	EventTypeInvoicePaid         = "invoice.paid"
	EventTypeSubscriptionUpdated = "customer.subscription.updated"
	EventTypeSubscriptionDeleted = "customer.subscription.deleted"
)

// CheckoutSessionEvent carries the fields the gateway needs from a completed
// checkout. ClientReferenceID holds the Discord user id the portal set when
// it created the session.
type CheckoutSessionEvent struct {
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	CustomerEmail     string
}

// InvoicePaidEvent identifies the customer whose renewal just settled.
type InvoicePaidEvent struct {
	CustomerID     string
	SubscriptionID string
}

// SubscriptionChangeEvent mirrors the subscription object embedded in
// customer.subscription.* events. Unix timestamps are zero when absent.
type SubscriptionChangeEvent struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CanceledAt         int64
}

// WebhookEvent is a closed tagged union over the event types the gateway
// understands. Exactly one of the pointer fields is set for a recognized
// type; all are nil for an unrecognized one (Unknown reports that case).
type WebhookEvent struct {
	ID   string
	Type string

	Checkout     *CheckoutSessionEvent
	Invoice      *InvoicePaidEvent
	Subscription *SubscriptionChangeEvent
}

// Unknown reports whether the event type is outside the handled catalog.
func (e *WebhookEvent) Unknown() bool {
	return e.Checkout == nil && e.Invoice == nil && e.Subscription == nil
}

// ParseWebhookEvent decodes a Stripe event envelope into the tagged union.
// Unrecognized event types parse successfully into the Unknown variant;
// recognized types with a malformed payload object are an error.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}

	out := &WebhookEvent{
		ID:   strings.TrimSpace(envelope.ID),
		Type: strings.TrimSpace(envelope.Type),
	}

	switch out.Type {
	case EventTypeCheckoutCompleted:
		var obj struct {
			ID                string `json:"id"`
			ClientReferenceID string `json:"client_reference_id"`
			Customer          string `json:"customer"`
			Subscription      string `json:"subscription"`
			CustomerDetails   struct {
				Email string `json:"email"`
			} `json:"customer_details"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, errors.New("checkout event payload missing session id")
		}
		out.Checkout = &CheckoutSessionEvent{
			SessionID:         obj.ID,
			ClientReferenceID: strings.TrimSpace(obj.ClientReferenceID),
			CustomerID:        strings.TrimSpace(obj.Customer),
			SubscriptionID:    strings.TrimSpace(obj.Subscription),
			CustomerEmail:     strings.TrimSpace(obj.CustomerDetails.Email),
		}
	case EventTypeInvoicePaid:
		var obj struct {
			Customer     string `json:"customer"`
			Subscription string `json:"subscription"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.Customer == "" {
			return nil, errors.New("invoice event payload missing customer id")
		}
		out.Invoice = &InvoicePaidEvent{
			CustomerID:     strings.TrimSpace(obj.Customer),
			SubscriptionID: strings.TrimSpace(obj.Subscription),
		}
	case EventTypeSubscriptionUpdated, EventTypeSubscriptionDeleted:
		var obj struct {
			ID                 string `json:"id"`
			Customer           string `json:"customer"`
			Status             string `json:"status"`
			CurrentPeriodStart int64  `json:"current_period_start"`
			CurrentPeriodEnd   int64  `json:"current_period_end"`
			CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
			CanceledAt         int64  `json:"canceled_at"`
		}
		if err := json.Unmarshal(envelope.Data.Object, &obj); err != nil {
			return nil, err
		}
		if obj.ID == "" {
			return nil, errors.New("subscription event payload missing subscription id")
		}
		out.Subscription = &SubscriptionChangeEvent{
			SubscriptionID:     strings.TrimSpace(obj.ID),
			CustomerID:         strings.TrimSpace(obj.Customer),
			Status:             strings.ToLower(strings.TrimSpace(obj.Status)),
			CurrentPeriodStart: obj.CurrentPeriodStart,
			CurrentPeriodEnd:   obj.CurrentPeriodEnd,
			CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
			CanceledAt:         obj.CanceledAt,
		}
	}

	return out, nil
}
