package billing

import "time"

// CustomerInput is the normalized shape used when linking a Discord identity
// to its Stripe customer.
type CustomerInput struct {
	DiscordUserID    string
	StripeCustomerID string
	Email            string
}

// SubscriptionInput is the provider-agnostic shape used by the billing
// service when syncing external subscription state into local tables.
type SubscriptionInput struct {
	CustomerID           uint
	StripeSubscriptionID string
	Status               string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	CanceledAt           *time.Time
	RawPayloadJSON       string
}

// WebhookEventInput is the normalized input for webhook ledger persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}
