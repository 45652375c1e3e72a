package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/app/repository"
	"github.com/guildworks/membergate/internal/pkg/rolesync"
)

// ErrInvalidSignature rejects a webhook before any state mutation.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SubscriptionFetcher is the slice of the Stripe client the gateway needs to
// fill in fields the webhook payloads omit.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
}

// IdentitySyncer re-evaluates one identity's desired role state. Role sync is
// best-effort relative to the billing-state write: its failure is audited but
// does not fail the webhook acknowledgment.
type IdentitySyncer interface {
	SyncIdentity(ctx context.Context, discordUserID string) (rolesync.Outcome, error)
	RevokeIdentity(ctx context.Context, discordUserID string) (rolesync.Outcome, error)
}

// IngestResult describes how an accepted webhook was handled.
type IngestResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Ignored   bool
}

// Ingestor is the webhook entry point: verify the signature (fail closed),
// dedupe against the idempotency ledger, dispatch by event type, and mark
// the ledger row processed once the mutation is done. Only a row marked
// processed without error counts as handled; a redelivery of an event whose
// dispatch failed or crashed mid-flight runs the dispatch again, and the
// idempotent upserts plus the actuator's grant/revoke absorb any writes the
// earlier attempt already landed.
type Ingestor struct {
	svc       *Service
	customers repository.CustomerRepository
	stripe    SubscriptionFetcher
	syncer    IdentitySyncer

	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func NewIngestor(
	svc *Service,
	customers repository.CustomerRepository,
	stripe SubscriptionFetcher,
	syncer IdentitySyncer,
	webhookSecret string,
) *Ingestor {
	return &Ingestor{
		svc:           svc,
		customers:     customers,
		stripe:        stripe,
		syncer:        syncer,
		webhookSecret: webhookSecret,
		tolerance:     DefaultSignatureTolerance,
		now:           time.Now,
	}
}

// WithNow overrides the clock. Used by tests for signature tolerance checks.
func (i *Ingestor) WithNow(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// ProcessRaw handles one webhook delivery end to end.
func (i *Ingestor) ProcessRaw(ctx context.Context, payload []byte, signatureHeader string) (*IngestResult, error) {
	if !VerifyStripeWebhookSignature(payload, signatureHeader, i.webhookSecret, i.tolerance, i.now()) {
		return nil, ErrInvalidSignature
	}

	event, err := ParseWebhookEvent(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook payload parse failed: %w", err)
	}

	created, stored, err := i.svc.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("webhook ledger write failed: %w", err)
	}

	result := &IngestResult{EventID: stored.ProviderEventID, EventType: event.Type}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			// Redelivery of an already-handled event is success, not an error.
			result.Duplicate = true
			return result, nil
		}
		// The earlier delivery crashed before the mark, or its dispatch
		// failed. Dispatch again so redelivery can land the mutation; the
		// idempotent upserts and the actuator absorb anything that already
		// took effect.
	}

	ignored, dispatchErr := i.dispatch(ctx, event, string(payload))
	result.Ignored = ignored

	if markErr := i.svc.MarkWebhookProcessed(ctx, stored.ID, dispatchErr); markErr != nil {
		log.Errorf("[Billing] failed to mark webhook %s processed: %v", stored.ProviderEventID, markErr)
	}
	if dispatchErr != nil {
		return result, dispatchErr
	}
	return result, nil
}

func (i *Ingestor) dispatch(ctx context.Context, event *WebhookEvent, rawPayload string) (ignored bool, err error) {
	switch {
	case event.Checkout != nil:
		return i.handleCheckoutCompleted(ctx, event.Checkout)
	case event.Invoice != nil:
		return i.handleInvoicePaid(ctx, event.Invoice)
	case event.Subscription != nil && event.Type == EventTypeSubscriptionDeleted:
		return i.handleSubscriptionDeleted(ctx, event.Subscription, rawPayload)
	case event.Subscription != nil:
		return i.handleSubscriptionUpdated(ctx, event.Subscription, rawPayload)
	default:
		// Forward compatible: accept and ignore unrecognized event types.
		return true, nil
	}
}

func (i *Ingestor) handleCheckoutCompleted(ctx context.Context, checkout *CheckoutSessionEvent) (bool, error) {
	if checkout.ClientReferenceID == "" {
		// Checkout was not initiated through the portal; nothing to link.
		return true, nil
	}

	customer, err := i.svc.UpsertCustomer(ctx, CustomerInput{
		DiscordUserID:    checkout.ClientReferenceID,
		StripeCustomerID: checkout.CustomerID,
		Email:            checkout.CustomerEmail,
	})
	if err != nil {
		return false, err
	}

	if checkout.SubscriptionID != "" {
		sub, err := i.stripe.GetSubscription(ctx, checkout.SubscriptionID)
		if err != nil {
			return false, fmt.Errorf("subscription lookup after checkout failed: %w", err)
		}
		if _, err := i.svc.UpsertSubscription(ctx, subscriptionInputFromStripe(customer.ID, sub, "")); err != nil {
			return false, err
		}
	}

	i.syncRole(ctx, customer.DiscordUserID)
	return false, nil
}

func (i *Ingestor) handleInvoicePaid(ctx context.Context, invoice *InvoicePaidEvent) (bool, error) {
	customer, err := i.customers.GetByStripeCustomerID(invoice.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Billing customer never linked to a portal identity.
			return true, nil
		}
		return false, err
	}

	// Renewal moved the paid-through period; refresh the mirror so the
	// decision engine sees the new period end.
	if invoice.SubscriptionID != "" {
		sub, err := i.stripe.GetSubscription(ctx, invoice.SubscriptionID)
		if err != nil {
			return false, fmt.Errorf("subscription refresh after invoice failed: %w", err)
		}
		if _, err := i.svc.UpsertSubscription(ctx, subscriptionInputFromStripe(customer.ID, sub, "")); err != nil {
			return false, err
		}
	}

	i.syncRole(ctx, customer.DiscordUserID)
	return false, nil
}

func (i *Ingestor) handleSubscriptionUpdated(ctx context.Context, change *SubscriptionChangeEvent, rawPayload string) (bool, error) {
	customer, err := i.customers.GetByStripeCustomerID(change.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, err
	}

	if _, err := i.svc.UpsertSubscription(ctx, subscriptionInputFromChange(customer.ID, change, rawPayload)); err != nil {
		return false, err
	}

	i.syncRole(ctx, customer.DiscordUserID)
	return false, nil
}

func (i *Ingestor) handleSubscriptionDeleted(ctx context.Context, change *SubscriptionChangeEvent, rawPayload string) (bool, error) {
	customer, err := i.customers.GetByStripeCustomerID(change.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		return false, err
	}

	in := subscriptionInputFromChange(customer.ID, change, rawPayload)
	if in.Status == "" {
		in.Status = models.SubscriptionStatusCanceled
	}
	if _, err := i.svc.UpsertSubscription(ctx, in); err != nil {
		return false, err
	}

	// The provider considers the relationship terminated: revoke without
	// consulting the decision engine's grace period.
	if _, err := i.syncer.RevokeIdentity(ctx, customer.DiscordUserID); err != nil {
		log.Warnf("[Billing] role revoke for %s failed: %v", customer.DiscordUserID, err)
	}
	return false, nil
}

// syncRole re-runs decision + actuator for the identity. Failures are audited
// by the actuator and logged, but never fail the webhook: the billing-state
// write (the source of truth) already succeeded.
func (i *Ingestor) syncRole(ctx context.Context, discordUserID string) {
	if _, err := i.syncer.SyncIdentity(ctx, discordUserID); err != nil {
		log.Warnf("[Billing] role sync for %s failed: %v", discordUserID, err)
	}
}

func subscriptionInputFromStripe(customerID uint, sub *StripeSubscription, rawPayload string) SubscriptionInput {
	return SubscriptionInput{
		CustomerID:           customerID,
		StripeSubscriptionID: sub.ID,
		Status:               sub.Status,
		CurrentPeriodStart:   unixToTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixToTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           unixToTime(sub.CanceledAt),
		RawPayloadJSON:       rawPayload,
	}
}

func subscriptionInputFromChange(customerID uint, change *SubscriptionChangeEvent, rawPayload string) SubscriptionInput {
	return SubscriptionInput{
		CustomerID:           customerID,
		StripeSubscriptionID: change.SubscriptionID,
		Status:               change.Status,
		CurrentPeriodStart:   unixToTime(change.CurrentPeriodStart),
		CurrentPeriodEnd:     unixToTime(change.CurrentPeriodEnd),
		CancelAtPeriodEnd:    change.CancelAtPeriodEnd,
		CanceledAt:           unixToTime(change.CanceledAt),
		RawPayloadJSON:       rawPayload,
	}
}

func unixToTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
