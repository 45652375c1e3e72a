package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/guildworks/membergate/app/models"
	"github.com/guildworks/membergate/app/repository"
	"gorm.io/gorm"
)

// Service provides the durable billing-state writes shared by webhooks,
// reconciliation and the join flow. Every write is idempotent by its own
// unique key, so a retried or redelivered operation converges to the same
// end state.
type Service struct {
	customers repository.CustomerRepository
	subs      repository.SubscriptionRepository
	events    repository.WebhookEventRepository
}

// NewService creates a billing service from injected repositories.
func NewService(customers repository.CustomerRepository, subs repository.SubscriptionRepository, events repository.WebhookEventRepository) *Service {
	return &Service{customers: customers, subs: subs, events: events}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	repos := repository.NewRepositories(db)
	return NewService(repos.Customer, repos.Subscription, repos.WebhookEvent)
}

// UpsertCustomer creates or updates the billing link for a Discord identity.
func (s *Service) UpsertCustomer(ctx context.Context, in CustomerInput) (*models.Customer, error) {
	_ = ctx
	discordUserID := strings.TrimSpace(in.DiscordUserID)
	stripeCustomerID := strings.TrimSpace(in.StripeCustomerID)
	if discordUserID == "" || stripeCustomerID == "" {
		return nil, errors.New("discord_user_id and stripe_customer_id are required")
	}

	customer := &models.Customer{
		DiscordUserID:    discordUserID,
		StripeCustomerID: stripeCustomerID,
		Email:            strings.TrimSpace(in.Email),
	}
	if err := s.customers.UpsertByDiscordUserID(customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// UpsertSubscription writes the latest provider subscription state in place.
func (s *Service) UpsertSubscription(ctx context.Context, in SubscriptionInput) (*models.Subscription, error) {
	_ = ctx
	stripeSubscriptionID := strings.TrimSpace(in.StripeSubscriptionID)
	if in.CustomerID == 0 || stripeSubscriptionID == "" {
		return nil, errors.New("customer_id and stripe_subscription_id are required")
	}

	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = models.SubscriptionStatusIncomplete
	}

	sub := &models.Subscription{
		CustomerID:           in.CustomerID,
		StripeSubscriptionID: stripeSubscriptionID,
		Status:               status,
		CurrentPeriodStart:   in.CurrentPeriodStart,
		CurrentPeriodEnd:     in.CurrentPeriodEnd,
		CancelAtPeriodEnd:    in.CancelAtPeriodEnd,
		CanceledAt:           in.CanceledAt,
		RawPayloadJSON:       in.RawPayloadJSON,
	}
	if err := s.subs.Upsert(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RecordWebhookEvent persists a webhook occurrence idempotently. The boolean
// result reports whether this delivery was the first one for the event id.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.ProcessedWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.ProcessedWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.events.CreateIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.events.MarkProcessed(webhookEventID, errMsg)
}
