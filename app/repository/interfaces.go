package repository

import (
	"github.com/guildworks/membergate/app/models"
	"gorm.io/gorm"
)

// ApplicationRepository defines the interface for membership application operations
type ApplicationRepository interface {
	Create(app *models.Application) error
	GetByID(id uint) (*models.Application, error)
	GetByUUID(uuid string) (*models.Application, error)
	GetByDiscordUserID(discordUserID string) (*models.Application, error)
	SetStatus(id uint, status, reviewerID string) error
	Reopen(id uint) error
	List(offset, limit int) ([]models.Application, error)
	CountByStatus(status string) (int64, error)
}

// CustomerRepository defines the interface for billing customer operations.
// UpsertByDiscordUserID is keyed on the identity's unique index, making the
// idempotency contract explicit: a replayed write converges to one row.
type CustomerRepository interface {
	UpsertByDiscordUserID(customer *models.Customer) error
	GetByID(id uint) (*models.Customer, error)
	GetByDiscordUserID(discordUserID string) (*models.Customer, error)
	GetByStripeCustomerID(stripeCustomerID string) (*models.Customer, error)
}

// SubscriptionRepository defines the interface for subscription mirror rows.
// Upsert is keyed on the unique stripe_subscription_id.
type SubscriptionRepository interface {
	Upsert(sub *models.Subscription) error
	GetByStripeSubscriptionID(stripeSubscriptionID string) (*models.Subscription, error)
	GetLatestByCustomerID(customerID uint) (*models.Subscription, error)
	ListByStatuses(statuses []string) ([]models.Subscription, error)
}

// WebhookEventRepository defines the interface for the idempotency ledger.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.ProcessedWebhookEvent) (bool, *models.ProcessedWebhookEvent, error)
	MarkProcessed(id uint, processingError string) error
}

// RoleSyncEventRepository defines the interface for the role mutation audit log.
type RoleSyncEventRepository interface {
	Create(event *models.RoleSyncEvent) error
	ListByDiscordUserID(discordUserID string, limit int) ([]models.RoleSyncEvent, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Application  ApplicationRepository
	Customer     CustomerRepository
	Subscription SubscriptionRepository
	WebhookEvent WebhookEventRepository
	RoleSync     RoleSyncEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Application:  NewApplicationRepository(db),
		Customer:     NewCustomerRepository(db),
		Subscription: NewSubscriptionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
		RoleSync:     NewRoleSyncEventRepository(db),
	}
}
