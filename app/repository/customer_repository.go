package repository

import (
	"github.com/guildworks/membergate/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a customer repository backed by GORM.
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) UpsertByDiscordUserID(customer *models.Customer) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "discord_user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_customer_id",
			"email",
			"updated_at",
		}),
	}).Create(customer).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("discord_user_id = ?", customer.DiscordUserID).First(customer).Error
}

func (r *customerRepository) GetByID(id uint) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.First(&customer, id).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) GetByDiscordUserID(discordUserID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("discord_user_id = ?", discordUserID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) GetByStripeCustomerID(stripeCustomerID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}
