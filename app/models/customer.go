package models

import "time"

// Customer links a Discord identity to its Stripe billing account. Created
// lazily when the first checkout webhook for that identity arrives.
type Customer struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	DiscordUserID    string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"discord_user_id"`
	StripeCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_customer_id"`
	Email            string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
