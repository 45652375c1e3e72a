package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ApplicationStatusPending    = "pending"
	ApplicationStatusApproved   = "approved"
	ApplicationStatusRejected   = "rejected"
	ApplicationStatusWaitlisted = "waitlisted"
)

// Application is a membership application for one Discord identity. There is
// exactly one active record per discord_user_id; `approved` is the
// precondition for ever holding the member role.
type Application struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UUID            string     `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	DiscordUserID   string     `gorm:"type:varchar(32);not null;uniqueIndex" json:"discord_user_id" validate:"required,numeric,max=32"`
	DiscordUsername string     `gorm:"type:varchar(100);not null" json:"discord_username" validate:"required,min=2,max=100"`
	AnswersJSON     string     `gorm:"type:longtext" json:"answers_json"`
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending approved rejected waitlisted"`
	ReviewerID      string     `gorm:"type:varchar(32);default:''" json:"reviewer_id"`
	ReviewedAt      *time.Time `gorm:"type:timestamp;default:null" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a public UUID if none is set.
func (a *Application) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	return nil
}

func (a *Application) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// IsApproved reports whether the application passed human review.
func (a *Application) IsApproved() bool {
	return a.Status == ApplicationStatusApproved
}
