package repository

import (
	"github.com/guildworks/membergate/app/models"
	"gorm.io/gorm"
)

type roleSyncEventRepository struct {
	db *gorm.DB
}

// NewRoleSyncEventRepository creates an audit log repository backed by GORM.
func NewRoleSyncEventRepository(db *gorm.DB) RoleSyncEventRepository {
	return &roleSyncEventRepository{db: db}
}

func (r *roleSyncEventRepository) Create(event *models.RoleSyncEvent) error {
	return r.db.Create(event).Error
}

func (r *roleSyncEventRepository) ListByDiscordUserID(discordUserID string, limit int) ([]models.RoleSyncEvent, error) {
	var events []models.RoleSyncEvent
	err := r.db.Where("discord_user_id = ?", discordUserID).
		Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
