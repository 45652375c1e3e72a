package repository

import (
	"time"

	"github.com/guildworks/membergate/app/models"
	"gorm.io/gorm"
)

type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository creates an application repository backed by GORM.
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

func (r *applicationRepository) Create(app *models.Application) error {
	return r.db.Create(app).Error
}

func (r *applicationRepository) GetByID(id uint) (*models.Application, error) {
	var app models.Application
	if err := r.db.First(&app, id).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *applicationRepository) GetByUUID(uuid string) (*models.Application, error) {
	var app models.Application
	if err := r.db.Where("uuid = ?", uuid).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *applicationRepository) GetByDiscordUserID(discordUserID string) (*models.Application, error) {
	var app models.Application
	if err := r.db.Where("discord_user_id = ?", discordUserID).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

func (r *applicationRepository) SetStatus(id uint, status, reviewerID string) error {
	now := time.Now()
	return r.db.Model(&models.Application{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"reviewer_id": reviewerID,
		"reviewed_at": &now,
	}).Error
}

func (r *applicationRepository) Reopen(id uint) error {
	return r.db.Model(&models.Application{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      models.ApplicationStatusPending,
		"reviewer_id": "",
		"reviewed_at": nil,
	}).Error
}

func (r *applicationRepository) List(offset, limit int) ([]models.Application, error) {
	var apps []models.Application
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&apps).Error
	return apps, err
}

func (r *applicationRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Application{}).Where("status = ?", status).Count(&count).Error
	return count, err
}
