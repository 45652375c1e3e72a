package models

import "time"

const (
	RoleSyncActionAssign = "assign"
	RoleSyncActionRemove = "remove"
)

// RoleSyncEvent is an append-only audit row written for every terminal role
// mutation attempt against the Discord guild, successful or not.
type RoleSyncEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DiscordUserID string    `gorm:"type:varchar(32);not null;index" json:"discord_user_id"`
	RoleID        string    `gorm:"type:varchar(32);not null" json:"role_id"`
	Action        string    `gorm:"type:varchar(10);not null" json:"action"`
	Success       bool      `gorm:"default:false;index" json:"success"`
	ErrorDetail   string    `gorm:"type:text" json:"error_detail"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
