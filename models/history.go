package models

import (
	"time"

	"bitbucket.org/craftfocus/console_backend/utils"
	"gorm.io/gorm"
)

// History is one audit record per status transition.
type History struct {
	ID         int       `gorm:"primary_key" json:"id"`
	EntityType string    `gorm:"size:30;index:idx_history_entity,priority:1;not null" json:"entity_type"`
	EntityId   int       `gorm:"index:idx_history_entity,priority:2;not null" json:"entity_id"`
	FromStatus string    `gorm:"size:30" json:"from_status"`
	ToStatus   string    `gorm:"size:30;not null" json:"to_status"`
	Note       string    `gorm:"type:text" json:"note"`
	UserId     int       `gorm:"index" json:"user_id"`
	UserName   string    `gorm:"size:100" json:"user_name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SaveStatusHistory appends one audit row, reading the actor from the
// transaction context. Internal tools run without a signed-in user and are
// recorded as "system".
func SaveStatusHistory(tx *gorm.DB, entityType string, entityId int, fromStatus string, toStatus string, note string) error {
	ctx := tx.Statement.Context

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		userName = "system"
	}

	history := History{
		EntityType: entityType,
		EntityId:   entityId,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		Note:       note,
		UserId:     userId,
		UserName:   userName,
	}
	return tx.Create(&history).Error
}
