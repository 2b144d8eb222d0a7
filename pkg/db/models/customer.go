package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/calderahq/commerce-backend/pkg/enums"
)

// Customer is the B2B buyer the discount core targets rules against.
type Customer struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string             `gorm:"column:name;not null"`
	Email     string             `gorm:"column:email;not null"`
	Tier      enums.CustomerTier `gorm:"column:tier;type:customer_tier;not null;default:'standard'"`
	IsDeleted bool               `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
