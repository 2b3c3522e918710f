package models

import (
	"time"

	"gorm.io/gorm"
)

// Space is a community that owns channels and memberships
type Space struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `json:"description"`
	OwnerID     uint           `gorm:"not null;index" json:"owner_id"`
	Owner       User           `gorm:"foreignKey:OwnerID" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the Space model
func (Space) TableName() string {
	return "spaces"
}

// Membership binds a user to a space with a single role
type Membership struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	SpaceID  uint      `gorm:"not null;uniqueIndex:idx_membership_space_user" json:"space_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_membership_space_user;index" json:"user_id"`
	User     User      `gorm:"foreignKey:UserID" json:"user"`
	Role     Role      `gorm:"type:varchar(16);not null;default:'member'" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// TableName specifies the table name for the Membership model
func (Membership) TableName() string {
	return "memberships"
}

// Channel is the scope messages are posted to and realtime feeds are subscribed on
type Channel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SpaceID   uint      `gorm:"not null;uniqueIndex:idx_channel_space_name" json:"space_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_channel_space_name" json:"name"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Channel model
func (Channel) TableName() string {
	return "channels"
}
