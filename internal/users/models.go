package users

import "time"

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"

	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// User is the moderation-side record of someone the gateway has seen.
// Identity (name, email, role) comes from the upstream token; only status
// and last_active are owned here.
type User struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(128);not null" json:"name"`
	Email      string    `gorm:"type:varchar(255);index" json:"email"`
	Role       string    `gorm:"type:varchar(16);not null;default:student" json:"role"`
	Status     string    `gorm:"type:varchar(16);not null;default:active;index" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

func (User) TableName() string { return "users" }
