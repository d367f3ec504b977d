package activity

import "time"

// Entry is one append-only activity log row. Rows are never updated or
// deleted; the admin dashboard reads them newest first.
type Entry struct {
	ID         string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(64);index;not null" json:"actor"`
	Action     string    `gorm:"type:varchar(64);index;not null" json:"action"`
	Details    string    `gorm:"type:varchar(512)" json:"details"`
	Content    string    `gorm:"type:text" json:"content,omitempty"`
	IsFlagged  bool      `gorm:"index" json:"is_flagged"`
	FlagReason string    `gorm:"type:varchar(128)" json:"flag_reason,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (Entry) TableName() string { return "activity_entries" }

// Actions recorded by the gateway.
const (
	ActionChatCreated  = "chat_created"
	ActionMessageSent  = "message_sent"
	ActionChatRenamed  = "chat_renamed"
	ActionChatDeleted  = "chat_deleted"
	ActionChatFlagged  = "chat_flagged"
	ActionUserBlocked  = "user_blocked"
	ActionUserUnblock  = "user_unblocked"
	ActionAdminLogin   = "admin_login"
	ActionFlagOverride = "flag_override"
)
