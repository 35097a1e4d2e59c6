package types

import (
	"time"

	"github.com/google/uuid"
)

// FollowUp is one candidate next-question shown after an assistant turn. A
// batch of up to three is generated per assistant message and replaces any
// previously unused batch; used suggestions are kept for audit.
type FollowUp struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID uuid.UUID  `gorm:"type:uuid;not null;index" json:"session_id"`
	Session   *Session   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	MessageID uuid.UUID  `gorm:"type:uuid;not null;index" json:"message_id"`
	Message   *Message   `gorm:"constraint:OnDelete:CASCADE;foreignKey:MessageID;references:ID" json:"message,omitempty"`
	Prompt    string     `gorm:"column:prompt;not null" json:"prompt"`
	Rationale string     `gorm:"column:rationale" json:"rationale,omitempty"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (FollowUp) TableName() string { return "follow_up" }
