package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Message is one turn in a session's transcript, immutable once written.
// Assistant messages additionally carry the terms detected in that body and
// token-usage counters.
type Message struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_message_session_created" json:"session_id"`
	Session          *Session       `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	Role             string         `gorm:"column:role;not null" json:"role"`
	Body             string         `gorm:"column:body;not null" json:"body"`
	DetectedTerms    datatypes.JSON `gorm:"column:detected_terms;type:jsonb" json:"detected_terms,omitempty"`
	PromptTokens     int            `gorm:"column:prompt_tokens;not null;default:0" json:"prompt_tokens,omitempty"`
	CompletionTokens int            `gorm:"column:completion_tokens;not null;default:0" json:"completion_tokens,omitempty"`
	TotalTokens      int            `gorm:"column:total_tokens;not null;default:0" json:"total_tokens,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index:idx_message_session_created" json:"created_at"`
}

func (Message) TableName() string { return "message" }
