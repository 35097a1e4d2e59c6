package types

import (
	"time"

	"github.com/google/uuid"
)

// Phase is an ordered step within a session's plan. Immutable after creation
// except for completion marking.
type Phase struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_phase_session_index" json:"session_id"`
	Session     *Session   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	PhaseIndex  int        `gorm:"column:phase_index;not null;index:idx_phase_session_index" json:"phase_index"`
	Name        string     `gorm:"column:name;not null" json:"name"`
	Objective   string     `gorm:"column:objective" json:"objective"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Phase) TableName() string { return "phase" }
