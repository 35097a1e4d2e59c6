package types

import (
	"time"

	"github.com/google/uuid"
)

// Term is one key term scoped to a phase by index. Terms reference their
// phase by phase_index rather than by phase id so "all terms for session X"
// stays a single index scan; plan acceptance creates phases and terms in one
// transaction, which keeps the two in sync.
//
// FirstCoveredAt is set at most once and never cleared: coverage is monotonic.
type Term struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"session_id"`
	Session        *Session   `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"session,omitempty"`
	PhaseIndex     int        `gorm:"column:phase_index;not null" json:"phase_index"`
	Term           string     `gorm:"column:term;not null" json:"term"`
	FirstCoveredAt *time.Time `gorm:"column:first_covered_at" json:"first_covered_at,omitempty"`
	ExposureCount  int        `gorm:"column:exposure_count;not null;default:0" json:"exposure_count"`
	CreatedAt      time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Term) TableName() string { return "term" }
