package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Session is one learner's engagement with one topic. The completed/total
// counters are a cached projection of live phase/term state; they are
// recomputed from the progress aggregator inside every turn finalization and
// are never treated as an independent source of truth.
type Session struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User              *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Topic             string         `gorm:"column:topic;not null" json:"topic"`
	Tone              string         `gorm:"column:tone" json:"tone,omitempty"`
	Summary           string         `gorm:"column:summary" json:"summary,omitempty"`
	CurrentPhaseIndex *int           `gorm:"column:current_phase_index" json:"current_phase_index"`
	TotalPhases       int            `gorm:"column:total_phases;not null;default:0" json:"total_phases"`
	CompletedPhases   int            `gorm:"column:completed_phases;not null;default:0" json:"completed_phases"`
	TotalTerms        int            `gorm:"column:total_terms;not null;default:0" json:"total_terms"`
	CompletedTerms    int            `gorm:"column:completed_terms;not null;default:0" json:"completed_terms"`
	Metadata          datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	ArchivedAt        *time.Time     `gorm:"column:archived_at" json:"archived_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Session) TableName() string { return "session" }
