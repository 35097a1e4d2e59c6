package services

import (
	"encoding/json"
	"fmt"

	"github.com/yungbote/socratica-backend/internal/types"
)

// PlanContext is the compact projection of a session and its live progress
// that grounds every model call. Purely structural.
type PlanContext struct {
	Topic  string             `json:"topic"`
	Tone   string             `json:"tone,omitempty"`
	Phases []PlanContextPhase `json:"phases"`
}

type PlanContextPhase struct {
	Name           string   `json:"name"`
	Objective      string   `json:"objective"`
	RemainingTerms []string `json:"remaining_terms"`
	CoveredCount   int      `json:"covered_count"`
	TotalTerms     int      `json:"total_terms"`
	IsComplete     bool     `json:"is_complete"`
}

func BuildPlanContext(session *types.Session, progress []PhaseProgress) PlanContext {
	pc := PlanContext{Phases: make([]PlanContextPhase, 0, len(progress))}
	if session != nil {
		pc.Topic = session.Topic
		pc.Tone = session.Tone
	}
	for _, pp := range progress {
		pc.Phases = append(pc.Phases, PlanContextPhase{
			Name:           pp.Name,
			Objective:      pp.Objective,
			RemainingTerms: pp.RemainingTerms,
			CoveredCount:   pp.CoveredCount,
			TotalTerms:     pp.TotalTerms,
			IsComplete:     pp.IsComplete,
		})
	}
	return pc
}

// GroundingMessage serializes the plan context into the system message placed
// ahead of the live transcript on every model call.
func (pc PlanContext) GroundingMessage() string {
	raw, err := json.Marshal(pc)
	if err != nil {
		raw = []byte(`{}`)
	}
	return fmt.Sprintf(`You are a patient Socratic tutor guiding a learner through a phased lesson plan.

Work the key terms of the current phase into the conversation naturally; never recite the plan or the term list verbatim. Keep answers grounded in the learner's topic and adjust to the requested tone.

Current lesson plan and progress:
%s`, string(raw))
}
