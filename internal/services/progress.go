package services

import (
	"sort"

	"github.com/yungbote/socratica-backend/internal/types"
)

// PhaseProgress is the per-phase view of term coverage used for display, for
// plan-context grounding and for recomputing the session's cached counters.
type PhaseProgress struct {
	PhaseIndex     int      `json:"phase_index"`
	Name           string   `json:"name"`
	Objective      string   `json:"objective"`
	CoveredTerms   []string `json:"covered_terms"`
	RemainingTerms []string `json:"remaining_terms"`
	TotalTerms     int      `json:"total_terms"`
	CoveredCount   int      `json:"covered_count"`
	IsComplete     bool     `json:"is_complete"`
}

// SessionAggregates are derived from phase progress and patched onto the
// session row; they are never an independent source of truth.
type SessionAggregates struct {
	TotalPhases       int  `json:"total_phases"`
	CompletedPhases   int  `json:"completed_phases"`
	TotalTerms        int  `json:"total_terms"`
	CompletedTerms    int  `json:"completed_terms"`
	CurrentPhaseIndex *int `json:"current_phase_index"`
}

// BuildPhaseProgress partitions each phase's terms into covered and remaining,
// alphabetically sorted for stable display. A phase with zero terms is never
// complete.
func BuildPhaseProgress(phases []*types.Phase, terms []*types.Term) []PhaseProgress {
	byPhase := make(map[int][]*types.Term, len(phases))
	for _, t := range terms {
		if t == nil {
			continue
		}
		byPhase[t.PhaseIndex] = append(byPhase[t.PhaseIndex], t)
	}

	out := make([]PhaseProgress, 0, len(phases))
	for _, p := range phases {
		if p == nil {
			continue
		}
		pp := PhaseProgress{
			PhaseIndex:     p.PhaseIndex,
			Name:           p.Name,
			Objective:      p.Objective,
			CoveredTerms:   []string{},
			RemainingTerms: []string{},
		}
		for _, t := range byPhase[p.PhaseIndex] {
			pp.TotalTerms++
			if t.FirstCoveredAt != nil {
				pp.CoveredTerms = append(pp.CoveredTerms, t.Term)
			} else {
				pp.RemainingTerms = append(pp.RemainingTerms, t.Term)
			}
		}
		sort.Strings(pp.CoveredTerms)
		sort.Strings(pp.RemainingTerms)
		pp.CoveredCount = len(pp.CoveredTerms)
		pp.IsComplete = pp.TotalTerms > 0 && len(pp.RemainingTerms) == 0
		out = append(out, pp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PhaseIndex < out[j].PhaseIndex })
	return out
}

// AggregateSession derives the session-level counters from phase progress.
// CurrentPhaseIndex is the first incomplete phase, or nil when none remain.
func AggregateSession(progress []PhaseProgress) SessionAggregates {
	agg := SessionAggregates{TotalPhases: len(progress)}
	for _, pp := range progress {
		agg.TotalTerms += pp.TotalTerms
		agg.CompletedTerms += pp.CoveredCount
		if pp.IsComplete {
			agg.CompletedPhases++
		} else if agg.CurrentPhaseIndex == nil {
			idx := pp.PhaseIndex
			agg.CurrentPhaseIndex = &idx
		}
	}
	return agg
}

// RemainingTermsAcrossPhases is the union of every phase's remaining terms in
// phase order, de-duplicated case-insensitively.
func RemainingTermsAcrossPhases(progress []PhaseProgress) []string {
	var out []string
	seen := map[string]bool{}
	for _, pp := range progress {
		for _, term := range pp.RemainingTerms {
			key := NormalizeForMatch(term)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, term)
		}
	}
	return out
}
