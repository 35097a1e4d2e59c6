package services

import (
	"reflect"
	"testing"
)

func TestNormalizeForMatch(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases", in: "Mitosis", want: "mitosis"},
		{name: "strips diacritics", in: "Krebês Cyclé", want: "krebs cycle"},
		{name: "punctuation becomes spaces", in: "cell-cycle: phases!", want: "cell cycle phases"},
		{name: "collapses whitespace", in: "  spindle \t fibers \n", want: "spindle fibers"},
		{name: "digits survive", in: "G2 phase", want: "g2 phase"},
		{name: "only punctuation", in: "!!! --- ???", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeForMatch(tt.in); got != tt.want {
				t.Errorf("NormalizeForMatch(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDetectCoveredTerms(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		candidates []string
		want       []string
	}{
		{
			name:       "exact mention",
			text:       "Mitosis produces two identical daughter cells.",
			candidates: []string{"mitosis", "cytokinesis"},
			want:       []string{"mitosis"},
		},
		{
			name:       "inflected mention matches by substring",
			text:       "This is a mitosis-driven process.",
			candidates: []string{"mitosis"},
			want:       []string{"mitosis"},
		},
		{
			name:       "parenthetical cut before matching",
			text:       "The Krebs cycle powers the cell.",
			candidates: []string{"Krebs cycle (aka citric acid cycle)"},
			want:       []string{"Krebs cycle (aka citric acid cycle)"},
		},
		{
			name:       "diacritics ignored both sides",
			text:       "The résumé of the process is simple.",
			candidates: []string{"resume"},
			want:       []string{"resume"},
		},
		{
			name:       "candidate order preserved",
			text:       "cytokinesis follows mitosis",
			candidates: []string{"mitosis", "cytokinesis", "centromere"},
			want:       []string{"mitosis", "cytokinesis"},
		},
		{
			name:       "multi word term must appear contiguously",
			text:       "The spindle helps, and separately there are fibers.",
			candidates: []string{"spindle fibers"},
			want:       nil,
		},
		{
			name:       "empty normalized candidate never matches",
			text:       "anything at all",
			candidates: []string{"???", ""},
			want:       nil,
		},
		{
			name:       "empty text matches nothing",
			text:       "",
			candidates: []string{"mitosis"},
			want:       nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectCoveredTerms(tt.text, tt.candidates)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectCoveredTerms(%q, %v) = %v, want %v", tt.text, tt.candidates, got, tt.want)
			}
		})
	}
}
