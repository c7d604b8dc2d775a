package model

import "testing"

func TestCase_HasAnalysis(t *testing.T) {
	tests := []struct {
		analysis string
		want     bool
	}{
		{"", false},
		{"   \n", false},
		{"Gastroenteritis", true},
	}
	for _, tt := range tests {
		c := Case{Analysis: tt.analysis}
		if got := c.HasAnalysis(); got != tt.want {
			t.Errorf("HasAnalysis(%q) = %v, want %v", tt.analysis, got, tt.want)
		}
	}
}

func TestSpecies_Valid(t *testing.T) {
	for _, s := range []Species{SpeciesDog, SpeciesCat, SpeciesOther} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false", s)
		}
	}
	if Species("horse").Valid() {
		t.Error(`"horse".Valid() = true, want false`)
	}
}

func TestAnalyzeInputFor_defaults_species(t *testing.T) {
	in := AnalyzeInputFor(Case{ChiefComplaint: "limping"})
	if in.Species != SpeciesDog {
		t.Errorf("Species = %q, want dog", in.Species)
	}
	in = AnalyzeInputFor(Case{Species: SpeciesCat})
	if in.Species != SpeciesCat {
		t.Errorf("Species = %q, want cat", in.Species)
	}
}

func TestCase_Input_copies_writable_fields(t *testing.T) {
	c := Case{ID: 9, PatientName: "Rex", Species: SpeciesDog, ChiefComplaint: "cough", Prognosis: "good"}
	in := c.Input()
	if in.PatientName != "Rex" || in.ChiefComplaint != "cough" || in.Prognosis != "good" {
		t.Errorf("Input() = %+v", in)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{450, 200, 3},
		{5, 0, 1},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.total, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

func TestClampPage(t *testing.T) {
	if got := ClampPage(0, 50, 10); got != 1 {
		t.Errorf("ClampPage(0) = %d, want 1", got)
	}
	if got := ClampPage(9, 50, 10); got != 5 {
		t.Errorf("ClampPage(9) = %d, want 5", got)
	}
	if got := ClampPage(3, 0, 10); got != 1 {
		t.Errorf("ClampPage(3, total 0) = %d, want 1", got)
	}
}
