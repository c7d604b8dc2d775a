package model

import (
	"strings"
	"time"
)

// Species is the animal kind recorded on a case.
type Species string

// Supported species.
const (
	SpeciesDog   Species = "dog"
	SpeciesCat   Species = "cat"
	SpeciesOther Species = "other"
)

// Valid reports whether s is one of the supported species.
func (s Species) Valid() bool {
	switch s {
	case SpeciesDog, SpeciesCat, SpeciesOther:
		return true
	}
	return false
}

// Case is a veterinary case record as stored by the case service. The ID is
// assigned by the server and never invented locally.
type Case struct {
	ID             int64        `json:"id"`
	PatientName    string       `json:"patient_name"`
	Species        Species      `json:"species"`
	Sex            string       `json:"sex,omitempty"`
	AgeInfo        string       `json:"age_info,omitempty"`
	ChiefComplaint string       `json:"chief_complaint"`
	History        string       `json:"history,omitempty"`
	ExamFindings   string       `json:"exam_findings,omitempty"`
	Analysis       string       `json:"analysis,omitempty"`
	Treatment      string       `json:"treatment,omitempty"`
	Prognosis      string       `json:"prognosis,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      *time.Time   `json:"created_at,omitempty"`
	UpdatedAt      *time.Time   `json:"updated_at,omitempty"`
	DeletedAt      *time.Time   `json:"deleted_at,omitempty"`
}

// HasAnalysis reports whether an analysis has been recorded. It is the only
// case status the list view derives.
func (c Case) HasAnalysis() bool {
	return strings.TrimSpace(c.Analysis) != ""
}

// Input returns the writable fields of c, used when a deleted case has to be
// re-created from a snapshot.
func (c Case) Input() CaseInput {
	return CaseInput{
		PatientName:    c.PatientName,
		Species:        c.Species,
		Sex:            c.Sex,
		AgeInfo:        c.AgeInfo,
		ChiefComplaint: c.ChiefComplaint,
		History:        c.History,
		ExamFindings:   c.ExamFindings,
		Analysis:       c.Analysis,
		Treatment:      c.Treatment,
		Prognosis:      c.Prognosis,
		Attachments:    c.Attachments,
	}
}

// CaseInput is the create/update payload for a case.
type CaseInput struct {
	PatientName    string       `json:"patient_name"`
	Species        Species      `json:"species"`
	Sex            string       `json:"sex,omitempty"`
	AgeInfo        string       `json:"age_info,omitempty"`
	ChiefComplaint string       `json:"chief_complaint"`
	History        string       `json:"history,omitempty"`
	ExamFindings   string       `json:"exam_findings,omitempty"`
	Analysis       string       `json:"analysis,omitempty"`
	Treatment      string       `json:"treatment,omitempty"`
	Prognosis      string       `json:"prognosis,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file reference uploaded through the case service.
type Attachment struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// AnalyzeInput is the payload sent to the remote analysis endpoint.
type AnalyzeInput struct {
	ChiefComplaint string  `json:"chief_complaint"`
	History        string  `json:"history"`
	ExamFindings   string  `json:"exam_findings"`
	Species        Species `json:"species"`
	AgeInfo        string  `json:"age_info"`
}

// AnalyzeInputFor builds the analysis payload for an existing case. A blank
// species is sent as dog, which is what the analysis service assumes.
func AnalyzeInputFor(c Case) AnalyzeInput {
	species := c.Species
	if species == "" {
		species = SpeciesDog
	}
	return AnalyzeInput{
		ChiefComplaint: c.ChiefComplaint,
		History:        c.History,
		ExamFindings:   c.ExamFindings,
		Species:        species,
		AgeInfo:        c.AgeInfo,
	}
}

// AnalysisResult is the analysis service's answer.
type AnalysisResult struct {
	Analysis  string `json:"analysis"`
	Treatment string `json:"treatment"`
	Prognosis string `json:"prognosis"`
}
