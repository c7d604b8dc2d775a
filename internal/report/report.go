// Package report renders a printable HTML report for a single case.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/pitabwire/vetdesk/model"
)

// Placeholder stands in for blank fields.
const Placeholder = "—"

// timestampLayout is the export time shown in the header and footer.
const timestampLayout = "2006-01-02 15:04"

//go:embed templates/case_report.html.tmpl
var templateFS embed.FS

var caseTemplate = template.Must(template.ParseFS(templateFS, "templates/case_report.html.tmpl"))

type finding struct {
	Title string
	Body  string
}

type attachment struct {
	Name string
	URL  string
}

type caseView struct {
	ID             int64
	GeneratedAt    string
	PatientName    string
	Species        string
	Sex            string
	AgeInfo        string
	ChiefComplaint string
	History        string
	ExamFindings   string
	Findings       []finding
	Attachments    []attachment
}

func (v caseView) HasFindings() bool { return len(v.Findings) > 0 }

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

func newCaseView(c model.Case, at time.Time) caseView {
	v := caseView{
		ID:             c.ID,
		GeneratedAt:    at.Format(timestampLayout),
		PatientName:    orPlaceholder(c.PatientName),
		Species:        orPlaceholder(string(c.Species)),
		Sex:            orPlaceholder(c.Sex),
		AgeInfo:        orPlaceholder(c.AgeInfo),
		ChiefComplaint: orPlaceholder(c.ChiefComplaint),
		History:        orPlaceholder(c.History),
		ExamFindings:   orPlaceholder(c.ExamFindings),
	}
	// Only recorded result sections are printed.
	for _, f := range []finding{
		{Title: "Analysis", Body: c.Analysis},
		{Title: "Treatment", Body: c.Treatment},
		{Title: "Prognosis", Body: c.Prognosis},
	} {
		if strings.TrimSpace(f.Body) != "" {
			v.Findings = append(v.Findings, f)
		}
	}
	for _, a := range c.Attachments {
		v.Attachments = append(v.Attachments, attachment{Name: orPlaceholder(a.Name), URL: a.URL})
	}
	return v
}

// Render writes the report for c, stamped with the export time at.
func Render(w io.Writer, c model.Case, at time.Time) error {
	var buf bytes.Buffer
	if err := caseTemplate.Execute(&buf, newCaseView(c, at)); err != nil {
		return fmt.Errorf("report: render case %d: %w", c.ID, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
