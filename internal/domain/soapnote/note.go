// Package soapnote implements the SOAP note model and the documentation
// quality rules applied to every generated or edited note.
package soapnote

import (
	"fmt"
	"strings"
)

// Section identifies the part of a note a validation issue refers to.
type Section string

const (
	SectionSubjective    Section = "subjective"
	SectionObjective     Section = "objective"
	SectionAssessment    Section = "assessment"
	SectionPlan          Section = "plan"
	SectionDocumentation Section = "documentation"
	SectionAlignment     Section = "alignment"
)

// Severity of a validation issue. Neither level mutates the note.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Note is a clinical note in Subjective/Objective/Assessment/Plan form.
// Empty sections are allowed structurally.
type Note struct {
	Subjective string `json:"subjective" yaml:"subjective"`
	Objective  string `json:"objective" yaml:"objective"`
	Assessment string `json:"assessment" yaml:"assessment"`
	Plan       string `json:"plan" yaml:"plan"`
}

// Text returns the content of one of the four note sections.
func (n Note) Text(s Section) string {
	switch s {
	case SectionSubjective:
		return n.Subjective
	case SectionObjective:
		return n.Objective
	case SectionAssessment:
		return n.Assessment
	case SectionPlan:
		return n.Plan
	}
	return ""
}

// Issue is a single documentation-quality finding.
type Issue struct {
	Section  Section  `json:"section"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Section, i.Message)
}

// Summary counts issues by severity and section.
type Summary struct {
	Errors    int             `json:"errors"`
	Warnings  int             `json:"warnings"`
	BySection map[Section]int `json:"by_section,omitempty"`
}

// Summarize aggregates issues.
func Summarize(issues []Issue) Summary {
	s := Summary{BySection: make(map[Section]int)}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		}
		s.BySection[issue.Section]++
	}
	return s
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Format renders issues one per line.
func Format(issues []Issue) string {
	var b strings.Builder
	for _, issue := range issues {
		b.WriteString(issue.String())
		b.WriteByte('\n')
	}
	return b.String()
}
