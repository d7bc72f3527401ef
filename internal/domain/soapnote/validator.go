package soapnote

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LengthRule requires a section to contain at least Min characters.
type LengthRule struct {
	Section Section
	Min     int
}

// KeywordRule requires a section to mention Term (case-insensitive).
type KeywordRule struct {
	Section Section
	Term    string
	Message string
}

// Rules configures a Validator. Order of the slices is the order of the
// emitted issues.
type Rules struct {
	MinLengths []LengthRule
	Keywords   []KeywordRule
	// AlignmentPrefix is the number of leading assessment characters the plan
	// must repeat.
	AlignmentPrefix int
}

// DefaultRules returns the documentation rules used for medical necessity
// review.
func DefaultRules() Rules {
	return Rules{
		MinLengths: []LengthRule{
			{Section: SectionSubjective, Min: 200},
			{Section: SectionObjective, Min: 200},
			{Section: SectionAssessment, Min: 100},
			{Section: SectionPlan, Min: 150},
		},
		Keywords: []KeywordRule{
			{Section: SectionSubjective, Term: "chief complaint", Message: "Chief complaint must be clearly documented"},
			{Section: SectionSubjective, Term: "history of present illness", Message: "History of present illness must be detailed"},
			{Section: SectionSubjective, Term: "past medical history", Message: "Past medical history must be documented"},
			{Section: SectionSubjective, Term: "review of systems", Message: "Review of systems must be documented"},
			{Section: SectionObjective, Term: "examination", Message: "Physical examination findings must be documented"},
			{Section: SectionObjective, Term: "vital", Message: "Vital signs must be documented"},
			{Section: SectionObjective, Term: "findings", Message: "Objective findings must be clearly stated"},
		},
		AlignmentPrefix: 20,
	}
}

const (
	msgAlignment = "Plan must align with documented assessment findings"
)

// Validator checks notes against a fixed rule set. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	rules  Rules
	titles map[Section]string
}

// NewValidator builds a validator for rules.
func NewValidator(rules Rules) *Validator {
	caser := cases.Title(language.English)
	titles := make(map[Section]string, len(rules.MinLengths))
	for _, r := range rules.MinLengths {
		titles[r.Section] = caser.String(string(r.Section))
	}
	return &Validator{rules: rules, titles: titles}
}

var defaultValidator = NewValidator(DefaultRules())

// Validate checks note and codes with the default rules.
func Validate(note Note, codes []string) []Issue {
	return defaultValidator.Validate(note, codes)
}

// Validate returns every rule violation found in note for the given
// procedure codes. Issues are ordered: length errors, keyword warnings,
// per-code errors in input order, then the alignment warning. The result is
// never nil.
func (v *Validator) Validate(note Note, codes []string) []Issue {
	lower := Note{
		Subjective: strings.ToLower(note.Subjective),
		Objective:  strings.ToLower(note.Objective),
		Assessment: strings.ToLower(note.Assessment),
		Plan:       strings.ToLower(note.Plan),
	}

	issues := make([]Issue, 0)
	issues = v.checkLengths(note, issues)
	issues = v.checkKeywords(lower, issues)
	issues = v.checkCodes(lower, codes, issues)
	issues = v.checkAlignment(lower, issues)
	return issues
}

func (v *Validator) checkLengths(note Note, issues []Issue) []Issue {
	for _, r := range v.rules.MinLengths {
		if utf8.RuneCountInString(note.Text(r.Section)) >= r.Min {
			continue
		}
		issues = append(issues, Issue{
			Section:  r.Section,
			Message:  fmt.Sprintf("%s section requires more detail to support medical necessity", v.titles[r.Section]),
			Severity: SeverityError,
		})
	}
	return issues
}

func (v *Validator) checkKeywords(lower Note, issues []Issue) []Issue {
	for _, r := range v.rules.Keywords {
		if strings.Contains(lower.Text(r.Section), r.Term) {
			continue
		}
		issues = append(issues, Issue{
			Section:  r.Section,
			Message:  r.Message,
			Severity: SeverityWarning,
		})
	}
	return issues
}

func (v *Validator) checkCodes(lower Note, codes []string, issues []Issue) []Issue {
	for _, code := range codes {
		if code == "" {
			continue
		}
		needle := strings.ToLower(code)

		if !strings.Contains(lower.Plan, needle) {
			issues = append(issues, Issue{
				Section:  SectionPlan,
				Message:  fmt.Sprintf("Procedure code %s must be explicitly documented in the plan", code),
				Severity: SeverityError,
			})
		}

		if !strings.Contains(lower.Objective, needle) && !strings.Contains(lower.Assessment, needle) {
			issues = append(issues, Issue{
				Section:  SectionDocumentation,
				Message:  fmt.Sprintf("Supporting documentation for procedure code %s must be present in objective findings or assessment", code),
				Severity: SeverityError,
			})
		}
	}
	return issues
}

// checkAlignment is a crude topical proxy: the plan must repeat the opening
// characters of the assessment. An empty assessment always passes.
func (v *Validator) checkAlignment(lower Note, issues []Issue) []Issue {
	prefix := leadingRunes(lower.Assessment, v.rules.AlignmentPrefix)
	if strings.Contains(lower.Plan, prefix) {
		return issues
	}
	return append(issues, Issue{
		Section:  SectionAlignment,
		Message:  msgAlignment,
		Severity: SeverityWarning,
	})
}

func leadingRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
