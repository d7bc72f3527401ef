// Package service implements the note generation pipeline and the procedure
// code suggester used by the HTTP API.
package service

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/medscribe/soapflow/internal/domain/soapnote"
)

// Variant is the alert style a client renders a notification with.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a validation issue shaped for display.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Notify converts issues to notifications in the same order. Errors are
// destructive, warnings default.
func Notify(issues []soapnote.Issue) []Notification {
	caser := cases.Title(language.English)
	out := make([]Notification, 0, len(issues))
	for _, issue := range issues {
		variant := VariantDefault
		if issue.Severity == soapnote.SeverityError {
			variant = VariantDestructive
		}
		out = append(out, Notification{
			Title:       caser.String(string(issue.Section)) + " " + string(issue.Severity),
			Description: issue.Message,
			Variant:     variant,
		})
	}
	return out
}
