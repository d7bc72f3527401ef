package template

import (
	"strings"
)

const systemPrompt = `You are a clinical documentation assistant. Convert the visit transcription into a SOAP note.
Return ONLY valid JSON with this schema:
{
  "soap_note": {
    "subjective": string,
    "objective": string,
    "assessment": string,
    "plan": string
  }
}
When procedure codes are listed, name each code explicitly in the plan and document the findings that support it in the objective or assessment section.
If the transcription cannot be converted, return {"error": string} instead.`

// Prompt is a chat prompt ready to be sent to the model.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt prefixes the transcription with the template's specialty
// instructions and the codes the note has to justify.
func BuildPrompt(t Template, transcript string, codes []string) Prompt {
	var b strings.Builder
	b.WriteString(t.SpecialtyPrompt)
	b.WriteString("\n\n")

	listed := make([]string, 0, len(codes))
	for _, c := range codes {
		if c != "" {
			listed = append(listed, c)
		}
	}
	if len(listed) > 0 {
		b.WriteString("Procedure codes: ")
		b.WriteString(strings.Join(listed, ", "))
		b.WriteString("\n\n")
	}

	b.WriteString("Transcription:\n")
	b.WriteString(transcript)

	return Prompt{System: systemPrompt, User: b.String()}
}
