package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/service"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(fs)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const thinNote = `
subjective: Cough for three days.
objective: Lungs clear.
assessment: Viral bronchitis.
plan: Rest and fluids.
`

func TestValidateTextReport(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "visit.yaml", []byte(thinNote), 0o644))

	out, err := execute(t, fs, "validate", "--note", "visit.yaml", "--code", "99213")
	require.NoError(t, err)

	assert.Contains(t, out, "[error] subjective: ")
	assert.Contains(t, out, "Subjective section requires more detail to support medical necessity")
	assert.Contains(t, out, "Procedure code 99213 must be explicitly documented in the plan")
	assert.NotContains(t, out, "submission blocked")
}

func TestValidateBlockOnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "visit.yaml", []byte(thinNote), 0o644))

	out, err := execute(t, fs, "validate", "--note", "visit.yaml", "--block-on-error")
	require.Error(t, err)
	assert.ErrorIs(t, err, soapnote.ErrSubmissionBlocked)
	assert.Contains(t, out, "submission blocked")
}

func TestValidateJSONWrappedNote(t *testing.T) {
	fs := afero.NewMemMapFs()
	doc := `{"soap_note": {"subjective": "s", "objective": "o", "assessment": "", "plan": ""}}`
	require.NoError(t, afero.WriteFile(fs, "visit.json", []byte(doc), 0o644))

	out, err := execute(t, fs, "validate", "-n", "visit.json", "-f", "json")
	require.NoError(t, err)

	var review service.Review
	require.NoError(t, json.Unmarshal([]byte(out), &review))
	assert.False(t, review.Blocked)
	assert.Len(t, review.Notifications, len(review.Issues))
	for _, i := range review.Issues {
		assert.NotEqual(t, soapnote.SectionAlignment, i.Section, "empty assessment always aligns")
	}
}

func TestValidateErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("subjective: [unclosed"), 0o644))

	_, err := execute(t, fs, "validate", "--note", "missing.yaml")
	assert.ErrorContains(t, err, "read note")

	_, err = execute(t, fs, "validate", "--note", "bad.yaml")
	assert.ErrorContains(t, err, "parse note")

	_, err = execute(t, fs, "validate", "--note", "bad.yaml", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")

	_, err = execute(t, fs, "validate")
	assert.Error(t, err)
}

func TestTemplatesList(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "templates")
	require.NoError(t, err)
	for _, tmpl := range template.Builtin().List() {
		assert.Contains(t, out, tmpl.ID)
	}

	out, err = execute(t, afero.NewMemMapFs(), "templates", "--format", "json")
	require.NoError(t, err)
	var listed []template.Template
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	assert.Equal(t, template.Builtin().List(), listed)
}

func TestTemplatesCustomCatalogue(t *testing.T) {
	fs := afero.NewMemMapFs()
	catalogue := `
templates:
  - id: general
    name: General
    description: Plain visit.
    specialty_prompt: Document the visit.
  - id: dermatology
    name: Dermatology
    description: Skin exam.
    specialty_prompt: Describe each lesion.
`
	require.NoError(t, afero.WriteFile(fs, "catalogue.yaml", []byte(catalogue), 0o644))

	out, err := execute(t, fs, "--catalogue", "catalogue.yaml", "templates")
	require.NoError(t, err)
	assert.Contains(t, out, "dermatology")
	assert.NotContains(t, out, "psychiatric")
}

func TestPrompt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "t.txt", []byte("Patient reports chest pain."), 0o644))

	out, err := execute(t, fs, "prompt", "--transcript", "t.txt", "--template", "cardiology", "-c", "93000")
	require.NoError(t, err)

	assert.Contains(t, out, "--- system ---")
	assert.Contains(t, out, "Procedure codes: 93000")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Patient reports chest pain."))

	_, err = execute(t, fs, "prompt", "--transcript", "t.txt", "--template", "unknown")
	assert.ErrorIs(t, err, template.ErrTemplateNotFound)
}
