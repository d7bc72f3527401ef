// Package cli implements soapcheck, an offline tool for checking SOAP notes
// against the documentation rules and previewing generation prompts.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/medscribe/soapflow/internal/domain/soapnote"
	"github.com/medscribe/soapflow/internal/domain/template"
	"github.com/medscribe/soapflow/internal/service"
)

const (
	formatText = "text"
	formatJSON = "json"
)

type rootFlags struct {
	catalogue string
}

// NewRootCommand builds the soapcheck command tree reading files from fs.
func NewRootCommand(fs afero.Fs) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "soapcheck",
		Short: "Check SOAP notes for documentation quality",
		Long: `soapcheck runs the documentation rules used by the soapflow API
against notes on disk and previews the prompts sent to the model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.catalogue, "catalogue", "", "YAML template catalogue (default: built-in)")

	cmd.AddCommand(
		newValidateCommand(fs),
		newTemplatesCommand(fs, flags),
		newPromptCommand(fs, flags),
	)
	return cmd
}

func loadCatalogue(fs afero.Fs, path string) (*template.Catalogue, error) {
	if path == "" {
		return template.Builtin(), nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return template.Parse(data)
}

type validateFlags struct {
	note         string
	codes        []string
	blockOnError bool
	format       string
}

func newValidateCommand(fs afero.Fs) *cobra.Command {
	flags := &validateFlags{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a note file",
		Long: `Validate a SOAP note stored as YAML or JSON. The file holds the four
sections at the top level or under a "soap_note" key.

Examples:
  soapcheck validate --note visit.yaml --code 99213
  soapcheck validate --note visit.json --block-on-error --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), fs, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.note, "note", "n", "", "note file (YAML or JSON)")
	cmd.Flags().StringSliceVarP(&flags.codes, "code", "c", nil, "procedure code the note must justify (repeatable)")
	cmd.Flags().BoolVar(&flags.blockOnError, "block-on-error", false, "fail when the note has error-level issues")
	cmd.Flags().StringVarP(&flags.format, "format", "f", formatText, "output format: text or json")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func runValidate(out io.Writer, fs afero.Fs, flags *validateFlags) error {
	if err := checkFormat(flags.format); err != nil {
		return err
	}
	note, err := readNote(fs, flags.note)
	if err != nil {
		return err
	}

	policy := soapnote.Policy{BlockOnError: flags.blockOnError}
	review := service.NewNoteService(service.NoteServiceConfig{Policy: policy}, nil).Review(note, flags.codes)

	if flags.format == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(review); err != nil {
			return err
		}
	} else {
		printReview(out, review)
	}
	return policy.Evaluate(review.Issues)
}

func readNote(fs afero.Fs, path string) (soapnote.Note, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return soapnote.Note{}, fmt.Errorf("read note: %w", err)
	}

	var doc struct {
		Wrapped *soapnote.Note `json:"soap_note" yaml:"soap_note"`
		soapnote.Note `yaml:",inline"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return soapnote.Note{}, fmt.Errorf("parse note %s: %w", path, err)
	}
	if doc.Wrapped != nil {
		return *doc.Wrapped, nil
	}
	return doc.Note, nil
}

func printReview(out io.Writer, review service.Review) {
	if len(review.Issues) == 0 {
		fmt.Fprintln(out, "No documentation issues found.")
		return
	}

	fmt.Fprint(out, soapnote.Format(review.Issues))

	s := soapnote.Summarize(review.Issues)
	fmt.Fprintf(out, "\n%d error(s), %d warning(s)", s.Errors, s.Warnings)
	if review.Blocked {
		fmt.Fprint(out, ", submission blocked")
	}
	fmt.Fprintln(out)
}

type templatesFlags struct {
	format string
}

func newTemplatesCommand(fs afero.Fs, root *rootFlags) *cobra.Command {
	flags := &templatesFlags{}

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List note templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(flags.format); err != nil {
				return err
			}
			c, err := loadCatalogue(fs, root.catalogue)
			if err != nil {
				return err
			}
			return printTemplates(cmd.OutOrStdout(), c.List(), flags.format)
		},
	}
	cmd.Flags().StringVarP(&flags.format, "format", "f", formatText, "output format: text or json")
	return cmd
}

func printTemplates(out io.Writer, templates []template.Template, format string) error {
	if format == formatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(templates)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
	for _, t := range templates {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Name, t.Description)
	}
	return tw.Flush()
}

type promptFlags struct {
	transcript string
	templateID string
	codes      []string
}

func newPromptCommand(fs afero.Fs, root *rootFlags) *cobra.Command {
	flags := &promptFlags{}

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt a transcript would be sent with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadCatalogue(fs, root.catalogue)
			if err != nil {
				return err
			}
			tmpl, err := c.Get(flags.templateID)
			if err != nil {
				return err
			}
			transcript, err := afero.ReadFile(fs, flags.transcript)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}

			p := template.BuildPrompt(tmpl, string(transcript), flags.codes)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "--- system ---\n%s\n\n--- user ---\n%s\n", p.System, p.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.transcript, "transcript", "t", "", "transcript file")
	cmd.Flags().StringVar(&flags.templateID, "template", "", "template id (default: general)")
	cmd.Flags().StringSliceVarP(&flags.codes, "code", "c", nil, "procedure code (repeatable)")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

func checkFormat(f string) error {
	switch f {
	case formatText, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown format %q, want text or json", f)
}
