// Package template holds the catalogue of specialty templates used to prime
// note generation.
package template

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/medscribe/soapflow/internal/apperr"
)

// DefaultID is used when a request does not name a template.
const DefaultID = "general"

// ErrTemplateNotFound is returned for an unknown template id.
var ErrTemplateNotFound = errors.New("template not found")

//go:embed templates.yaml
var catalogueYAML []byte

// Template is a specialty-specific prompt prefix.
type Template struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Description     string `json:"description" yaml:"description"`
	SpecialtyPrompt string `json:"specialtyPrompt" yaml:"specialty_prompt"`
}

// Catalogue is an immutable, ordered set of templates.
type Catalogue struct {
	templates []Template
	byID      map[string]int
}

// Parse reads a YAML catalogue. It must contain the general template.
func Parse(data []byte) (*Catalogue, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	c := &Catalogue{
		templates: doc.Templates,
		byID:      make(map[string]int, len(doc.Templates)),
	}
	for i, t := range doc.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template %d: missing id", i)
		}
		if t.SpecialtyPrompt == "" {
			return nil, fmt.Errorf("template %q: missing specialty_prompt", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("template %q: duplicate id", t.ID)
		}
		c.byID[t.ID] = i
	}
	if _, ok := c.byID[DefaultID]; !ok {
		return nil, fmt.Errorf("catalogue has no %q template", DefaultID)
	}
	return c, nil
}

var builtin = mustParse(catalogueYAML)

func mustParse(data []byte) *Catalogue {
	c, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Builtin returns the embedded catalogue.
func Builtin() *Catalogue { return builtin }

// Get returns the template with id. An empty id selects the general template.
func (c *Catalogue) Get(id string) (Template, error) {
	if id == "" {
		id = DefaultID
	}
	i, ok := c.byID[id]
	if !ok {
		return Template{}, apperr.E(apperr.KindValidation, "template.get",
			fmt.Errorf("%w: %q", ErrTemplateNotFound, id))
	}
	return c.templates[i], nil
}

// List returns all templates in catalogue order.
func (c *Catalogue) List() []Template {
	out := make([]Template, len(c.templates))
	copy(out, c.templates)
	return out
}
