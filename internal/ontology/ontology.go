// Package ontology describes the entity and relation types the knowledge
// graph is allowed to contain.
package ontology

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalid = errors.New("invalid ontology")

type Attribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Unique   bool   `json:"unique,omitempty"`
	Required bool   `json:"required,omitempty"`
}

type Entity struct {
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

type Endpoint struct {
	Label string `json:"label"`
}

type Relation struct {
	Label  string   `json:"label"`
	Source Endpoint `json:"source"`
	Target Endpoint `json:"target"`
}

type Ontology struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Load reads and validates an ontology JSON file.
func Load(path string) (*Ontology, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from application config
	if err != nil {
		return nil, fmt.Errorf("read ontology: %w", err)
	}
	return Parse(data)
}

// Save writes the ontology as indented JSON, in the format Load reads.
func (o *Ontology) Save(path string) error {
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644) // #nosec G306 -- ontology is not secret
}

func Parse(data []byte) (*Ontology, error) {
	var o Ontology
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Ontology) Validate() error {
	if len(o.Entities) == 0 {
		return fmt.Errorf("%w: no entities", ErrInvalid)
	}

	seen := make(map[string]bool, len(o.Entities))
	for _, e := range o.Entities {
		if e.Label == "" {
			return fmt.Errorf("%w: entity without label", ErrInvalid)
		}
		if seen[e.Label] {
			return fmt.Errorf("%w: duplicate entity %q", ErrInvalid, e.Label)
		}
		seen[e.Label] = true
	}

	rels := make(map[string]bool, len(o.Relations))
	for _, r := range o.Relations {
		if r.Label == "" {
			return fmt.Errorf("%w: relation without label", ErrInvalid)
		}
		key := r.Source.Label + "|" + r.Label + "|" + r.Target.Label
		if rels[key] {
			return fmt.Errorf("%w: duplicate relation %s", ErrInvalid, key)
		}
		rels[key] = true
		if !seen[r.Source.Label] {
			return fmt.Errorf("%w: relation %q has unknown source %q", ErrInvalid, r.Label, r.Source.Label)
		}
		if !seen[r.Target.Label] {
			return fmt.Errorf("%w: relation %q has unknown target %q", ErrInvalid, r.Label, r.Target.Label)
		}
	}
	return nil
}

func (o *Ontology) HasEntity(label string) bool {
	for _, e := range o.Entities {
		if e.Label == label {
			return true
		}
	}
	return false
}

// AllowsRelation reports whether source -label-> target is declared.
func (o *Ontology) AllowsRelation(source, label, target string) bool {
	for _, r := range o.Relations {
		if r.Label == label && r.Source.Label == source && r.Target.Label == target {
			return true
		}
	}
	return false
}

// Prompt renders the ontology as compact text for LLM instructions.
func (o *Ontology) Prompt() string {
	var b strings.Builder
	b.WriteString("Entity types:\n")
	for _, e := range o.Entities {
		fmt.Fprintf(&b, "- %s", e.Label)
		if e.Description != "" {
			fmt.Fprintf(&b, ": %s", e.Description)
		}
		if len(e.Attributes) > 0 {
			names := make([]string, len(e.Attributes))
			for i, a := range e.Attributes {
				names[i] = a.Name
			}
			fmt.Fprintf(&b, " (attributes: %s)", strings.Join(names, ", "))
		}
		b.WriteString("\n")
	}
	if len(o.Relations) > 0 {
		b.WriteString("Relation types:\n")
		for _, r := range o.Relations {
			fmt.Fprintf(&b, "- (%s)-[%s]->(%s)\n", r.Source.Label, r.Label, r.Target.Label)
		}
	}
	return b.String()
}
