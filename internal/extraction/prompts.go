package extraction

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/entity_prompt.txt
var defaultEntityPrompt string

//go:embed defaults/relationship_prompt.txt
var defaultRelationshipPrompt string

//go:embed defaults/relationship_schema.yaml
var defaultRelationshipSchema []byte

// Prompts holds the templates sent to the LLM. Placeholders are written
// {name} and substituted in a single pass, so substituted text is never
// re-expanded.
type Prompts struct {
	Entity       string
	Relationship string
	// Schema is the formatted relationship schema for {relationship_schema}.
	Schema string
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	schema, err := FormatRelationshipSchema(defaultRelationshipSchema)
	if err != nil {
		panic(fmt.Sprintf("built-in relationship schema: %v", err))
	}
	return Prompts{
		Entity:       defaultEntityPrompt,
		Relationship: defaultRelationshipPrompt,
		Schema:       schema,
	}
}

// LoadPrompts reads templates from files; empty paths keep the built-in one.
func LoadPrompts(entityPath, relationshipPath, schemaPath string) (Prompts, error) {
	p := DefaultPrompts()
	if entityPath != "" {
		data, err := os.ReadFile(entityPath)
		if err != nil {
			return Prompts{}, fmt.Errorf("entity prompt: %w", err)
		}
		p.Entity = string(data)
	}
	if relationshipPath != "" {
		data, err := os.ReadFile(relationshipPath)
		if err != nil {
			return Prompts{}, fmt.Errorf("relationship prompt: %w", err)
		}
		p.Relationship = string(data)
	}
	if schemaPath != "" {
		data, err := os.ReadFile(schemaPath)
		if err != nil {
			return Prompts{}, fmt.Errorf("relationship schema: %w", err)
		}
		schema, err := FormatRelationshipSchema(data)
		if err != nil {
			return Prompts{}, err
		}
		p.Schema = schema
	}
	if !strings.Contains(p.Entity, "{document}") {
		return Prompts{}, fmt.Errorf("entity prompt: missing {document} placeholder")
	}
	if !strings.Contains(p.Relationship, "{entities_json}") {
		return Prompts{}, fmt.Errorf("relationship prompt: missing {entities_json} placeholder")
	}
	return p, nil
}

// RenderEntity fills the entity extraction template.
func (p Prompts) RenderEntity(worldModel, priorEntities, document string) string {
	return strings.NewReplacer(
		"{relationship_schema}", p.Schema,
		"{world_model}", worldModel,
		"{prior_entities}", priorEntities,
		"{document}", document,
	).Replace(p.Entity)
}

// RenderRelationship fills the relationship inference template.
func (p Prompts) RenderRelationship(entitiesJSON, worldModelJSON string) string {
	return strings.NewReplacer(
		"{entities_json}", entitiesJSON,
		"{world_model_json}", worldModelJSON,
	).Replace(p.Relationship)
}

type relationshipSchema struct {
	Relationships []struct {
		Type        string `yaml:"type"`
		Description string `yaml:"description"`
		Example     *struct {
			Source schemaRef `yaml:"source_entity"`
			Target schemaRef `yaml:"target_entity"`
		} `yaml:"example"`
	} `yaml:"relationships"`
}

type schemaRef struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// FormatRelationshipSchema renders a schema file as prompt lines:
//
//	- supports: description
//	    Example: ProductInitiative ('x') -> supports -> BusinessObjective ('y')
func FormatRelationshipSchema(data []byte) (string, error) {
	var s relationshipSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("relationship schema: %w", err)
	}
	var lines []string
	for _, r := range s.Relationships {
		if r.Type == "" {
			return "", fmt.Errorf("relationship schema: entry without type")
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", r.Type, r.Description))
		if r.Example != nil {
			lines = append(lines, fmt.Sprintf("    Example: %s ('%s') -> %s -> %s ('%s')",
				r.Example.Source.Type, r.Example.Source.Value, r.Type,
				r.Example.Target.Type, r.Example.Target.Value))
		}
	}
	return strings.Join(lines, "\n"), nil
}
