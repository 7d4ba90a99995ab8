package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lessonmap-backend/domain/core/proposals"
)

// Result documents, as the model is asked to write them.

type cardDoc struct {
	ID          string `json:"id"`
	Tag         string `json:"tag"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type linkDoc struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

type updateDoc struct {
	NewNode cardDoc   `json:"new_node"`
	Links   []linkDoc `json:"links"`
	Edges   []linkDoc `json:"edges"`
}

type splitDoc struct {
	OldNodeID string    `json:"old_node_id"`
	NewNodes  []cardDoc `json:"new_nodes"`
	Links     []linkDoc `json:"links"`
	Edges     []linkDoc `json:"edges"`
}

type influenceDoc struct {
	NewNodes []cardDoc `json:"new_nodes"`
	Links    []linkDoc `json:"links"`
	Edges    []linkDoc `json:"edges"`
}

// actionDoc is one change in a conversational reply. Type is accepted as a
// synonym of Tag.
type actionDoc struct {
	Option      string `json:"option"`
	CardID      string `json:"card_id"`
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

const (
	optionAdd    = "add"
	optionModify = "modify"
)

type generateDoc struct {
	Actions []actionDoc `json:"actions"`
	Links   []linkDoc   `json:"links"`
	Edges   []linkDoc   `json:"edges"`
}

// The schemas check the shape of a result only. Content rules such as the
// tag set, id preservation and non-empty titles belong to staging, which
// reports them as validation failures.
const cardDefs = `"$defs": {
	"card": {
		"type": "object",
		"properties": {
			"id": {"type": "string"},
			"tag": {"type": "string"},
			"title": {"type": "string"},
			"description": {"type": "string"}
		}
	},
	"links": {
		"type": "array",
		"items": {
			"type": "object",
			"properties": {
				"source": {"type": "string"},
				"target": {"type": "string"},
				"label": {"type": "string"}
			}
		}
	}
}`

var contractSources = map[proposals.Operation]string{
	proposals.OperationRefine:    updateSchema,
	proposals.OperationCorrect:   updateSchema,
	proposals.OperationSync:      updateSchema,
	proposals.OperationSplit:     splitSchema,
	proposals.OperationInfluence: influenceSchema,
	proposals.OperationGenerate:  generateSchema,
}

const updateSchema = `{
	"type": "object",
	"required": ["new_node"],
	"properties": {
		"new_node": {
			"allOf": [{"$ref": "#/$defs/card"}],
			"required": ["id", "tag", "title", "description"]
		},
		"links": {"$ref": "#/$defs/links"},
		"edges": {"$ref": "#/$defs/links"}
	},
	` + cardDefs + `
}`

const splitSchema = `{
	"type": "object",
	"required": ["old_node_id", "new_nodes"],
	"properties": {
		"old_node_id": {"type": "string"},
		"new_nodes": {"type": "array", "items": {"$ref": "#/$defs/card"}},
		"links": {"$ref": "#/$defs/links"},
		"edges": {"$ref": "#/$defs/links"}
	},
	` + cardDefs + `
}`

const influenceSchema = `{
	"type": "object",
	"required": ["new_nodes"],
	"properties": {
		"new_nodes": {
			"type": "array",
			"items": {
				"allOf": [{"$ref": "#/$defs/card"}],
				"required": ["id", "title", "description"]
			}
		},
		"links": {"$ref": "#/$defs/links"},
		"edges": {"$ref": "#/$defs/links"}
	},
	` + cardDefs + `
}`

const generateSchema = `{
	"type": "object",
	"required": ["actions"],
	"properties": {
		"actions": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["option", "title"],
				"properties": {
					"option": {"enum": ["add", "modify"]},
					"card_id": {"type": "string"},
					"tag": {"type": "string"},
					"type": {"type": "string"},
					"title": {"type": "string"},
					"description": {"type": "string"}
				},
				"if": {"properties": {"option": {"const": "modify"}}},
				"then": {"required": ["card_id"]}
			}
		},
		"links": {"$ref": "#/$defs/links"},
		"edges": {"$ref": "#/$defs/links"}
	},
	` + cardDefs + `
}`

// contracts holds the compiled result schema of every operation.
type contracts map[proposals.Operation]*jsonschema.Schema

func compileContracts() (contracts, error) {
	out := make(contracts, len(contractSources))
	for op, src := range contractSources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		name := string(op) + ".json"
		if err := c.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", op, err)
		}
		schema, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", op, err)
		}
		out[op] = schema
	}
	return out, nil
}

// bind validates a generic document against the operation's schema and
// decodes it into target.
func (c contracts) bind(op proposals.Operation, doc any, target any) error {
	schema, ok := c[op]
	if !ok {
		return fmt.Errorf("no result contract for operation %q", op)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
