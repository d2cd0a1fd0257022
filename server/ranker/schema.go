package ranker

import "encoding/json"

// rerankJSONSchema defines the strict output schema for the ranking call.
// Closed property sets keep the model from inventing fields.
var rerankJSONSchema = &jsonSchema{
	Type: "object",
	Properties: map[string]*jsonSchema{
		"results": {
			Type: "array",
			Items: &jsonSchema{
				Type: "object",
				Properties: map[string]*jsonSchema{
					"item_id": {Type: "string"},
					"relevance_score": {
						Type:        "integer",
						Minimum:     intPtr(0),
						Maximum:     intPtr(100),
						Description: "Relevance of the candidate to the query, 0-100",
					},
					"summary": {Type: "string"},
					"why_relevant": {
						Type:     "array",
						Items:    &jsonSchema{Type: "string"},
						MinItems: intPtr(1),
						MaxItems: intPtr(4),
					},
					"signals": {
						Type: "object",
						Properties: map[string]*jsonSchema{
							"versions":     {Type: "array", Items: &jsonSchema{Type: "string"}},
							"os":           {Type: "array", Items: &jsonSchema{Type: "string"}},
							"error_codes":  {Type: "array", Items: &jsonSchema{Type: "string"}},
							"stack_frames": {Type: "array", Items: &jsonSchema{Type: "string"}},
						},
						Required: []string{"versions", "os", "error_codes", "stack_frames"},
					},
					"uncertain": {Type: "boolean"},
				},
				Required: []string{"item_id", "relevance_score", "summary", "why_relevant", "signals", "uncertain"},
			},
		},
	},
	Required: []string{"results"},
}

func intPtr(v int) *int { return &v }

// jsonSchema implements json.Marshaler for OpenAI's JSON Schema format.
type jsonSchema struct {
	Type                 string                 `json:"type"`
	Properties           map[string]*jsonSchema `json:"properties,omitempty"`
	Items                *jsonSchema            `json:"items,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Minimum              *int                   `json:"minimum,omitempty"`
	Maximum              *int                   `json:"maximum,omitempty"`
	MinItems             *int                   `json:"minItems,omitempty"`
	MaxItems             *int                   `json:"maxItems,omitempty"`
	Description          string                 `json:"description,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

func (s *jsonSchema) MarshalJSON() ([]byte, error) {
	type alias jsonSchema
	return json.Marshal((*alias)(s))
}
