package registry

// conditionStepSchema validates condition step configs. Condition steps have
// no handler, the executor evaluates them inline, so their schema lives here.
var conditionStepSchema = map[string]any{
	"type":     "object",
	"required": []string{"conditions"},
	"properties": map[string]any{
		"conditions": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []string{"field", "operator"},
				"properties": map[string]any{
					"field": map[string]any{
						"type":        "string",
						"description": "Dotted path into the event payload, e.g. 'appointment.status'.",
					},
					"operator": map[string]any{
						"type": "string",
						"enum": []string{
							"equals", "not_equals", "contains",
							"greater_than", "less_than", "in", "not_in",
						},
					},
					"value": map[string]any{
						"description": "Expected value, compared per operator semantics.",
					},
					"logical_operator": map[string]any{
						"type": "string",
						"enum": []string{"AND", "OR"},
					},
				},
			},
		},
	},
}
