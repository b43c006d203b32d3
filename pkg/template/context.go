package template

import (
	"os"
	"strings"

	"github.com/clinicore/automation/pkg/models"
)

// RenderWithEvent renders a template with the standard scope steps see at
// execution time: the event payload, event identity fields, accumulated step
// results and process environment variables.
func RenderWithEvent(templateStr string, event *models.DomainEvent, stepResults map[string]any) (any, error) {
	scope := map[string]any{
		"payload": event.Payload,
		"steps":   stepResults,
		"env":     envVars(),
		"event": map[string]any{
			"id":          event.ID,
			"type":        string(event.EventType),
			"tenant_id":   event.TenantID,
			"entity_type": event.EntityType,
			"entity_id":   event.EntityID,
		},
	}

	if stepResults == nil {
		scope["steps"] = map[string]any{}
	}

	return Render(templateStr, scope)
}

func envVars() map[string]string {
	env := make(map[string]string)

	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			env[key] = value
		}
	}

	return env
}
