// Package conditions evaluates trigger conditions against event payloads.
package conditions

import (
	"log/slog"
	"reflect"
	"strings"

	"github.com/clinicore/automation/pkg/models"
)

// Evaluator applies a trigger's condition list to an event payload. It is
// pure: the same conditions and payload always produce the same boolean.
type Evaluator struct {
	logger *slog.Logger
}

func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "condition_evaluator"),
	}
}

// Evaluate folds the conditions left-to-right. The accumulated result is
// combined with each condition's own logical operator (AND by default); this
// is a fold, not a balanced boolean tree, and existing trigger definitions
// rely on the fold order. An empty condition list always matches.
func (e *Evaluator) Evaluate(conds []models.Condition, payload map[string]any) bool {
	result := true

	for i, cond := range conds {
		matched := e.apply(cond, payload)

		if i == 0 {
			result = matched

			continue
		}

		if cond.LogicalOperator == models.LogicalOr {
			result = result || matched
		} else {
			result = result && matched
		}
	}

	return result
}

// apply evaluates a single condition. Malformed conditions never panic or
// error; they evaluate to false and are logged.
func (e *Evaluator) apply(cond models.Condition, payload map[string]any) bool {
	fieldValue, found := Lookup(payload, cond.Field)
	if fieldValue == nil {
		found = false
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return found && valuesEqual(fieldValue, cond.Value)
	case models.OperatorNotEquals:
		return !found || !valuesEqual(fieldValue, cond.Value)
	case models.OperatorContains:
		return found && contains(fieldValue, cond.Value)
	case models.OperatorGreaterThan:
		return found && numericCompare(fieldValue, cond.Value, func(a, b float64) bool { return a > b })
	case models.OperatorLessThan:
		return found && numericCompare(fieldValue, cond.Value, func(a, b float64) bool { return a < b })
	case models.OperatorIn:
		members, ok := asSlice(cond.Value)
		if !ok {
			e.logger.Warn("condition value for 'in' is not an array", "field", cond.Field)

			return false
		}

		return found && membership(members, fieldValue)
	case models.OperatorNotIn:
		members, ok := asSlice(cond.Value)
		if !ok {
			e.logger.Warn("condition value for 'not_in' is not an array", "field", cond.Field)

			return false
		}

		return !found || !membership(members, fieldValue)
	default:
		e.logger.Warn("unknown condition operator", "operator", cond.Operator, "field", cond.Field)

		return false
	}
}

// Lookup resolves a dotted path ("lead.stage") against a nested payload map.
func Lookup(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	parts := strings.Split(path, ".")
	current := any(payload)

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// valuesEqual compares with type coercion disabled across kinds: string "5"
// never equals number 5. Numeric Go kinds (int vs float64 from JSON decoding)
// are normalized before comparing.
func valuesEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)

	if aok && bok {
		return af == bf
	}

	if aok != bok {
		return false
	}

	return reflect.DeepEqual(a, b)
}

func contains(fieldValue, value any) bool {
	switch v := fieldValue.(type) {
	case string:
		s, ok := value.(string)

		return ok && strings.Contains(v, s)
	default:
		members, ok := asSlice(fieldValue)
		if !ok {
			return false
		}

		return membership(members, value)
	}
}

func membership(members []any, value any) bool {
	for _, m := range members {
		if valuesEqual(m, value) {
			return true
		}
	}

	return false
}

func numericCompare(a, b any, cmp func(a, b float64) bool) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)

	if !aok || !bok {
		return false
	}

	return cmp(af, bf)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}

	if s, ok := v.([]any); ok {
		return s, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}
