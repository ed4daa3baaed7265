package cortex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// intake normalizes caller-supplied form data into readable text.
// It reads "form_data" from the input slot when present, otherwise the
// whole input slot.
//
// Output keys: form_text, field_count.
type intake struct{}

func newIntake(StepDeps) (Step, error) {
	return intake{}, nil
}

// Execute implements Step.
func (intake) Execute(_ context.Context, ec *ExecutionContext) error {
	input := ec.StageOutputs(InputStage)
	if len(input) == 0 {
		return stepError(StepIntake, "no form data supplied", nil)
	}

	form := input
	if nested, ok := input["form_data"]; ok {
		m, ok := nested.(map[string]any)
		if !ok {
			return stepError(StepIntake, fmt.Sprintf("form_data has type %T, want object", nested), nil)
		}
		form = m
	}

	text, count := renderForm(form)
	if count == 0 {
		return stepError(StepIntake, "form data has no fields", nil)
	}

	ec.SetOutputs(StepIntake, map[string]any{
		"form_text":   text,
		"field_count": count,
	})
	return nil
}

// renderForm writes one "Label: value" line per non-empty field, sorted by key.
func renderForm(form map[string]any) (string, int) {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	count := 0
	for _, k := range keys {
		value := renderValue(form[k])
		if value == "" {
			continue
		}
		if count > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fieldLabel(k))
		b.WriteString(": ")
		b.WriteString(value)
		count++
	}
	return b.String(), count
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

// fieldLabel turns "chief_complaint" into "Chief Complaint".
func fieldLabel(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
