package annotation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Values maps field names to field values: 0/1 for binary fields, text for
// text fields.
type Values map[string]any

// Coerce maps raw submitted values onto the schema. Unknown keys are dropped,
// missing fields take their empty value, binary fields become 0 or 1 and text
// fields become strings. It never fails.
func (s *Schema) Coerce(raw Values) Values {
	out := make(Values, len(s.fields))
	for _, f := range s.fields {
		v, ok := raw[f.Name]
		if !ok {
			out[f.Name] = f.Empty()
			continue
		}
		if f.Kind == KindBinary {
			out[f.Name] = toBinary(v)
		} else {
			out[f.Name] = toText(v)
		}
	}
	return out
}

// Enforce coerces raw and resets every dependent field whose governor is not
// 1, so the result always satisfies the dependency invariant regardless of
// what was submitted. It runs both when a form is displayed and when a draft
// is saved.
func (s *Schema) Enforce(raw Values) Values {
	v := s.Coerce(raw)
	rootOn := isOne(v[s.root])

	// Root gate: with no first metastasis every other field is empty.
	if !rootOn {
		for _, f := range s.fields {
			if f.Name != s.root {
				v[f.Name] = f.Empty()
			}
		}
	}

	// Nested gates (Bone -> bone_meta_gt3, Non_axial_involved -> Non_axial_list).
	// Schema order puts governors first, so resets cascade down the chain.
	for _, f := range s.fields {
		if f.GovernedBy == "" || f.GovernedBy == s.root {
			continue
		}
		if !isOne(v[f.GovernedBy]) {
			v[f.Name] = f.Empty()
		}
	}

	// Fields governed directly by the root (First_meta_DATE) are cleared again
	// here so the date can never outlive the gate, even if the root rule changes.
	if !rootOn {
		for _, f := range s.fields {
			if f.GovernedBy == s.root {
				v[f.Name] = f.Empty()
			}
		}
	}

	return v
}

// Visible reports which fields are active for the given values: the root
// always, any other field only while its governor is active and set to 1.
func (s *Schema) Visible(values Values) map[string]bool {
	vis := make(map[string]bool, len(s.fields))
	for _, f := range s.fields {
		if f.GovernedBy == "" {
			vis[f.Name] = true
			continue
		}
		vis[f.Name] = vis[f.GovernedBy] && isOne(values[f.GovernedBy])
	}
	return vis
}

// FormField is one row of an annotation form.
type FormField struct {
	Field
	Value     any  `json:"value"`
	Suggested any  `json:"suggested"`
	Visible   bool `json:"visible"`
}

// Form builds the display form from the current values (after enforcement)
// alongside the model suggestion for each field.
func (s *Schema) Form(current, suggested Values) []FormField {
	values := s.Enforce(current)
	sugg := s.Coerce(suggested)
	vis := s.Visible(values)

	form := make([]FormField, 0, len(s.fields))
	for _, f := range s.fields {
		form = append(form, FormField{
			Field:     f,
			Value:     values[f.Name],
			Suggested: sugg[f.Name],
			Visible:   vis[f.Name],
		})
	}
	return form
}

func isOne(v any) bool {
	return toBinary(v) == 1
}

func toBinary(v any) int {
	switch x := v.(type) {
	case int:
		return oneOrZero(x == 1)
	case int64:
		return oneOrZero(x == 1)
	case float64:
		return oneOrZero(x == 1)
	case json.Number:
		f, err := x.Float64()
		return oneOrZero(err == nil && f == 1)
	case bool:
		return oneOrZero(x)
	case string:
		return oneOrZero(strings.TrimSpace(x) == "1")
	default:
		return 0
	}
}

func oneOrZero(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
