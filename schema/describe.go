package schema

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/sjson"
)

// JSONSchema returns the JSON Schema document for the definition's struct,
// inlined and closed to additional properties.
func (d *Definition) JSONSchema() (string, error) {
	if d.Prose {
		return "", nil
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := reflector.ReflectFromType(d.typ)
	s.Version = ""
	s.ID = ""
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Template returns a literal JSON template with the fields in declaration
// order and empty values.
func (d *Definition) Template() (string, error) {
	return d.Fill(nil)
}

// Fill renders values as a JSON object with keys in declaration order.
// Fields absent from values are written empty.
func (d *Definition) Fill(values map[string]any) (string, error) {
	doc := "{}"
	var err error
	for _, f := range d.Fields {
		v, ok := values[f.Name]
		if !ok || v == nil {
			if f.List {
				v = []string{}
			} else {
				v = ""
			}
		}
		doc, err = sjson.Set(doc, escapePath(f.Name), v)
		if err != nil {
			return "", err
		}
	}
	return doc, nil
}

// Example renders a filled template from a typed value, such as a VerseOfDay.
func (d *Definition) Example(v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	b, err := json.Marshal(rv.Interface())
	if err != nil {
		return "", err
	}
	var values map[string]any
	if err := json.Unmarshal(b, &values); err != nil {
		return "", err
	}
	return d.Fill(values)
}

func escapePath(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
