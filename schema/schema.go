// Package schema defines the named output shapes the engine produces and the
// operations the extractor needs on them: key canonicalization, required
// field validation, typed defaults, and prompt-facing descriptions.
package schema

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	lerrors "github.com/teilomillet/lectern/errors"
)

// Names of the built-in schemas.
const (
	VerseOfDayName    = "verse_of_day"
	LessonName        = "lesson"
	WeeklySummaryName = "weekly_summary"
	DevotionalName    = "devotional"
	ChatName          = "chat"
)

// Field describes one output field.
type Field struct {
	Name     string // JSON key
	Label    string // label used in "Label: value" output
	List     bool
	Required bool
}

// Definition is a named, versioned output shape backed by a Go struct.
type Definition struct {
	Name    string
	Version int
	// Prose schemas produce cleaned text and skip extraction.
	Prose bool
	// ExpectList marks schemas whose prose answers are bulleted.
	ExpectList bool
	Fields     []Field

	typ      reflect.Type
	byCanon  map[string]string
	validate *validator.Validate
}

// New builds a Definition from the struct type of sample. Field names come
// from json tags, labels from label tags, and required fields from
// validate:"required".
func New(name string, version int, sample any) *Definition {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	d := &Definition{
		Name:     name,
		Version:  version,
		typ:      t,
		byCanon:  make(map[string]string),
		validate: newValidator(),
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		key := jsonName(sf)
		if key == "" {
			continue
		}
		f := Field{
			Name:     key,
			Label:    sf.Tag.Get("label"),
			List:     sf.Type.Kind() == reflect.Slice,
			Required: strings.Contains(sf.Tag.Get("validate"), "required"),
		}
		if f.Label == "" {
			f.Label = key
		}
		d.Fields = append(d.Fields, f)
		d.byCanon[Canonical(key)] = key
		d.byCanon[Canonical(f.Label)] = key
	}
	return d
}

// NewProse builds a Definition for free-text output.
func NewProse(name string, version int) *Definition {
	return &Definition{Name: name, Version: version, Prose: true}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	return v
}

func jsonName(sf reflect.StructField) string {
	name := strings.SplitN(sf.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return sf.Name
	}
	return name
}

// Canonical folds a key for comparison: lower case with spaces, dashes and
// underscores removed. "Memory Verse", "memory_verse" and "memoryVerse" all
// fold to "memoryverse".
func Canonical(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		switch r {
		case ' ', '_', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup resolves a raw key or label to the schema's field name.
func (d *Definition) Lookup(key string) (string, bool) {
	name, ok := d.byCanon[Canonical(key)]
	return name, ok
}

// Field returns the field with the given JSON name.
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Required returns the names of required fields in declaration order.
func (d *Definition) Required() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Normalize maps raw keys onto the schema's field names and coerces values to
// the field's shape. Unknown keys are dropped. A string given for a list
// field is split into items; a list given for a string field is joined.
func (d *Definition) Normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(d.Fields))
	for k, v := range raw {
		name, ok := d.Lookup(k)
		if !ok {
			continue
		}
		f, _ := d.Field(name)
		if f.List {
			out[name] = toList(v)
		} else {
			out[name] = toText(v)
		}
	}
	return out
}

// Validate reports a schema_mismatch error naming every missing required
// field. fields should already be normalized.
func (d *Definition) Validate(fields map[string]any) error {
	if d.Prose {
		return nil
	}
	v := reflect.New(d.typ).Interface()
	if err := d.Decode(fields, v); err != nil {
		return lerrors.NewError(lerrors.SchemaMismatchError, "decode "+d.Name, http.StatusUnprocessableEntity, "", nil, err)
	}

	err := d.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !lerrors.As(err, &verrs) {
		return lerrors.NewError(lerrors.SchemaMismatchError, "validate "+d.Name, http.StatusUnprocessableEntity, "", nil, err)
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	sort.Strings(missing)
	return lerrors.NewSchemaMismatchError(d.Name, missing)
}

// Decode converts fields into v, which should point to the schema's struct.
func (d *Definition) Decode(fields map[string]any, v any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	return json.Unmarshal(b, v)
}

// DefaultFields returns the typed empty value for the schema: every string
// field empty and every list field an empty list.
func (d *Definition) DefaultFields() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for _, f := range d.Fields {
		if f.List {
			out[f.Name] = []string{}
		} else {
			out[f.Name] = ""
		}
	}
	return out
}

// Registry holds the schemas known to the engine.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns a registry holding defs.
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range defs {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(d *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Name] = d
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names returns registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a registry with the built-in schemas.
func Builtin() *Registry {
	verse := New(VerseOfDayName, 1, VerseOfDay{})
	lesson := New(LessonName, 1, Lesson{})
	lesson.ExpectList = true
	summary := New(WeeklySummaryName, 1, WeeklySummary{})
	summary.ExpectList = true
	return NewRegistry(
		verse,
		lesson,
		summary,
		New(DevotionalName, 1, Devotional{}),
		NewProse(ChatName, 1),
	)
}
