package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	lerrors "github.com/teilomillet/lectern/errors"
)

func TestBuiltinRegistry(t *testing.T) {
	reg := Builtin()
	assert.Equal(t, []string{"chat", "devotional", "lesson", "verse_of_day", "weekly_summary"}, reg.Names())

	chat, ok := reg.Lookup(ChatName)
	require.True(t, ok)
	assert.True(t, chat.Prose)

	_, ok = reg.Lookup("horoscope")
	assert.False(t, ok)
}

func TestDefinitionFields(t *testing.T) {
	tests := []struct {
		schema   string
		required []string
		lists    []string
	}{
		{VerseOfDayName, []string{"verse", "reference"}, nil},
		{LessonName, []string{"title"}, []string{"objectives", "scripture", "activities", "discussion"}},
		{WeeklySummaryName, []string{"summary"}, []string{"parentalAdvice", "highlights"}},
		{DevotionalName, []string{"title", "content"}, nil},
	}

	reg := Builtin()
	for _, tt := range tests {
		t.Run(tt.schema, func(t *testing.T) {
			d, ok := reg.Lookup(tt.schema)
			require.True(t, ok)
			assert.Equal(t, tt.required, d.Required())

			var lists []string
			for _, f := range d.Fields {
				if f.List {
					lists = append(lists, f.Name)
				}
			}
			assert.Equal(t, tt.lists, lists)
		})
	}
}

func TestCanonicalLookup(t *testing.T) {
	d := New(LessonName, 1, Lesson{})

	for _, key := range []string{"memoryVerse", "memory_verse", "Memory Verse", "MEMORY-VERSE"} {
		name, ok := d.Lookup(key)
		require.True(t, ok, key)
		assert.Equal(t, "memoryVerse", name)
	}
	_, ok := d.Lookup("homework")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	d := New(LessonName, 1, Lesson{})

	got := d.Normalize(map[string]any{
		"Title":        "  David and Goliath ",
		"objectives":   "- Courage comes from God\n- Small can be mighty\n",
		"scripture":    []any{"1 Samuel 17", ""},
		"activities":   "Draw a slingshot; Act out the story",
		"discussion":   nil,
		"memory_verse": map[string]any{"text": "The battle is the Lord's."},
		"homework":     "ignored",
	})

	assert.Equal(t, map[string]any{
		"title":       "David and Goliath",
		"objectives":  []string{"Courage comes from God", "Small can be mighty"},
		"scripture":   []string{"1 Samuel 17"},
		"activities":  []string{"Draw a slingshot", "Act out the story"},
		"discussion":  []string{},
		"memoryVerse": "The battle is the Lord's.",
	}, got)
}

func TestNormalizeJoinsListForStringField(t *testing.T) {
	d := New(VerseOfDayName, 1, VerseOfDay{})
	got := d.Normalize(map[string]any{"prayer": []any{"Dear God,", "thank you."}, "reference": 316.0})
	assert.Equal(t, "Dear God,\nthank you.", got["prayer"])
	assert.Equal(t, "316", got["reference"])
}

func TestSplitItems(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"bullets", "- one\n* two\n• three", []string{"one", "two", "three"}},
		{"numbered", "1. one\n2) two", []string{"one", "two"}},
		{"semicolons", "one; two;three", []string{"one", "two", "three"}},
		{"blank lines", "one\n\n\ntwo\n", []string{"one", "two"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitItems(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	d := New(VerseOfDayName, 1, VerseOfDay{})

	require.NoError(t, d.Validate(map[string]any{"verse": "Jesus wept.", "reference": "John 11:35"}))

	err := d.Validate(map[string]any{"reflection": "only a reflection"})
	require.Error(t, err)
	assert.True(t, lerrors.IsType(err, lerrors.SchemaMismatchError))

	var le *lerrors.LecternError
	require.True(t, lerrors.As(err, &le))
	assert.Equal(t, []string{"reference", "verse"}, le.Details["missing"])
}

func TestValidateProseAlwaysPasses(t *testing.T) {
	assert.NoError(t, NewProse(ChatName, 1).Validate(nil))
}

func TestDefaultFields(t *testing.T) {
	d := New(WeeklySummaryName, 1, WeeklySummary{})
	def := d.DefaultFields()

	assert.Equal(t, "", def["summary"])
	assert.Equal(t, []string{}, def["parentalAdvice"])
	assert.Equal(t, "", def["spiritualGuidance"])
	assert.Equal(t, []string{}, def["highlights"])

	var typed WeeklySummary
	require.NoError(t, d.Decode(def, &typed))
	assert.NotNil(t, typed.Highlights)
}

func TestTemplateKeepsFieldOrder(t *testing.T) {
	d := New(VerseOfDayName, 1, VerseOfDay{})

	tmpl, err := d.Template()
	require.NoError(t, err)
	assert.Equal(t, `{"verse":"","reference":"","reflection":"","prayer":""}`, tmpl)
}

func TestExample(t *testing.T) {
	d := New(DevotionalName, 1, Devotional{})

	out, err := d.Example(&Devotional{Title: "Light", Content: "Be a light."})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Light","content":"Be a light.","prayer":""}`, out)
}

func TestJSONSchema(t *testing.T) {
	d := New(LessonName, 1, Lesson{})

	doc, err := d.JSONSchema()
	require.NoError(t, err)
	require.True(t, gjson.Valid(doc))

	parsed := gjson.Parse(doc)
	assert.Equal(t, "object", parsed.Get("type").String())
	assert.Equal(t, "array", parsed.Get("properties.objectives.type").String())
	assert.Equal(t, []any{"title"}, parsed.Get("required").Value())

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	assert.NotContains(t, m, "$schema")
}
