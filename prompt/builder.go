// Package prompt builds completion requests. Structured requests embed the
// schema description, a literal JSON template and the strict output rules;
// the same builder renders reformat and continuation prompts.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/teilomillet/lectern/completion"
	"github.com/teilomillet/lectern/config"
	"github.com/teilomillet/lectern/schema"
)

// tailChars is how much of the accumulated answer a continuation prompt
// quotes back.
const tailChars = 400

// Params is the input to Build.
type Params struct {
	Schema *schema.Definition
	// Instruction is the caller's request in plain words.
	Instruction string
	// Template is an optional literal JSON template. When empty, structured
	// schemas use their field-ordered empty template.
	Template string
	// System overrides the builder's system prompt.
	System  string
	History []completion.Message
	Tuning  completion.Tuning
	// StrictJSON appends the strict output rules.
	StrictJSON bool
}

// Builder renders completion requests. It holds only immutable settings, so
// Build is a pure function of its input and safe for concurrent use.
type Builder struct {
	open   string
	close  string
	system string
	tuning completion.Tuning
}

// NewBuilder returns a builder using the markers from gen and the system
// prompt and default tuning from llm.
func NewBuilder(gen config.GenerationConfig, llm config.LLMConfig) *Builder {
	return &Builder{
		open:   gen.OpenMarker,
		close:  gen.CloseMarker,
		system: llm.SystemPrompt,
		tuning: completion.Tuning{
			MaxTokens:   llm.MaxTokens,
			Temperature: llm.Temperature,
		},
	}
}

// Markers returns the sentinel delimiters.
func (b *Builder) Markers() (open, close string) {
	return b.open, b.close
}

// DefaultTuning returns the tuning used when Params.Tuning is zero.
func (b *Builder) DefaultTuning() completion.Tuning {
	t := b.tuning
	t.Stop = nil
	return t
}

// Build returns the request for s.
func (b *Builder) Build(s Params) (completion.Request, error) {
	if strings.TrimSpace(s.Instruction) == "" {
		return completion.Request{}, fmt.Errorf("empty instruction")
	}

	system := s.System
	if system == "" {
		system = b.system
	}
	tuning := s.Tuning
	if tuning.MaxTokens == 0 && tuning.Temperature == 0 && len(tuning.Stop) == 0 {
		tuning = b.DefaultTuning()
	}
	if tuning.MaxTokens == 0 {
		tuning.MaxTokens = b.tuning.MaxTokens
	}

	text := strings.TrimSpace(s.Instruction)
	if s.StrictJSON {
		rules, err := b.strictRules(s.Schema, s.Template)
		if err != nil {
			return completion.Request{}, err
		}
		text += "\n" + rules
	}

	req := completion.Request{System: system, StrictJSON: s.StrictJSON}
	return req.WithPrompt(text, s.History...).WithTuning(tuning), nil
}

// Reformat returns the single secondary request that asks for malformed to
// be rewritten as strict JSON for def.
func (b *Builder) Reformat(def *schema.Definition, malformed string, tuning completion.Tuning) (completion.Request, error) {
	var buf bytes.Buffer
	err := reformatTmpl.Execute(&buf, struct {
		Name      string
		Malformed string
	}{def.Name, malformed})
	if err != nil {
		return completion.Request{}, fmt.Errorf("render reformat prompt: %w", err)
	}
	return b.Build(Params{
		Schema:      def,
		Instruction: buf.String(),
		Tuning:      tuning,
		StrictJSON:  true,
	})
}

// Continue returns the follow-up request for base after the model produced
// accumulated. The original exchange is carried as history. Strict JSON
// requests get the "continue exactly" wording.
func (b *Builder) Continue(base completion.Request, accumulated string, def *schema.Definition) (completion.Request, error) {
	tmpl := proseContinueTmpl
	if base.StrictJSON {
		tmpl = jsonContinueTmpl
	}
	expectList := def != nil && def.ExpectList
	text, err := render(tmpl, struct {
		Tail       string
		Close      string
		ExpectList bool
	}{tail(accumulated, tailChars), b.close, expectList})
	if err != nil {
		return completion.Request{}, err
	}

	history := append([]completion.Message(nil), base.History...)
	history = append(history,
		completion.Message{Role: completion.RoleUser, Content: base.Prompt},
		completion.Message{Role: completion.RoleAssistant, Content: accumulated},
	)
	return base.WithPrompt(text, history...), nil
}

func (b *Builder) strictRules(def *schema.Definition, literal string) (string, error) {
	data := struct {
		Schema   string
		Template string
		Open     string
		Close    string
	}{Open: b.open, Close: b.close}

	if def != nil && !def.Prose {
		js, err := def.JSONSchema()
		if err != nil {
			return "", fmt.Errorf("describe schema %s: %w", def.Name, err)
		}
		data.Schema = js
		if literal == "" {
			if literal, err = def.Template(); err != nil {
				return "", fmt.Errorf("template for %s: %w", def.Name, err)
			}
		}
	}
	if literal == "" {
		literal = "{}"
	}
	data.Template = strings.TrimSpace(literal)
	return render(strictTmpl, data)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return "..." + string(r[len(r)-n:])
}
