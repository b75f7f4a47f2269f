package extract

import (
	"encoding/json"
	"fmt"

	"github.com/teilomillet/lectern/schema"
)

// Strategy names, in chain order.
const (
	StrategyMarkers  = "markers"
	StrategyDirect   = "direct"
	StrategyBalanced = "balanced"
	StrategyLabeled  = "labeled"
	StrategyReformat = "reformat"
	StrategyDefault  = "default"
)

// Record is the structured result of one reconciliation. Exactly one strategy
// is credited with it.
type Record struct {
	Schema   string         `json:"schema"`
	Version  int            `json:"version"`
	Strategy string         `json:"strategy"`
	Fields   map[string]any `json:"fields"`
	// Raw is the JSON or labeled text the fields were read from.
	Raw string `json:"-"`
	// Default is set when every strategy failed and Fields holds the typed
	// default for the schema.
	Default bool `json:"default"`
}

// Decode copies the record's fields into v, typically a pointer to one of the
// schema structs.
func (r *Record) Decode(v any) error {
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s record: %w", r.Schema, err)
	}
	return nil
}

// DefaultRecord returns the typed default for def.
func DefaultRecord(def *schema.Definition) *Record {
	return &Record{
		Schema:   def.Name,
		Version:  def.Version,
		Strategy: StrategyDefault,
		Fields:   def.DefaultFields(),
		Default:  true,
	}
}
