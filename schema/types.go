package schema

// VerseOfDay is the daily verse card shown to a child.
type VerseOfDay struct {
	Verse      string `json:"verse" label:"Verse" validate:"required" jsonschema:"required,description=The full verse text"`
	Reference  string `json:"reference" label:"Reference" validate:"required" jsonschema:"required,description=Book chapter:verse reference"`
	Reflection string `json:"reflection" label:"Reflection" jsonschema:"description=A short reflection a child can understand"`
	Prayer     string `json:"prayer" label:"Prayer" jsonschema:"description=A one or two sentence prayer"`
}

// Lesson is a structured Bible lesson plan.
type Lesson struct {
	Title       string   `json:"title" label:"Title" validate:"required" jsonschema:"required"`
	Objectives  []string `json:"objectives" label:"Objectives"`
	Scripture   []string `json:"scripture" label:"Scripture" jsonschema:"description=Scripture references"`
	Activities  []string `json:"activities" label:"Activities"`
	Discussion  []string `json:"discussion" label:"Discussion" jsonschema:"description=Discussion questions"`
	MemoryVerse string   `json:"memoryVerse" label:"Memory Verse"`
}

// WeeklySummary is the parent-facing summary of a child's week.
type WeeklySummary struct {
	Summary           string   `json:"summary" label:"Summary" validate:"required" jsonschema:"required"`
	ParentalAdvice    []string `json:"parentalAdvice" label:"Parental Advice"`
	SpiritualGuidance string   `json:"spiritualGuidance" label:"Spiritual Guidance"`
	Highlights        []string `json:"highlights" label:"Highlights"`
}

// Devotional is a short titled devotional with an optional prayer.
type Devotional struct {
	Title   string `json:"title" label:"Title" validate:"required" jsonschema:"required"`
	Content string `json:"content" label:"Content" validate:"required" jsonschema:"required"`
	Prayer  string `json:"prayer" label:"Prayer"`
}
