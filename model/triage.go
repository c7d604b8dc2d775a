package model

import "encoding/json"

// TriageLocale selects the language of triage labels and questions.
type TriageLocale string

// Locales served by the knowledge base. Chinese is the default.
const (
	LocaleZH TriageLocale = "zh"
	LocaleEN TriageLocale = "en"
)

// Valid reports whether l is a served locale.
func (l TriageLocale) Valid() bool {
	return l == LocaleZH || l == LocaleEN
}

// TriagePrompt is one follow-up question of the knowledge base. Text is in
// the requested locale; both translations are always present.
type TriagePrompt struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	TextZH string `json:"text_zh"`
	TextEN string `json:"text_en"`
}

// TriageNode is one step of a triage decision tree. Prompts is filled when
// the tree was fetched with questions embedded, QuestionsRef otherwise.
type TriageNode struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	LabelZH      string          `json:"label_zh"`
	LabelEN      string          `json:"label_en"`
	Tags         []string        `json:"tags"`
	Signals      json.RawMessage `json:"signals,omitempty"`
	Prompts      []TriagePrompt  `json:"prompts,omitempty"`
	QuestionsRef []string        `json:"questions_ref,omitempty"`
	Children     []TriageNode    `json:"children"`
}

// TriageTree is a versioned decision tree, such as the vomiting tree.
type TriageTree struct {
	Version   json.RawMessage `json:"version,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	Root      TriageNode      `json:"root"`
}

// Walk calls fn for n and every descendant, depth first.
func (n TriageNode) Walk(fn func(TriageNode)) {
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
