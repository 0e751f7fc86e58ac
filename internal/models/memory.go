package models

import (
	"regexp"
	"strings"
)

// Entry is the core domain entity stored in SQLite.
type Entry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector,omitempty"`
	Category   Category  `json:"category"`
	Scope      string    `json:"scope"`
	Importance float64   `json:"importance"`
	Timestamp  int64     `json:"timestamp"`
	Metadata   string    `json:"metadata"`
}

// Category classifies what kind of knowledge an entry represents.
type Category string

const (
	CategoryPreference Category = "preference"
	CategoryFact       Category = "fact"
	CategoryDecision   Category = "decision"
	CategoryEntity     Category = "entity"
	CategoryOther      Category = "other"
)

var ValidCategories = map[Category]bool{
	CategoryPreference: true,
	CategoryFact:       true,
	CategoryDecision:   true,
	CategoryEntity:     true,
	CategoryOther:      true,
}

func (c Category) IsValid() bool {
	return ValidCategories[c]
}

const (
	// GlobalScope is readable by every agent unless access rules say otherwise.
	GlobalScope = "global"

	DefaultImportance = 0.7
	DefaultMetadata   = "{}"

	// MaxTextBytes bounds the stored text of a single entry.
	MaxTextBytes = 10000
)

var scopePattern = regexp.MustCompile(`^(global|(agent|project|user|custom):[A-Za-z0-9._@/-]{1,128})$`)

// ValidScope reports whether s is "global" or a "type:id" scope.
func ValidScope(s string) bool {
	return scopePattern.MatchString(s)
}

// AgentScope returns the private scope of an agent.
func AgentScope(agentID string) string {
	return "agent:" + strings.TrimSpace(agentID)
}

// Stripped returns a copy of the entry without its vector.
func (e Entry) Stripped() Entry {
	e.Vector = nil
	return e
}
