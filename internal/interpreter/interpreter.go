// Package interpreter turns free-text board descriptions into plans and
// builds per-entity image prompts.
package interpreter

import (
	"context"
	"fmt"
	"strings"

	"github.com/cfi-labs/boardgen/internal/domain"
)

// Board context categories inferred from topic, title or entities.
const (
	CategoryMedical  = "medical"
	CategoryFood     = "food"
	CategoryEmotions = "emotions"
	CategoryHome     = "home"
	CategoryGeneral  = "general"
)

// Interpreter is the intent interpretation collaborator.
type Interpreter interface {
	// Understand returns either a Clarification or a Proposal.
	Understand(ctx context.Context, description string, profile domain.NormalizedProfile, history []domain.HistoryMessage) (Outcome, error)

	// BuildPrompts returns one prompt per entity, in input order.
	BuildPrompts(ctx context.Context, entities []string, profile domain.NormalizedProfile, style string, board BoardContext) ([]EntityPrompt, error)
}

// Outcome is the result of Understand: *Clarification or *Proposal.
type Outcome interface {
	outcome()
}

// Clarification asks the user for more detail before a plan can be made.
type Clarification struct {
	Questions []string
}

// Proposal is a plan together with the interpreter's explanation of it.
type Proposal struct {
	Plan      domain.Plan
	Reasoning string
}

func (*Clarification) outcome() {}
func (*Proposal) outcome()      {}

// EntityPrompt is the image generation prompt for one entity.
type EntityPrompt struct {
	Entity string `json:"entity"`
	Prompt string `json:"prompt"`
}

// BoardContext describes what the board is about, for prompt building.
type BoardContext struct {
	Topic    string `json:"topic,omitempty"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category"`
}

// genericTopics carry no information about the board subject.
var genericTopics = map[string]bool{
	"":        true,
	"general": true,
	"כללי":    true,
	"לוח":     true,
	"board":   true,
}

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryMedical, []string{"רפוא", "כאב", "תרופה", "רופא", "אחות", "בית חולים", "medical", "doctor", "pain", "hospital"}},
	{CategoryFood, []string{"אוכל", "פירות", "ירקות", "שתייה", "ארוחה", "food", "fruit", "vegetable", "meal", "drink"}},
	{CategoryEmotions, []string{"רגש", "שמח", "עצוב", "כועס", "מפחד", "emotion", "feeling"}},
	{CategoryHome, []string{"בית", "מטבח", "חדר", "סלון", "home", "house", "kitchen"}},
}

// InferBoardContext derives the board context from topic and title. When the
// topic is generic the category is guessed from keywords in the title and entities.
func InferBoardContext(topic, title string, entities []string) BoardContext {
	ctx := BoardContext{Topic: strings.TrimSpace(topic), Title: strings.TrimSpace(title)}

	haystack := strings.ToLower(ctx.Topic)
	if genericTopics[haystack] {
		haystack = strings.ToLower(ctx.Title + " " + strings.Join(entities, " "))
	}
	ctx.Category = matchCategory(haystack)
	return ctx
}

func matchCategory(text string) string {
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.category
			}
		}
	}
	return CategoryGeneral
}

// FallbackPrompts returns a trivial templated prompt per entity. Used when
// prompt building fails so that generation can still proceed.
func FallbackPrompts(entities []string) []EntityPrompt {
	out := make([]EntityPrompt, len(entities))
	for i, e := range entities {
		out[i] = EntityPrompt{Entity: e, Prompt: fmt.Sprintf("A realistic %s on white background", e)}
	}
	return out
}

// alignPrompts returns prompts ordered like entities, filling gaps with the
// fallback template. Model output may reorder, drop or rename entries.
func alignPrompts(entities []string, got []EntityPrompt) []EntityPrompt {
	byEntity := make(map[string]string, len(got))
	for _, p := range got {
		if p.Prompt != "" {
			byEntity[strings.TrimSpace(p.Entity)] = p.Prompt
		}
	}
	fallback := FallbackPrompts(entities)
	out := make([]EntityPrompt, len(entities))
	for i, e := range entities {
		prompt, ok := byEntity[strings.TrimSpace(e)]
		if !ok && i < len(got) && got[i].Prompt != "" {
			prompt, ok = got[i].Prompt, true
		}
		if !ok {
			prompt = fallback[i].Prompt
		}
		out[i] = EntityPrompt{Entity: e, Prompt: prompt}
	}
	return out
}
