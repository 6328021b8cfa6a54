package interpreter

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/cfi-labs/boardgen/internal/domain"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var defaultCatalog []byte

var (
	listSeparators = regexp.MustCompile(`[,;\n\r\t]+`)
	wordSeparators = regexp.MustCompile(`[,;\s]+`)
)

const subjectMarker = "בנושא"

// Topic is a keyword with its default entities.
type Topic struct {
	Keyword  string   `yaml:"keyword"`
	Category string   `yaml:"category"`
	Entities []string `yaml:"entities"`
}

// Catalog is the keyword table used by Heuristic.
type Catalog struct {
	Topics     []Topic  `yaml:"topics"`
	BasicNeeds []string `yaml:"basic_needs"`
}

// ParseCatalog decodes a YAML topic catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse topic catalog: %w", err)
	}
	if len(c.BasicNeeds) == 0 {
		return nil, fmt.Errorf("parse topic catalog: basic_needs is empty")
	}
	return &c, nil
}

// Heuristic interprets descriptions without a language model.
type Heuristic struct {
	catalog *Catalog
}

// NewHeuristic creates a Heuristic using the embedded topic catalog.
func NewHeuristic() (*Heuristic, error) {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		return nil, err
	}
	return &Heuristic{catalog: c}, nil
}

// Understand extracts entities from an explicit list, a known topic or the
// words of the description. A single unrecognized word yields a Clarification.
func (h *Heuristic) Understand(_ context.Context, description string, profile domain.NormalizedProfile, _ []domain.HistoryMessage) (Outcome, error) {
	text := norm.NFC.String(strings.TrimSpace(description))
	if text == "" {
		return &Clarification{Questions: []string{"על איזה נושא הלוח?"}}, nil
	}
	lowered := strings.ToLower(text)

	var (
		topic     string
		entities  []string
		reasoning string
	)

	if strings.ContainsAny(text, ",;\n") {
		entities = splitKeep(text, listSeparators, 1)
		reasoning = "זיהיתי רשימת פריטים מפורשת."
	}

	if len(entities) == 0 {
		for _, t := range h.catalog.Topics {
			if strings.Contains(lowered, t.Keyword) {
				topic = t.Keyword
				entities = append([]string(nil), t.Entities...)
				reasoning = fmt.Sprintf("זיהיתי את הנושא \"%s\".", t.Keyword)
				break
			}
		}
	}

	if len(entities) == 0 {
		if strings.Contains(lowered, subjectMarker) {
			entities = append([]string(nil), h.catalog.BasicNeeds...)
			reasoning = "לא זיהיתי נושא מוכר, אז בחרתי צרכים בסיסיים."
		} else {
			entities = splitKeep(text, wordSeparators, 2)
			if len(entities) <= 1 {
				return &Clarification{Questions: []string{
					fmt.Sprintf("מה תרצו שיופיע בלוח \"%s\"?", text),
					"אפשר לכתוב רשימת פריטים מופרדת בפסיקים.",
				}}, nil
			}
			reasoning = "בניתי את הלוח מהמילים בתיאור."
		}
	}

	layout := domain.LayoutOrDefault(profile.Layout)
	if len(entities) > layout.Capacity() {
		entities = entities[:layout.Capacity()]
	}

	return &Proposal{
		Plan:      domain.Plan{Topic: topic, Entities: entities, Layout: layout.Name},
		Reasoning: reasoning,
	}, nil
}

// BuildPrompts returns a templated prompt per entity.
func (h *Heuristic) BuildPrompts(_ context.Context, entities []string, profile domain.NormalizedProfile, style string, board BoardContext) ([]EntityPrompt, error) {
	out := make([]EntityPrompt, len(entities))
	for i, e := range entities {
		out[i] = EntityPrompt{Entity: e, Prompt: templatePrompt(e, profile, style, board)}
	}
	return out, nil
}

func templatePrompt(entity string, profile domain.NormalizedProfile, style string, board BoardContext) string {
	if style == "" {
		style = profile.ImageStyle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Explicit, non-icon depiction of '%s' on white background; one main object; style=%s; ", entity, style)
	if board.Category != "" && board.Category != CategoryGeneral {
		fmt.Fprintf(&b, "for a %s communication board; ", board.Category)
	}
	fmt.Fprintf(&b, "no text, no watermarks, no logos; appropriate for a %d year old.", profile.Age)
	return b.String()
}

// splitKeep splits text and keeps trimmed parts longer than minRunes.
func splitKeep(text string, sep *regexp.Regexp, minRunes int) []string {
	var out []string
	for _, p := range sep.Split(text, -1) {
		p = strings.TrimSpace(p)
		if utf8.RuneCountInString(p) > minRunes {
			out = append(out, p)
		}
	}
	return out
}
