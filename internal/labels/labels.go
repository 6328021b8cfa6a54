// Package labels maps board entities to label text in each requested language.
package labels

import (
	_ "embed"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed dictionary.yaml
var defaultDictionary []byte

// Label is one line of text under a board cell.
type Label struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Set holds the labels of one entity, in the order the languages were requested.
type Set []Label

// Text returns the label for lang, or "" when the set has none.
func (s Set) Text(lang string) string {
	for _, l := range s {
		if l.Language == lang {
			return l.Text
		}
	}
	return ""
}

// Translator looks entities up in a Hebrew-keyed dictionary.
type Translator struct {
	entries map[string]map[string]string
	fold    cases.Caser
}

// NewTranslator loads the embedded dictionary.
func NewTranslator() (*Translator, error) {
	return ParseDictionary(defaultDictionary)
}

// ParseDictionary builds a Translator from YAML of the form
// group -> hebrew term -> language -> text. Groups only organize the file.
func ParseDictionary(data []byte) (*Translator, error) {
	var groups map[string]map[string]map[string]string
	if err := yaml.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("parse label dictionary: %w", err)
	}

	t := &Translator{
		entries: make(map[string]map[string]string),
		fold:    cases.Fold(),
	}
	for _, terms := range groups {
		for term, translations := range terms {
			byLang := make(map[string]string, len(translations))
			for lang, text := range translations {
				byLang[strings.ToLower(lang)] = text
			}
			t.entries[t.key(term)] = byLang
		}
	}
	return t, nil
}

func (t *Translator) key(s string) string {
	return t.fold.String(norm.NFC.String(strings.TrimSpace(s)))
}

// Len returns the number of dictionary terms.
func (t *Translator) Len() int {
	return len(t.entries)
}

// Labels returns one Set per entity. Hebrew labels are the entity itself;
// other languages come from the dictionary, passing unknown terms through.
func (t *Translator) Labels(entities, languages []string) []Set {
	out := make([]Set, 0, len(entities))
	for _, entity := range entities {
		set := make(Set, 0, len(languages))
		for _, lang := range languages {
			set = append(set, Label{Language: lang, Text: t.translate(entity, lang)})
		}
		out = append(out, set)
	}
	return out
}

func (t *Translator) translate(entity, lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "hebrew" || lang == "he" {
		return entity
	}
	if byLang, ok := t.entries[t.key(entity)]; ok {
		if text, ok := byLang[lang]; ok {
			return text
		}
	}
	return entity
}
