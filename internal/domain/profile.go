// Package domain contains core domain types for the board generation service.
package domain

import "strings"

// Image styles chosen during profile normalization.
const (
	ImageStyleRealistic = "realistic_explicit"
	ImageStyleCartoon   = "cartoon_clean"
)

// PrimaryLanguage is always the first label language on a board.
const PrimaryLanguage = "hebrew"

// PatientProfile describes the board's intended user as submitted by a client.
type PatientProfile struct {
	Age            *int   `json:"age,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Language       string `json:"language,omitempty"`
	CanRead        *bool  `json:"can_read,omitempty"`
	SecondLanguage string `json:"second_language,omitempty"`
}

// Preferences carries optional board preferences.
type Preferences struct {
	Layout         string `json:"layout,omitempty"`
	PaperSize      string `json:"paper_size,omitempty"`
	SecondLanguage string `json:"second_language,omitempty"`
}

// NormalizedProfile is the only profile shape the core works with.
type NormalizedProfile struct {
	LabelsLanguages []string `json:"labels_languages"`
	ImageStyle      string   `json:"image_style"`
	Layout          string   `json:"-"`
	Age             int      `json:"-"`
	Gender          string   `json:"-"`
}

// NormalizeProfile converts a client profile plus preferences into a NormalizedProfile.
// The second label language comes from preferences first, then the profile's explicit
// second language, then the profile language when it is not Hebrew.
func NormalizeProfile(p PatientProfile, prefs *Preferences) NormalizedProfile {
	langs := []string{PrimaryLanguage}

	var second string
	switch {
	case prefs != nil && prefs.SecondLanguage != "":
		second = prefs.SecondLanguage
	case p.SecondLanguage != "":
		second = p.SecondLanguage
	case p.Language != "" && !isHebrew(p.Language):
		second = p.Language
	}
	if second != "" && !isHebrew(second) {
		langs = append(langs, strings.ToLower(strings.TrimSpace(second)))
	}

	style := ImageStyleCartoon
	if p.CanRead != nil && !*p.CanRead {
		style = ImageStyleRealistic
	}

	layout := DefaultLayout
	if prefs != nil {
		if _, ok := LookupLayout(prefs.Layout); ok {
			layout = prefs.Layout
		}
	}

	age := 10
	if p.Age != nil && *p.Age > 0 {
		age = *p.Age
	}
	gender := p.Gender
	if gender == "" {
		gender = "child"
	}

	return NormalizedProfile{
		LabelsLanguages: langs,
		ImageStyle:      style,
		Layout:          layout,
		Age:             age,
		Gender:          gender,
	}
}

func isHebrew(lang string) bool {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "hebrew", "he", "heb", "עברית":
		return true
	}
	return false
}
