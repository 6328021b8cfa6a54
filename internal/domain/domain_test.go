package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestNormalizeProfileDefaults(t *testing.T) {
	p := NormalizeProfile(PatientProfile{}, nil)

	assert.Equal(t, []string{PrimaryLanguage}, p.LabelsLanguages)
	assert.Equal(t, ImageStyleCartoon, p.ImageStyle)
	assert.Equal(t, DefaultLayout, p.Layout)
	assert.Equal(t, 10, p.Age)
	assert.Equal(t, "child", p.Gender)
}

func TestNormalizeProfileSecondLanguagePrecedence(t *testing.T) {
	cases := []struct {
		name    string
		profile PatientProfile
		prefs   *Preferences
		want    []string
	}{
		{"preferences win", PatientProfile{Language: "arabic", SecondLanguage: "russian"}, &Preferences{SecondLanguage: "English"}, []string{"hebrew", "english"}},
		{"profile second language", PatientProfile{Language: "arabic", SecondLanguage: "russian"}, nil, []string{"hebrew", "russian"}},
		{"non-hebrew profile language", PatientProfile{Language: "arabic"}, nil, []string{"hebrew", "arabic"}},
		{"hebrew profile language", PatientProfile{Language: "he"}, nil, []string{"hebrew"}},
		{"hebrew second language ignored", PatientProfile{SecondLanguage: "עברית"}, nil, []string{"hebrew"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeProfile(tc.profile, tc.prefs).LabelsLanguages)
		})
	}
}

func TestNormalizeProfileStyleAndLayout(t *testing.T) {
	p := NormalizeProfile(PatientProfile{Age: intPtr(7), Gender: "girl", CanRead: boolPtr(false)}, &Preferences{Layout: "3x4"})
	assert.Equal(t, ImageStyleRealistic, p.ImageStyle)
	assert.Equal(t, "3x4", p.Layout)
	assert.Equal(t, 7, p.Age)
	assert.Equal(t, "girl", p.Gender)

	p = NormalizeProfile(PatientProfile{CanRead: boolPtr(true)}, &Preferences{Layout: "9x9"})
	assert.Equal(t, ImageStyleCartoon, p.ImageStyle)
	assert.Equal(t, DefaultLayout, p.Layout)
}

func TestLayouts(t *testing.T) {
	for name, capacity := range map[string]int{"2x4": 8, "3x3": 9, "3x4": 12} {
		l, ok := LookupLayout(name)
		assert.True(t, ok, name)
		assert.Equal(t, capacity, l.Capacity(), name)
	}
	_, ok := LookupLayout("1x1")
	assert.False(t, ok)
	assert.Equal(t, 8, LayoutOrDefault("1x1").Capacity())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusInProgress.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusError.Terminal())
}

func TestSessionCloneIsDeep(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	s := &Session{SessionID: "s", CreatedAt: start, UpdatedAt: start}
	s.Append(start.Add(time.Minute), RoleUser, "hi", "user_request", map[string]any{"k": "v"})
	s.Assets.ImageFiles = []string{"a.png"}

	c := s.Clone()
	c.Conversation[0].Payload["k"] = "changed"
	c.Assets.ImageFiles[0] = "b.png"

	assert.Equal(t, "v", s.Conversation[0].Payload["k"])
	assert.Equal(t, "a.png", s.Assets.ImageFiles[0])
	assert.Equal(t, 2*time.Minute, s.IdleFor(start.Add(3*time.Minute)))
}

func TestSessionSummarize(t *testing.T) {
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	s := &Session{SessionID: "s", CreatedAt: start, TotalRequests: 2, ImagesRequested: 3, ImagesCreated: 3}

	sum := s.Summarize(start.Add(90 * time.Second))
	assert.Equal(t, 90.0, sum.DurationSeconds)
	assert.Equal(t, 2, sum.TotalRequests)

	assert.Zero(t, s.Summarize(start.Add(-time.Second)).DurationSeconds)
}
