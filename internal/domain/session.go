package domain

import (
	"time"
)

// Conversation roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
	RoleError  = "error"
)

// HistoryMessage is a prior conversation turn supplied by the client.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ConversationEntry is one line of a session transcript.
type ConversationEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Role      string         `json:"role"`
	Text      string         `json:"text"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ErrorEvent records a failure observed during a session.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
}

// SessionAssets lists the artifacts produced for a session.
type SessionAssets struct {
	ImageFiles []string `json:"image_files,omitempty"`
	BoardPNG   string   `json:"board_png,omitempty"`
	BoardPDF   string   `json:"board_pdf,omitempty"`
}

// Session holds telemetry accumulated for one user conversation.
type Session struct {
	SessionID       string
	UserName        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	TotalRequests   int
	FirstPrompt     string
	Summary         string
	ImagesRequested int
	ImagesCreated   int
	HadError        bool
	Conversation    []ConversationEntry
	Assets          SessionAssets
	Errors          []ErrorEvent
}

// Append adds an entry to the transcript and bumps the activity time.
func (s *Session) Append(now time.Time, role, text, source string, payload map[string]any) {
	s.Conversation = append(s.Conversation, ConversationEntry{
		Timestamp: now,
		Role:      role,
		Text:      text,
		Source:    source,
		Payload:   payload,
	})
	s.UpdatedAt = now
}

// IdleFor returns how long the session has been inactive at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.UpdatedAt)
}

// Duration returns the session length ending at endedAt, never negative.
func (s *Session) Duration(endedAt time.Time) time.Duration {
	d := endedAt.Sub(s.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

// SessionSummary is the one-row KPI view of a finalized session.
type SessionSummary struct {
	SessionID       string
	UserName        string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds float64
	TotalRequests   int
	FirstPrompt     string
	Summary         string
	ImagesRequested int
	ImagesCreated   int
	HadError        bool
}

// Summarize builds the KPI row for a session ending at endedAt.
func (s *Session) Summarize(endedAt time.Time) SessionSummary {
	return SessionSummary{
		SessionID:       s.SessionID,
		UserName:        s.UserName,
		StartedAt:       s.CreatedAt,
		EndedAt:         endedAt,
		DurationSeconds: s.Duration(endedAt).Seconds(),
		TotalRequests:   s.TotalRequests,
		FirstPrompt:     s.FirstPrompt,
		Summary:         s.Summary,
		ImagesRequested: s.ImagesRequested,
		ImagesCreated:   s.ImagesCreated,
		HadError:        s.HadError,
	}
}

// Clone returns a deep copy safe to hand outside the owning store.
func (s *Session) Clone() Session {
	c := *s
	c.Conversation = make([]ConversationEntry, len(s.Conversation))
	for i, e := range s.Conversation {
		c.Conversation[i] = e
		if e.Payload != nil {
			p := make(map[string]any, len(e.Payload))
			for k, v := range e.Payload {
				p[k] = v
			}
			c.Conversation[i].Payload = p
		}
	}
	c.Errors = append([]ErrorEvent(nil), s.Errors...)
	c.Assets.ImageFiles = append([]string(nil), s.Assets.ImageFiles...)
	return c
}
