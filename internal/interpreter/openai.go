package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/text/unicode/norm"
)

// ErrNoChoices is returned when the model response has no choices.
var ErrNoChoices = errors.New("no completion choices returned")

const understandSystemPrompt = `You are an assistant helping speech therapists create communication boards.
Your job is to understand what board the user wants to create.

Analyze the user's description and patient profile, then return only a JSON object:
{
  "needs_clarification": boolean,
  "questions": ["question1", "question2"],
  "plan": {
    "topic": "topic name",
    "entities": ["item1", "item2"],
    "layout": "2x4" | "3x3" | "3x4",
    "reasoning": "explanation"
  }
}

Guidelines:
- If the topic is clear (e.g. fruits, emotions, medical needs) extract as many relevant items as the layout holds.
- If the description is vague, ask one or two clarifying questions.
- Entity names are written in Hebrew.
- Consider patient age and reading ability. For patients who cannot read, prefer concrete nouns over abstract concepts.`

const promptsSystemPrompt = `You are an expert at creating image generation prompts for communication boards.

Patient context:
- Age: %d
- Gender: %s
- Style needed: %s
- Board: %s (%s)

For each entity, write a detailed prompt that:
- Describes a single, clear object on a white background
- Uses the %s style (realistic and explicit if the patient cannot read, clean and friendly otherwise)
- Is age-appropriate
- Has no text, logos or watermarks
- Is an explicit, recognizable representation, not an icon or symbol

Return only a JSON object: {"prompts": [{"entity": "entity_name", "prompt": "detailed prompt"}]}`

// OpenAI interprets descriptions with a chat completion model.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI interpreter. Extra client options are applied
// after the API key.
func NewOpenAI(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

type understandResponse struct {
	NeedsClarification bool     `json:"needs_clarification"`
	Questions          []string `json:"questions"`
	Plan               *struct {
		Topic     string   `json:"topic"`
		Entities  []string `json:"entities"`
		Layout    string   `json:"layout"`
		Reasoning string   `json:"reasoning"`
	} `json:"plan"`
}

// Understand asks the model for a plan or clarification questions.
func (o *OpenAI) Understand(ctx context.Context, description string, profile domain.NormalizedProfile, history []domain.HistoryMessage) (Outcome, error) {
	profileJSON, err := json.Marshal(map[string]any{
		"age":              profile.Age,
		"gender":           profile.Gender,
		"can_read":         profile.ImageStyle != domain.ImageStyleRealistic,
		"labels_languages": profile.LabelsLanguages,
		"layout":           profile.Layout,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(understandSystemPrompt)}
	for _, h := range history {
		switch h.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(h.Text))
		case domain.RoleAgent, "assistant":
			messages = append(messages, openai.AssistantMessage(h.Text))
		}
	}
	messages = append(messages, openai.UserMessage(fmt.Sprintf(
		"Patient profile: %s\n\nUser description: %s\n\nProvide your analysis as JSON.", profileJSON, description)))

	content, err := o.complete(ctx, messages, 0.3)
	if err != nil {
		return nil, err
	}

	var resp understandResponse
	if err := decodeJSONObject(content, &resp); err != nil {
		return nil, err
	}

	if resp.NeedsClarification || resp.Plan == nil {
		return &Clarification{Questions: resp.Questions}, nil
	}

	layout := resp.Plan.Layout
	if _, ok := domain.LookupLayout(layout); !ok {
		layout = domain.LayoutOrDefault(profile.Layout).Name
	}
	entities := make([]string, 0, len(resp.Plan.Entities))
	for _, e := range resp.Plan.Entities {
		if e = norm.NFC.String(strings.TrimSpace(e)); e != "" {
			entities = append(entities, e)
		}
	}

	return &Proposal{
		Plan:      domain.Plan{Topic: resp.Plan.Topic, Entities: entities, Layout: layout},
		Reasoning: resp.Plan.Reasoning,
	}, nil
}

// BuildPrompts asks the model for one detailed prompt per entity. Entries the
// model drops are filled with the fallback template.
func (o *OpenAI) BuildPrompts(ctx context.Context, entities []string, profile domain.NormalizedProfile, style string, board BoardContext) ([]EntityPrompt, error) {
	if style == "" {
		style = profile.ImageStyle
	}
	subject := board.Topic
	if subject == "" {
		subject = board.Title
	}
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return nil, fmt.Errorf("marshal entities: %w", err)
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(promptsSystemPrompt,
			profile.Age, profile.Gender, style, subject, board.Category, style)),
		openai.UserMessage("Create image prompts for these entities: " + string(entitiesJSON)),
	}

	content, err := o.complete(ctx, messages, 0.7)
	if err != nil {
		return nil, err
	}

	prompts, err := decodePrompts(content)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("model returned no prompts")
	}
	o.logger.Debug("Built image prompts", "count", len(prompts), "entities", len(entities))
	return alignPrompts(entities, prompts), nil
}

func (o *OpenAI) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.F(o.model),
		Messages:    openai.F(messages),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrNoChoices
	}
	return completion.Choices[0].Message.Content, nil
}

// decodeJSONObject decodes the outermost {...} block of content into v.
func decodeJSONObject(content string, v any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}

// decodePrompts accepts a bare array or an object wrapping it under
// "prompts", "image_prompts" or "items".
func decodePrompts(content string) ([]EntityPrompt, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "[") {
		var prompts []EntityPrompt
		if err := json.Unmarshal([]byte(trimmed), &prompts); err != nil {
			return nil, fmt.Errorf("decode prompt array: %w", err)
		}
		return prompts, nil
	}

	var wrapped map[string]json.RawMessage
	if err := decodeJSONObject(trimmed, &wrapped); err != nil {
		return nil, err
	}
	for _, key := range []string{"prompts", "image_prompts", "items"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		var prompts []EntityPrompt
		if err := json.Unmarshal(raw, &prompts); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return prompts, nil
	}
	return nil, nil
}
