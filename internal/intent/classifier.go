// Package intent provides the black-box intent classifier used by the
// conversational router.
//
// The rest of the system never interprets raw text itself: it hands the
// utterance to Classify and routes on the returned intent and entities.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Classification is the classifier's structured verdict for one utterance.
type Classification struct {
	Intent     string            `json:"intent"`
	Entities   map[string]string `json:"entities,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
}

// Classifier turns free text into an intent plus extracted entities.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// chatService is the minimal chat-completion surface the classifier needs.
// Kept as an interface so tests can script responses.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

const systemPrompt = `You classify utterances from a customer assembling a mobile-service order.
Respond with a JSON object: {"intent": "...", "entities": {...}, "confidence": 0.0-1.0}.
Valid intents: set_lines, choose_plan, add_device, add_protection, select_sim, checkout, check_status, reset, unknown.
Entity keys when present: line_count, line_number, plan_id, device_id, protection_id, sim_type, transaction_id.
All entity values must be strings.`

// OpenAIClassifier classifies utterances with an OpenAI chat model.
type OpenAIClassifier struct {
	chat  chatService
	model openai.ChatModel
}

type openaiChat struct {
	client openai.Client
}

func (c openaiChat) New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// NewOpenAIClassifier creates a classifier using the given API key.
func NewOpenAIClassifier(apiKey string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClassifier{
		chat:  openaiChat{client: client},
		model: openai.ChatModelGPT4oMini,
	}, nil
}

// Classify sends the utterance to the model and parses the JSON verdict.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	slog.Debug("OpenAIClassifier.Classify invoked", "length", len(text))
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		slog.Error("OpenAIClassifier.Classify request failed", "error", err)
		return Classification{}, fmt.Errorf("classification request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Classification{}, fmt.Errorf("classification returned no choices")
	}
	cls, err := ParseClassification(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Error("OpenAIClassifier.Classify parse failed", "error", err)
		return Classification{}, err
	}
	slog.Debug("OpenAIClassifier.Classify succeeded", "intent", cls.Intent, "confidence", cls.Confidence)
	return cls, nil
}

// ParseClassification decodes the model's JSON verdict. An empty or unknown
// intent normalizes to "unknown".
func ParseClassification(content string) (Classification, error) {
	var cls Classification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return Classification{}, fmt.Errorf("failed to decode classification %q: %w", content, err)
	}
	cls.Intent = strings.ToLower(strings.TrimSpace(cls.Intent))
	if cls.Intent == "" {
		cls.Intent = "unknown"
	}
	return cls, nil
}
