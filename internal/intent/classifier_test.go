package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
)

// mockChat scripts chat-completion responses for classifier tests.
type mockChat struct {
	content string
	err     error
	params  openai.ChatCompletionNewParams
}

func (m *mockChat) New(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.content}},
		},
	}, nil
}

func TestClassifyParsesVerdict(t *testing.T) {
	chat := &mockChat{content: `{"intent":"choose_plan","entities":{"plan_id":"plan-40","line_number":"2"},"confidence":0.92}`}
	c := &OpenAIClassifier{chat: chat, model: openai.ChatModelGPT4oMini}

	cls, err := c.Classify(context.Background(), "put the 40 dollar plan on line 2")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if cls.Intent != "choose_plan" {
		t.Errorf("Expected intent choose_plan, got %q", cls.Intent)
	}
	if cls.Entities["line_number"] != "2" {
		t.Errorf("Expected line_number entity 2, got %q", cls.Entities["line_number"])
	}
	if cls.Confidence != 0.92 {
		t.Errorf("Expected confidence 0.92, got %v", cls.Confidence)
	}
	if len(chat.params.Messages) != 2 {
		t.Errorf("Expected system + user messages, got %d", len(chat.params.Messages))
	}
}

func TestClassifyRequestError(t *testing.T) {
	chat := &mockChat{err: errors.New("rate limited")}
	c := &OpenAIClassifier{chat: chat, model: openai.ChatModelGPT4oMini}

	if _, err := c.Classify(context.Background(), "hello"); err == nil {
		t.Error("Expected error when the chat call fails")
	}
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"valid", `{"intent":"checkout"}`, "checkout", false},
		{"uppercase normalized", `{"intent":"  Checkout "}`, "checkout", false},
		{"empty intent", `{"intent":""}`, "unknown", false},
		{"missing intent", `{"entities":{}}`, "unknown", false},
		{"invalid json", `not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, err := ParseClassification(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClassification failed: %v", err)
			}
			if cls.Intent != tt.want {
				t.Errorf("Expected intent %q, got %q", tt.want, cls.Intent)
			}
		})
	}
}

func TestNewOpenAIClassifierRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClassifier(""); err == nil {
		t.Error("Expected error for empty API key")
	}
}
