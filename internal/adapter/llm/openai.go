package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIReasoner is the reasoning/verification provider backed by the OpenAI
// chat completions API.
type OpenAIReasoner struct {
	client *openai.Client
	model  string
}

func NewOpenAIReasoner(apiKeyEnv, model string) (*OpenAIReasoner, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIReasoner{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (r *OpenAIReasoner) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		slog.Error("reasoning request failed", "model", r.model, "error", err)
		return "", fmt.Errorf("reasoning request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("reasoning provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (r *OpenAIReasoner) ModelName() string {
	return r.model
}

// Verdict is the structured response expected from verification prompts.
type Verdict struct {
	Supports   bool    `json:"supports"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ParseVerdict extracts a Verdict from a completion. Models routinely wrap
// JSON in code fences or prose, so the first balanced object is taken.
// A response with no parseable object yields ok=false; callers treat that as
// a zero-confidence verification failure, not an error.
func ParseVerdict(response string) (Verdict, bool) {
	raw := extractJSONObject(response)
	if raw == "" {
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, false
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v, true
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
