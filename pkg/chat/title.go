package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
)

const titlePrompt = `Generate a short, concise title (max 5 words) for this chat conversation.
Answer with JSON only: {"title": "..."}
User: %s
Model: %s`

// conversationTitle asks p for a title. Answers that are not the requested
// JSON are used as plain text.
func conversationTitle(ctx context.Context, p llm.Provider, userMsg, modelMsg string) (string, error) {
	text, err := p.Generate(ctx, llm.Request{Prompt: fmt.Sprintf(titlePrompt, userMsg, modelMsg)})
	if err != nil {
		return "", err
	}

	raw := research.StripCodeFence(text)
	var resp struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err == nil {
		return strings.TrimSpace(resp.Title), nil
	}
	return strings.Trim(strings.TrimSpace(raw), `"'`), nil
}
