package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mikeboe/deep-research/pkg/llm"
)

type titleModel struct {
	answer string
	err    error
	prompt string
}

func (m *titleModel) Name() string { return "title" }

func (m *titleModel) Generate(_ context.Context, req llm.Request) (string, error) {
	m.prompt = req.Prompt
	return m.answer, m.err
}

func (m *titleModel) Stream(context.Context, llm.Request, func(llm.StreamPart) error) error {
	return errors.New("not streamed")
}

func TestConversationTitle(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{name: "json", answer: `{"title": " Rates and SaaS "}`, want: "Rates and SaaS"},
		{name: "fenced json", answer: "```json\n{\"title\": \"Rate Impact\"}\n```", want: "Rate Impact"},
		{name: "plain text", answer: `"Valuation Drivers"`, want: "Valuation Drivers"},
		{name: "empty title", answer: `{"title": ""}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &titleModel{answer: tt.answer}
			got, err := conversationTitle(context.Background(), m, "how do rates matter?", "they compress multiples")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("title = %q, want %q", got, tt.want)
			}
			if !strings.Contains(m.prompt, "how do rates matter?") || !strings.Contains(m.prompt, "they compress multiples") {
				t.Errorf("prompt misses the exchange: %q", m.prompt)
			}
		})
	}

	if _, err := conversationTitle(context.Background(), &titleModel{err: errors.New("quota")}, "q", "a"); err == nil {
		t.Error("model error was swallowed")
	}
}
