package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel streams chunks through the langchaingo streaming callback.
type fakeModel struct {
	chunks []string
	err    error
	calls  int
	failN  int
}

func (f *fakeModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, errors.New("temporary outage")
	}
	if f.err != nil {
		return nil, f.err
	}
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	content := ""
	for _, c := range f.chunks {
		content += c
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content, StopReason: "stop"}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainStream(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hel", "lo"}}
	p := &LangChain{LLM: model, Provider: "openai", Model: "gpt"}

	var parts []StreamPart
	err := p.Stream(context.Background(), Request{Prompt: "hi"}, func(part StreamPart) error {
		parts = append(parts, part)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []StreamPart{TextDelta{Text: "Hel"}, TextDelta{Text: "lo"}, Finish{Reason: "stop"}}
	if len(parts) != len(want) {
		t.Fatalf("got %d parts, want %d: %#v", len(parts), len(want), parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("part %d = %#v, want %#v", i, parts[i], want[i])
		}
	}
}

func TestLangChainStreamCallbackErrorIsReturnedUnwrapped(t *testing.T) {
	sentinel := errors.New("consumer gone")
	p := &LangChain{LLM: &fakeModel{chunks: []string{"a", "b"}}, Provider: "openai", Model: "gpt"}

	err := p.Stream(context.Background(), Request{Prompt: "hi"}, func(StreamPart) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		t.Errorf("consumer error should not be attributed to the provider: %v", err)
	}
}

func TestLangChainStreamProviderErrorIsTagged(t *testing.T) {
	p := &LangChain{LLM: &fakeModel{err: errors.New("boom")}, Provider: "anthropic", Model: "claude"}

	err := p.Stream(context.Background(), Request{Prompt: "hi"}, func(StreamPart) error { return nil })
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if llmErr.Provider != "anthropic" || llmErr.Model != "claude" {
		t.Errorf("unexpected tag: %+v", llmErr)
	}
}

func TestLangChainGenerateRetries(t *testing.T) {
	model := &fakeModel{chunks: []string{"ok"}, failN: 1}
	p := &LangChain{LLM: model, Provider: "openai", Model: "gpt"}

	got, err := p.Generate(context.Background(), Request{System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "ok" {
		t.Errorf("Generate = %q, want ok", got)
	}
	if model.calls != 2 {
		t.Errorf("calls = %d, want 2", model.calls)
	}
}

func TestNewRejectsMissingSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
	}{
		{"no provider", Settings{Model: "m"}},
		{"no model", Settings{Provider: "openai"}},
		{"unknown provider", Settings{Provider: "acme", Model: "m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), tt.settings); err == nil {
				t.Error("expected error")
			}
		})
	}
}
