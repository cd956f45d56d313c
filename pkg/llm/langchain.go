package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
)

const maxRetries = 3

// LangChain adapts a langchaingo model. Reasoning from these models arrives
// inline in the text (think tags), so only TextDelta and Finish are emitted.
type LangChain struct {
	LLM         llms.Model
	Provider    string
	Model       string
	Temperature float64
	Logger      *slog.Logger
}

func (l *LangChain) Name() string { return l.Provider }

func (l *LangChain) messages(req Request) []llms.MessageContent {
	var msgs []llms.MessageContent
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
}

func (l *LangChain) options() []llms.CallOption {
	var opts []llms.CallOption
	if l.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(l.Temperature))
	}
	return opts
}

func (l *LangChain) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Generate retries up to maxRetries times with linear backoff.
func (l *LangChain) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			l.logger().Warn("Retrying LLM generation", "provider", l.Provider, "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second * time.Duration(i)):
			}
		}

		resp, err := l.LLM.GenerateContent(ctx, l.messages(req), l.options()...)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}
		return resp.Choices[0].Content, nil
	}

	return "", &Error{Provider: l.Provider, Model: l.Model, Err: fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)}
}

// Stream is not retried: chunks may already have reached the consumer.
func (l *LangChain) Stream(ctx context.Context, req Request, onPart func(StreamPart) error) error {
	opts := append(l.options(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if err := onPart(TextDelta{Text: string(chunk)}); err != nil {
			return callbackError{err}
		}
		return nil
	}))

	resp, err := l.LLM.GenerateContent(ctx, l.messages(req), opts...)
	if err != nil {
		var cbErr callbackError
		if errors.As(err, &cbErr) {
			return cbErr.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Provider: l.Provider, Model: l.Model, Err: err}
	}

	reason := ""
	if len(resp.Choices) > 0 {
		reason = resp.Choices[0].StopReason
	}
	return onPart(Finish{Reason: reason})
}
