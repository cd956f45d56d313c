package research

import (
	"context"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
)

var bracketReplacer = strings.NewReplacer("【", "[", "】", "]")

// streamText runs one streamed generation. Visible text is accumulated,
// reasoning goes to the sink only, and model-discovered sources are handed
// to onSource in arrival order.
func (e *Engine) streamText(ctx context.Context, model llm.Provider, req llm.Request, onSource func(Source)) (string, error) {
	var out strings.Builder
	proc := NewThinkTagProcessor()

	onVisible := func(s string) {
		out.WriteString(s)
		e.emit(MessageChunk{Text: s})
	}
	onReasoning := func(s string) {
		e.emit(ReasoningChunk{Text: s})
	}

	err := model.Stream(ctx, req, func(part llm.StreamPart) error {
		switch p := part.(type) {
		case llm.TextDelta:
			proc.ProcessChunk(bracketReplacer.Replace(p.Text), onVisible, onReasoning)
		case llm.ReasoningDelta:
			onReasoning(p.Text)
		case llm.SourcePart:
			if onSource != nil && p.Source.URL != "" {
				onSource(p.Source)
			}
		case llm.Finish:
			e.logger().Debug("stream finished", "model", model.Name(), "reason", p.Reason)
		}
		return ctx.Err()
	})
	if err != nil {
		return "", err
	}
	proc.End(onVisible)
	return out.String(), nil
}
