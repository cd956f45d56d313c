// Package llm is the language model collaborator of the research engine.
// Providers expose one-shot generation and a streamed generation whose
// units are one of four part kinds: text, reasoning, discovered source, finish.
package llm

import (
	"context"
	"fmt"

	"github.com/mikeboe/deep-research/pkg/search"
)

// Request is a single prompt sent to a model.
type Request struct {
	System string
	Prompt string
	// WebSearch asks the provider to ground the answer with its own search
	// tool. Providers without one ignore it.
	WebSearch bool
}

// StreamPart is one unit of a streamed generation. The concrete types are
// TextDelta, ReasoningDelta, SourcePart and Finish.
type StreamPart interface {
	streamPart()
}

// TextDelta carries visible output text.
type TextDelta struct{ Text string }

// ReasoningDelta carries reasoning text surfaced separately by the provider.
type ReasoningDelta struct{ Text string }

// SourcePart reports a source the model retrieved on its own.
type SourcePart struct{ Source search.Source }

// Finish ends the stream.
type Finish struct{ Reason string }

func (TextDelta) streamPart()      {}
func (ReasoningDelta) streamPart() {}
func (SourcePart) streamPart()     {}
func (Finish) streamPart()         {}

// Provider is a configured model.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
	// Stream calls onPart synchronously, in order, on the caller's goroutine.
	// An error returned by onPart aborts the stream and is returned as is.
	Stream(ctx context.Context, req Request, onPart func(StreamPart) error) error
}

// Error tags a model failure with the provider and model that produced it.
type Error struct {
	Provider string
	Model    string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// callbackError marks errors raised by the stream consumer so providers can
// hand them back untouched instead of blaming the model.
type callbackError struct{ err error }

func (c callbackError) Error() string { return c.err.Error() }
func (c callbackError) Unwrap() error { return c.err }
