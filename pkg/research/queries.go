package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError reports model output that does not match the search task
// schema. Fragment holds the offending text, shortened.
type ValidationError struct {
	Reason   string
	Fragment string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid search queries: %s (output: %q)", e.Reason, e.Fragment)
}

// ParseSearchTasks strips markdown code fences from text, parses it as a
// JSON array and checks every element has a non-empty string query and a
// string researchGoal.
func ParseSearchTasks(text string) ([]SearchTask, error) {
	raw := StripCodeFence(text)

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &elems); err != nil {
		return nil, &ValidationError{Reason: "not a JSON array: " + err.Error(), Fragment: fragment(raw)}
	}
	if elems == nil {
		return nil, &ValidationError{Reason: "not a JSON array: null", Fragment: fragment(raw)}
	}

	tasks := make([]SearchTask, 0, len(elems))
	for i, elem := range elems {
		var fields struct {
			Query        *string `json:"query"`
			ResearchGoal *string `json:"researchGoal"`
		}
		dec := json.NewDecoder(bytes.NewReader(elem))
		if err := dec.Decode(&fields); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("element %d: %v", i, err), Fragment: fragment(string(elem))}
		}
		switch {
		case fields.Query == nil:
			return nil, &ValidationError{Reason: fmt.Sprintf("element %d: query is required", i), Fragment: fragment(string(elem))}
		case strings.TrimSpace(*fields.Query) == "":
			return nil, &ValidationError{Reason: fmt.Sprintf("element %d: query is empty", i), Fragment: fragment(string(elem))}
		case fields.ResearchGoal == nil:
			return nil, &ValidationError{Reason: fmt.Sprintf("element %d: researchGoal is required", i), Fragment: fragment(string(elem))}
		}
		tasks = append(tasks, SearchTask{Query: strings.TrimSpace(*fields.Query), ResearchGoal: *fields.ResearchGoal})
	}
	return tasks, nil
}

// StripCodeFence returns the body of the first ``` fenced block in text, or
// the trimmed text when there is none.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// Drop the info string (```json).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func fragment(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if runes := []rune(s); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return s
}
