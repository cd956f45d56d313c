package research

import "github.com/mikeboe/deep-research/pkg/search"

// Source and ImageSource are shared with the search backends; both are
// identified by URL.
type (
	Source      = search.Source
	ImageSource = search.ImageSource
)

// Config is the read-only configuration of a run.
type Config struct {
	// Language is the language generated text is written in. Empty lets the
	// model follow the language of the query.
	Language string `json:"language,omitempty"`
	// MaxResults is the result-count budget per search query.
	MaxResults int `json:"maxResults"`
	// Scope is passed through to the search backend.
	Scope string `json:"scope,omitempty"`
	// ModelWebSearch lets the task model use its own search tool in
	// model-knowledge mode.
	ModelWebSearch bool `json:"modelWebSearch"`
	// Requirement is appended to the final report instructions.
	Requirement string `json:"requirement,omitempty"`
}

// ReportOptions toggle what the final report embeds.
type ReportOptions struct {
	EnableCitationImage bool `json:"enableCitationImage"`
	EnableReferences    bool `json:"enableReferences"`
}

// SearchTask is one sub-question derived from the plan.
type SearchTask struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// TaskState is the lifecycle state of a search task result.
type TaskState string

const TaskCompleted TaskState = "completed"

// SearchTaskResult is the outcome of one search task.
type SearchTaskResult struct {
	Query        string        `json:"query"`
	ResearchGoal string        `json:"researchGoal"`
	State        TaskState     `json:"state"`
	Learning     string        `json:"learning"`
	Sources      []Source      `json:"sources"`
	Images       []ImageSource `json:"images"`
}

// FinalReportResult is the terminal artifact of a run.
type FinalReportResult struct {
	Title       string        `json:"title"`
	FinalReport string        `json:"finalReport"`
	Learnings   []string      `json:"learnings"`
	Sources     []Source      `json:"sources"`
	Images      []ImageSource `json:"images"`
}
