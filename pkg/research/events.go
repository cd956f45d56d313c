package research

// Step names a pipeline stage in progress events.
type Step string

const (
	StepReportPlan  Step = "report-plan"
	StepSerpQuery   Step = "serp-query"
	StepTaskList    Step = "task-list"
	StepSearchTask  Step = "search-task"
	StepFinalReport Step = "final-report"
)

// Event kinds as seen by observers.
const (
	KindProgress  = "progress"
	KindMessage   = "message"
	KindReasoning = "reasoning"
	KindError     = "error"
)

// Event is one notification emitted by a run. The set of implementations is
// closed: StepStarted, StepEnded, TaskStarted, TaskEnded, MessageChunk,
// ReasoningChunk and ErrorEvent.
type Event interface {
	Kind() string
	event()
}

// StepStarted opens a stage.
type StepStarted struct {
	Step Step
}

// StepEnded closes a stage. Data is the stage output: the plan text, the
// generated tasks, the task results or the final report.
type StepEnded struct {
	Step Step
	Data any
}

// TaskStarted opens one search task; Name is the task query.
type TaskStarted struct {
	Name string
}

// TaskEnded closes one search task.
type TaskEnded struct {
	Name   string
	Result SearchTaskResult
}

// MessageChunk is streamed visible text.
type MessageChunk struct {
	Text string
}

// ReasoningChunk is streamed reasoning text.
type ReasoningChunk struct {
	Text string
}

// ErrorEvent terminates a failed run.
type ErrorEvent struct {
	Message string
}

func (StepStarted) Kind() string    { return KindProgress }
func (StepEnded) Kind() string      { return KindProgress }
func (TaskStarted) Kind() string    { return KindProgress }
func (TaskEnded) Kind() string      { return KindProgress }
func (MessageChunk) Kind() string   { return KindMessage }
func (ReasoningChunk) Kind() string { return KindReasoning }
func (ErrorEvent) Kind() string     { return KindError }

func (StepStarted) event()    {}
func (StepEnded) event()      {}
func (TaskStarted) event()    {}
func (TaskEnded) event()      {}
func (MessageChunk) event()   {}
func (ReasoningChunk) event() {}
func (ErrorEvent) event()     {}

// EventSink receives the events of a run, synchronously and in order.
type EventSink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans every event out to each sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}

// Payload is the wire form of an event: the progress/message/reasoning/error
// name plus a JSON-friendly body.
type Payload struct {
	Step   Step   `json:"step,omitempty"`
	Status string `json:"status,omitempty"`
	Name   string `json:"name,omitempty"`
	Data   any    `json:"data,omitempty"`
	Type   string `json:"type,omitempty"`
	Text   string `json:"text,omitempty"`
	// Message is set on error events.
	Message string `json:"message,omitempty"`
}

// Encode converts ev to its wire name and payload.
func Encode(ev Event) (string, Payload) {
	switch e := ev.(type) {
	case StepStarted:
		return KindProgress, Payload{Step: e.Step, Status: "start"}
	case StepEnded:
		return KindProgress, Payload{Step: e.Step, Status: "end", Data: e.Data}
	case TaskStarted:
		return KindProgress, Payload{Step: StepSearchTask, Status: "start", Name: e.Name}
	case TaskEnded:
		return KindProgress, Payload{Step: StepSearchTask, Status: "end", Name: e.Name, Data: e.Result}
	case MessageChunk:
		return KindMessage, Payload{Type: "text", Text: e.Text}
	case ReasoningChunk:
		return KindReasoning, Payload{Type: "text", Text: e.Text}
	case ErrorEvent:
		return KindError, Payload{Message: e.Message}
	default:
		return ev.Kind(), Payload{}
	}
}
