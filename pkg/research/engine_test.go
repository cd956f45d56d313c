package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/search"
)

// scriptedModel answers each pipeline prompt with canned stream parts,
// split into small chunks to exercise the think-tag processor.
type scriptedModel struct {
	plan    string
	queries string
	learn   func(prompt string) []llm.StreamPart
	report  []llm.StreamPart
	err     error

	requests []llm.Request
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Generate(ctx context.Context, req llm.Request) (string, error) {
	var sb strings.Builder
	err := m.Stream(ctx, req, func(p llm.StreamPart) error {
		if t, ok := p.(llm.TextDelta); ok {
			sb.WriteString(t.Text)
		}
		return nil
	})
	return sb.String(), err
}

func (m *scriptedModel) Stream(ctx context.Context, req llm.Request, onPart func(llm.StreamPart) error) error {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return m.err
	}

	var parts []llm.StreamPart
	switch {
	case strings.Contains(req.Prompt, "<LEARNINGS>"):
		parts = m.report
	case strings.Contains(req.Prompt, "SERP queries"):
		parts = textParts(m.queries)
	case strings.Contains(req.Prompt, "<CONTEXT>"), strings.Contains(req.Prompt, "latest information via the web"):
		parts = m.learn(req.Prompt)
	default:
		parts = textParts(m.plan)
	}

	for _, p := range parts {
		if err := onPart(p); err != nil {
			return err
		}
	}
	return onPart(llm.Finish{Reason: "stop"})
}

// textParts splits s into three-rune text deltas.
func textParts(s string) []llm.StreamPart {
	runes := []rune(s)
	var parts []llm.StreamPart
	for i := 0; i < len(runes); i += 3 {
		end := min(i+3, len(runes))
		parts = append(parts, llm.TextDelta{Text: string(runes[i:end])})
	}
	return parts
}

type stubSearch struct {
	failOn int
	calls  int
}

func (s *stubSearch) Name() string { return "stub" }

func (s *stubSearch) Search(ctx context.Context, req search.Request) (search.Result, error) {
	s.calls++
	if err := ctx.Err(); err != nil {
		return search.Result{}, &search.Error{Provider: "stub", Query: req.Query, Err: err}
	}
	if s.failOn > 0 && s.calls == s.failOn {
		return search.Result{}, &search.Error{Provider: "stub", Query: req.Query, Err: errors.New("status 503")}
	}
	slug := strings.ReplaceAll(req.Query, " ", "-")
	return search.Result{
		Sources: []search.Source{{
			URL:     "https://example.com/" + slug,
			Title:   "About " + req.Query,
			Content: "Evidence for " + req.Query,
		}},
	}, nil
}

type recorder struct {
	events []Event
	onEmit func(Event)
}

func (r *recorder) Emit(ev Event) {
	r.events = append(r.events, ev)
	if r.onEmit != nil {
		r.onEmit(ev)
	}
}

func (r *recorder) errors() []ErrorEvent {
	var out []ErrorEvent
	for _, ev := range r.events {
		if e, ok := ev.(ErrorEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

const threeQueries = "```json\n" + `[
  {"query": "rate sensitivity of SaaS multiples", "researchGoal": "Quantify multiple compression"},
  {"query": "discount rates and growth stocks", "researchGoal": "Explain the DCF mechanics"},
  {"query": "SaaS funding in 2023", "researchGoal": "Track private market effects"}
]` + "\n```"

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		plan:    "<think>outline the sections</think>1. Rates and multiples\n2. Private markets",
		queries: threeQueries,
		learn: func(string) []llm.StreamPart {
			return textParts("<think>read context</think>Higher rates compress multiples【1】.")
		},
		report: textParts("\n# **SaaS Valuations and Rates**\n\nMultiples fell [1]."),
	}
}

func newTestEngine(t *testing.T, model *scriptedModel, searcher search.Provider, sink EventSink) *Engine {
	t.Helper()
	e, err := NewEngine(Config{MaxResults: 1}, model, model, searcher, sink)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.Now = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestEngineStartEndToEnd(t *testing.T) {
	model := newScriptedModel()
	rec := &recorder{}
	e := newTestEngine(t, model, &stubSearch{}, rec)

	result, err := e.Start(context.Background(), "impact of interest rates on SaaS valuations", ReportOptions{EnableReferences: true})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if result.Title != "SaaS Valuations and Rates" {
		t.Errorf("Title = %q", result.Title)
	}
	if result.Title != ReportTitle(result.FinalReport) {
		t.Errorf("Title %q does not match first report line", result.Title)
	}
	if len(result.Learnings) != 3 {
		t.Fatalf("got %d learnings, want 3", len(result.Learnings))
	}
	if len(result.Sources) != 3 {
		t.Errorf("got %d sources, want 3", len(result.Sources))
	}
	if !strings.Contains(result.FinalReport, "\n\n---\n\n## Sources\n\n[1]: https://example.com/rate-sensitivity-of-SaaS-multiples") {
		t.Errorf("report is missing the source list:\n%s", result.FinalReport)
	}

	var tasks []SearchTaskResult
	var reasoning strings.Builder
	for _, ev := range rec.events {
		switch v := ev.(type) {
		case TaskEnded:
			tasks = append(tasks, v.Result)
		case ReasoningChunk:
			reasoning.WriteString(v.Text)
		}
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d task results, want 3", len(tasks))
	}
	for _, res := range tasks {
		if res.State != TaskCompleted {
			t.Errorf("task %q state = %q", res.Query, res.State)
		}
		want := fmt.Sprintf(`[1]: https://example.com/%s "About %s"`, strings.ReplaceAll(res.Query, " ", "-"), res.Query)
		if !strings.HasSuffix(res.Learning, want) {
			t.Errorf("learning for %q does not end with %q:\n%s", res.Query, want, res.Learning)
		}
		if strings.Contains(res.Learning, "<think>") || strings.Contains(res.Learning, "read context") {
			t.Errorf("reasoning leaked into learning: %q", res.Learning)
		}
		if !strings.Contains(res.Learning, "compress multiples[1].") {
			t.Errorf("brackets not normalized: %q", res.Learning)
		}
	}
	if !strings.Contains(reasoning.String(), "outline the sections") {
		t.Errorf("reasoning events = %q", reasoning.String())
	}
	if errs := rec.errors(); len(errs) != 0 {
		t.Errorf("unexpected error events: %+v", errs)
	}
}

func TestEngineStageEventOrder(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, newScriptedModel(), &stubSearch{}, rec)

	if _, err := e.Start(context.Background(), "q", ReportOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var got []string
	for _, ev := range rec.events {
		name, p := Encode(ev)
		if name != KindProgress {
			continue
		}
		label := string(p.Step) + ":" + p.Status
		if p.Name != "" {
			label += ":" + p.Name
		}
		got = append(got, label)
	}
	want := []string{
		"report-plan:start", "report-plan:end",
		"serp-query:start", "serp-query:end",
		"task-list:start",
		"search-task:start:rate sensitivity of SaaS multiples", "search-task:end:rate sensitivity of SaaS multiples",
		"search-task:start:discount rates and growth stocks", "search-task:end:discount rates and growth stocks",
		"search-task:start:SaaS funding in 2023", "search-task:end:SaaS funding in 2023",
		"task-list:end",
		"final-report:start", "final-report:end",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("progress events:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestEngineTasksDoNotInterleave(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, newScriptedModel(), &stubSearch{}, rec)

	if _, err := e.Start(context.Background(), "q", ReportOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	open := ""
	inTaskList := false
	ended := map[string]bool{}
	order := []string{}
	for _, ev := range rec.events {
		switch v := ev.(type) {
		case StepStarted:
			inTaskList = v.Step == StepTaskList
		case StepEnded:
			if v.Step == StepTaskList {
				inTaskList = false
			}
		case TaskStarted:
			if open != "" {
				t.Fatalf("task %q started while %q is still open", v.Name, open)
			}
			for _, prev := range order {
				if !ended[prev] {
					t.Fatalf("task %q started before %q ended", v.Name, prev)
				}
			}
			open = v.Name
			order = append(order, v.Name)
		case TaskEnded:
			if v.Name != open {
				t.Fatalf("task %q ended while %q is open", v.Name, open)
			}
			ended[v.Name] = true
			open = ""
		case MessageChunk:
			if inTaskList && open == "" {
				t.Fatalf("message %q emitted outside a task", v.Text)
			}
		}
	}
	if len(order) != 3 {
		t.Errorf("ran %d tasks, want 3", len(order))
	}
}

func TestEngineSearchFailureIsFatal(t *testing.T) {
	rec := &recorder{}
	searcher := &stubSearch{failOn: 2}
	e := newTestEngine(t, newScriptedModel(), searcher, rec)

	_, err := e.Start(context.Background(), "q", ReportOptions{})
	if err == nil {
		t.Fatal("Start() error = nil, want search failure")
	}

	var se *search.Error
	if !errors.As(err, &se) || se.Provider != "stub" {
		t.Errorf("error %v does not carry the search provider", err)
	}
	var stage *StageError
	if !errors.As(err, &stage) || stage.Step != StepSearchTask {
		t.Errorf("error %v is not tagged with the search-task stage", err)
	}
	if searcher.calls != 2 {
		t.Errorf("search called %d times, want 2", searcher.calls)
	}

	errs := rec.errors()
	if len(errs) != 1 {
		t.Fatalf("got %d error events, want 1", len(errs))
	}
	if errs[0].Message != err.Error() {
		t.Errorf("error event = %q, want %q", errs[0].Message, err.Error())
	}
	if _, ok := rec.events[len(rec.events)-1].(ErrorEvent); !ok {
		t.Errorf("last event = %T, want ErrorEvent", rec.events[len(rec.events)-1])
	}
	for _, ev := range rec.events {
		if s, ok := ev.(StepStarted); ok && s.Step == StepFinalReport {
			t.Error("final report started after a fatal task failure")
		}
	}
}

func TestEngineInvalidQueriesIsFatal(t *testing.T) {
	model := newScriptedModel()
	model.queries = `[{"researchGoal": "no query here"}]`
	rec := &recorder{}
	e := newTestEngine(t, model, &stubSearch{}, rec)

	_, err := e.Start(context.Background(), "q", ReportOptions{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Start() error = %v, want ValidationError", err)
	}
	var stage *StageError
	if !errors.As(err, &stage) || stage.Step != StepSerpQuery {
		t.Errorf("error %v is not tagged with the serp-query stage", err)
	}
	if n := len(rec.errors()); n != 1 {
		t.Errorf("got %d error events, want 1", n)
	}
}

func TestEngineModelErrorIsFatal(t *testing.T) {
	model := newScriptedModel()
	model.err = &llm.Error{Provider: "openai", Model: "gpt", Err: errors.New("timeout")}
	rec := &recorder{}
	e := newTestEngine(t, model, nil, rec)

	_, err := e.Start(context.Background(), "q", ReportOptions{})
	var le *llm.Error
	if !errors.As(err, &le) {
		t.Fatalf("Start() error = %v, want llm.Error", err)
	}
	errs := rec.errors()
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "openai") {
		t.Errorf("error events = %+v", errs)
	}
}

func TestEngineCancellationEmitsNoError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	rec.onEmit = func(ev Event) {
		if _, ok := ev.(TaskStarted); ok {
			cancel()
		}
	}
	searcher := &stubSearch{}
	e := newTestEngine(t, newScriptedModel(), searcher, rec)

	_, err := e.Start(ctx, "q", ReportOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if n := len(rec.errors()); n != 0 {
		t.Errorf("got %d error events on cancellation", n)
	}
	for _, ev := range rec.events {
		if _, ok := ev.(TaskEnded); ok {
			t.Error("task completed after cancellation")
		}
	}
}

func TestRunSearchTaskModelKnowledge(t *testing.T) {
	model := newScriptedModel()
	model.learn = func(string) []llm.StreamPart {
		return []llm.StreamPart{
			llm.ReasoningDelta{Text: "checking the news"},
			llm.TextDelta{Text: "Churn rose 【1】"},
			llm.SourcePart{Source: search.Source{URL: "https://grounded.example", Title: `The "Grounded" Source`}},
		}
	}
	rec := &recorder{}
	e := newTestEngine(t, model, nil, rec)
	e.Config.ModelWebSearch = true

	res, err := e.RunSearchTask(context.Background(), SearchTask{Query: "churn", ResearchGoal: "g"}, ReportOptions{})
	if err != nil {
		t.Fatalf("RunSearchTask() error = %v", err)
	}

	last := model.requests[len(model.requests)-1]
	if !last.WebSearch {
		t.Error("web search was not requested in model-knowledge mode")
	}
	if !strings.Contains(last.Prompt, "churn") {
		t.Errorf("prompt does not carry the query: %q", last.Prompt)
	}
	want := "Churn rose [1]\n\n---\n\n[1]: https://grounded.example \"The  Grounded  Source\""
	if res.Learning != want {
		t.Errorf("Learning = %q, want %q", res.Learning, want)
	}
	if len(res.Sources) != 1 || len(res.Images) != 0 || res.Images == nil {
		t.Errorf("Sources = %+v, Images = %+v", res.Sources, res.Images)
	}

	var reasoning []string
	for _, ev := range rec.events {
		if r, ok := ev.(ReasoningChunk); ok {
			reasoning = append(reasoning, r.Text)
		}
	}
	if len(reasoning) != 1 || reasoning[0] != "checking the news" {
		t.Errorf("reasoning events = %v", reasoning)
	}
}

type imageSearch struct{}

func (imageSearch) Name() string { return "images" }

func (imageSearch) Search(context.Context, search.Request) (search.Result, error) {
	return search.Result{
		Sources: []search.Source{{URL: "https://a.example", Content: "a"}},
		Images:  []search.ImageSource{{URL: "https://img.example/1.png", Description: "chart"}, {URL: "https://img.example/2.png"}},
	}, nil
}

func TestRunSearchTaskAppendsImagesAndSources(t *testing.T) {
	model := newScriptedModel()
	model.learn = func(prompt string) []llm.StreamPart {
		if !strings.Contains(prompt, `<content index="1" url="https://a.example">`) {
			return textParts("missing content block")
		}
		if !strings.Contains(prompt, "Citation Rules") {
			return textParts("missing citation rules")
		}
		return textParts("Finding [1]")
	}
	e := newTestEngine(t, model, imageSearch{}, nil)

	res, err := e.RunSearchTask(context.Background(), SearchTask{Query: "q", ResearchGoal: "g"}, ReportOptions{EnableReferences: true})
	if err != nil {
		t.Fatalf("RunSearchTask() error = %v", err)
	}
	want := "Finding [1]" +
		"\n\n---\n\n![chart](https://img.example/1.png)\n![https://img.example/2.png](https://img.example/2.png)" +
		"\n\n---\n\n[1]: https://a.example"
	if res.Learning != want {
		t.Errorf("Learning = %q, want %q", res.Learning, want)
	}
}

func TestRunSearchTaskDedupsModelSources(t *testing.T) {
	model := newScriptedModel()
	model.learn = func(string) []llm.StreamPart {
		return []llm.StreamPart{
			llm.TextDelta{Text: "Finding [1][2]"},
			llm.SourcePart{Source: search.Source{URL: "https://a.example", Title: "Again"}},
			llm.SourcePart{Source: search.Source{URL: "https://b.example"}},
		}
	}
	e := newTestEngine(t, model, imageSearch{}, nil)

	res, err := e.RunSearchTask(context.Background(), SearchTask{Query: "q", ResearchGoal: "g"}, ReportOptions{})
	if err != nil {
		t.Fatalf("RunSearchTask() error = %v", err)
	}
	if len(res.Sources) != 2 || res.Sources[0].Content != "a" || res.Sources[1].URL != "https://b.example" {
		t.Errorf("Sources = %+v", res.Sources)
	}
	if n := strings.Count(res.Learning, "https://a.example"); n != 1 {
		t.Errorf("a.example listed %d times in %q", n, res.Learning)
	}
	if !strings.Contains(res.Learning, "[2]: https://b.example") {
		t.Errorf("Learning = %q", res.Learning)
	}
}

func TestWriteFinalReportMergesStreamSources(t *testing.T) {
	model := newScriptedModel()
	model.report = append(textParts("## Report\n\nBody"),
		llm.SourcePart{Source: search.Source{URL: "https://a.example"}},
		llm.SourcePart{Source: search.Source{URL: "https://new.example", Title: "New"}},
	)
	e := newTestEngine(t, model, nil, nil)

	results := []SearchTaskResult{
		{Learning: "l1", Sources: []Source{{URL: "https://a.example", Title: "A"}}},
		{Learning: "l2", Sources: []Source{{URL: "https://a.example"}, {URL: "https://b.example"}}},
	}
	got, err := e.WriteFinalReport(context.Background(), "plan", results, ReportOptions{EnableReferences: true})
	if err != nil {
		t.Fatalf("WriteFinalReport() error = %v", err)
	}

	wantURLs := []string{"https://a.example", "https://b.example", "https://new.example"}
	if len(got.Sources) != len(wantURLs) {
		t.Fatalf("Sources = %+v", got.Sources)
	}
	for i, u := range wantURLs {
		if got.Sources[i].URL != u {
			t.Errorf("Sources[%d] = %q, want %q", i, got.Sources[i].URL, u)
		}
	}
	if !strings.HasSuffix(got.FinalReport, "[3]: https://new.example \"New\"") {
		t.Errorf("FinalReport = %q", got.FinalReport)
	}
	if got.Title != "Report" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestWriteFinalReportWithoutReferences(t *testing.T) {
	e := newTestEngine(t, newScriptedModel(), nil, nil)
	results := []SearchTaskResult{{Learning: "l1", Sources: []Source{{URL: "https://a.example"}}}}

	got, err := e.WriteFinalReport(context.Background(), "plan", results, ReportOptions{})
	if err != nil {
		t.Fatalf("WriteFinalReport() error = %v", err)
	}
	if strings.Contains(got.FinalReport, "## Sources") {
		t.Errorf("references appended while disabled: %q", got.FinalReport)
	}
	if len(got.Sources) != 1 {
		t.Errorf("Sources = %+v", got.Sources)
	}
}

func TestGenerateQueriesStandalone(t *testing.T) {
	e := newTestEngine(t, newScriptedModel(), nil, nil)

	tasks, err := e.GenerateQueries(context.Background(), "an existing plan")
	if err != nil {
		t.Fatalf("GenerateQueries() error = %v", err)
	}
	if len(tasks) != 3 || tasks[0].Query != "rate sensitivity of SaaS multiples" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestReportTitle(t *testing.T) {
	tests := []struct {
		name   string
		report string
		want   string
	}{
		{"heading", "# Title\n\nbody", "Title"},
		{"emphasis", "## **Bold Title**\nbody", "Bold Title"},
		{"leading blank lines", "\n\n  \n### Third\n", "Third"},
		{"plain", "Plain first line\nsecond", "Plain first line"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReportTitle(tt.report); got != tt.want {
				t.Errorf("ReportTitle(%q) = %q, want %q", tt.report, got, tt.want)
			}
		})
	}
}

func TestNewEngineRequiresThinkingModel(t *testing.T) {
	if _, err := NewEngine(Config{}, nil, nil, nil, nil); err == nil {
		t.Error("NewEngine() error = nil, want missing model error")
	}
}
