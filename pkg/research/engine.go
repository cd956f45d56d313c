package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/search"
)

// Engine runs the research pipeline: plan, search queries, search tasks and
// final report. It keeps no state between calls besides its configuration,
// so each stage can also be invoked on its own.
type Engine struct {
	Config Config
	// Thinking writes the plan, the queries and the final report.
	Thinking llm.Provider
	// Task summarizes the evidence of each search task.
	Task llm.Provider
	// Search is the external backend. Nil runs tasks from model knowledge.
	Search search.Provider
	Sink   EventSink
	Logger *slog.Logger
	// Now is used for the date in the system prompt.
	Now func() time.Time
}

// NewEngine returns an engine. task falls back to thinking when nil, and a
// nil sink discards events.
func NewEngine(cfg Config, thinking, task llm.Provider, searcher search.Provider, sink EventSink) (*Engine, error) {
	if thinking == nil {
		return nil, errors.New("thinking model is required")
	}
	if task == nil {
		task = thinking
	}
	if sink == nil {
		sink = discardSink{}
	}
	return &Engine{
		Config:   cfg,
		Thinking: thinking,
		Task:     task,
		Search:   searcher,
		Sink:     sink,
		Logger:   slog.Default(),
		Now:      time.Now,
	}, nil
}

func (e *Engine) emit(ev Event) {
	if e.Sink != nil {
		e.Sink.Emit(ev)
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Start runs every stage for query. A failure emits exactly one ErrorEvent
// and is returned; cancellation is returned without an event.
func (e *Engine) Start(ctx context.Context, query string, opts ReportOptions) (FinalReportResult, error) {
	e.logger().Info("Starting research", "query", query, "search", e.searchName())

	result, err := e.run(ctx, query, opts)
	if err != nil {
		if IsCanceled(ctx, err) {
			e.logger().Info("Research cancelled", "query", query)
			return FinalReportResult{}, err
		}
		e.logger().Error("Research failed", "query", query, "error", err)
		e.emit(ErrorEvent{Message: err.Error()})
		return FinalReportResult{}, err
	}

	e.logger().Info("Research complete", "title", result.Title)
	return result, nil
}

func (e *Engine) run(ctx context.Context, query string, opts ReportOptions) (FinalReportResult, error) {
	plan, err := e.WritePlan(ctx, query)
	if err != nil {
		return FinalReportResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FinalReportResult{}, err
	}

	tasks, err := e.GenerateQueries(ctx, plan)
	if err != nil {
		return FinalReportResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FinalReportResult{}, err
	}

	results, err := e.RunSearchTasks(ctx, tasks, opts)
	if err != nil {
		return FinalReportResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return FinalReportResult{}, err
	}

	return e.WriteFinalReport(ctx, plan, results, opts)
}

// WritePlan produces the research plan for query.
func (e *Engine) WritePlan(ctx context.Context, query string) (string, error) {
	e.emit(StepStarted{Step: StepReportPlan})
	e.logger().Info("Writing report plan", "query", query)

	plan, err := e.streamText(ctx, e.Thinking, llm.Request{
		System: buildSystemPrompt(e.now()),
		Prompt: buildPlanPrompt(query, e.Config.Language),
	}, nil)
	if err != nil {
		return "", stageErr(StepReportPlan, err)
	}
	if strings.TrimSpace(plan) == "" {
		return "", stageErr(StepReportPlan, errors.New("model returned an empty plan"))
	}

	e.emit(StepEnded{Step: StepReportPlan, Data: plan})
	return plan, nil
}

// GenerateQueries derives the search tasks from plan.
func (e *Engine) GenerateQueries(ctx context.Context, plan string) ([]SearchTask, error) {
	e.emit(StepStarted{Step: StepSerpQuery})
	e.logger().Info("Generating search queries")

	content, err := e.streamText(ctx, e.Thinking, llm.Request{
		System: buildSystemPrompt(e.now()),
		Prompt: buildSerpQueriesPrompt(plan),
	}, nil)
	if err != nil {
		return nil, stageErr(StepSerpQuery, err)
	}

	tasks, err := ParseSearchTasks(content)
	if err != nil {
		return nil, stageErr(StepSerpQuery, err)
	}
	if len(tasks) == 0 {
		e.logger().Warn("No search queries generated")
	}

	e.logger().Info("Generated search queries", "count", len(tasks))
	e.emit(StepEnded{Step: StepSerpQuery, Data: tasks})
	return tasks, nil
}

// RunSearchTasks runs tasks one after another in slice order. The first
// failure aborts the remaining tasks.
func (e *Engine) RunSearchTasks(ctx context.Context, tasks []SearchTask, opts ReportOptions) ([]SearchTaskResult, error) {
	e.emit(StepStarted{Step: StepTaskList})

	results := make([]SearchTaskResult, 0, len(tasks))
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, stageErr(StepSearchTask, err)
		}

		e.emit(TaskStarted{Name: task.Query})
		e.logger().Info("Running search task", "index", i+1, "total", len(tasks), "query", task.Query)

		res, err := e.RunSearchTask(ctx, task, opts)
		if err != nil {
			return nil, stageErr(StepSearchTask, fmt.Errorf("task %q: %w", task.Query, err))
		}

		e.emit(TaskEnded{Name: task.Query, Result: res})
		results = append(results, res)
	}

	e.emit(StepEnded{Step: StepTaskList, Data: results})
	return results, nil
}

func (e *Engine) searchName() string {
	if e.Search == nil {
		return search.ModelProvider
	}
	return e.Search.Name()
}
