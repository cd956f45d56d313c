package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
)

var (
	ErrInvalidRequest = errors.New("invalid research request")
	ErrJobNotRunning  = errors.New("research job is not running")
)

const persistTimeout = 30 * time.Second

// JobStore persists jobs and their logs. *database.PostgresDB implements it.
type JobStore interface {
	LogWriter
	CreateJob(ctx context.Context, id uuid.UUID, query string, config json.RawMessage) (*database.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	ListJobs(ctx context.Context, limit int) ([]database.Job, error)
	SetJobStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error
	SaveJobPlan(ctx context.Context, id uuid.UUID, plan string) error
	CompleteJob(ctx context.Context, id uuid.UUID, title, report string, result json.RawMessage) error
	GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error)
}

// Indexer stores the evidence of a finished job in the knowledge base.
type Indexer interface {
	IndexResearch(ctx context.Context, jobID string, results []research.SearchTaskResult) (int, error)
}

// ResearchRequest starts a research. Optional fields override the configured defaults.
type ResearchRequest struct {
	Query               string `json:"query" jsonschema:"the topic or question to research"`
	Language            string `json:"language,omitempty" jsonschema:"language of the generated text, defaults to the language of the query"`
	SearchProvider      string `json:"searchProvider,omitempty" jsonschema:"search backend id: model, tavily, brave, duckduckgo, searxng, arxiv or knowledge"`
	MaxResults          int    `json:"maxResults,omitempty" jsonschema:"maximum search results per query"`
	Scope               string `json:"scope,omitempty" jsonschema:"backend specific scope such as a SearXNG category or a job id"`
	Requirement         string `json:"requirement,omitempty" jsonschema:"extra instructions for the final report"`
	EnableCitationImage *bool  `json:"enableCitationImage,omitempty" jsonschema:"embed images in the final report"`
	EnableReferences    *bool  `json:"enableReferences,omitempty" jsonschema:"cite sources and append a source list"`
}

func (r ResearchRequest) validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if r.MaxResults < 0 {
		return fmt.Errorf("%w: maxResults must not be negative", ErrInvalidRequest)
	}
	return nil
}

// ModelFactory builds a language model from settings. llm.New is the default.
type ModelFactory func(ctx context.Context, s llm.Settings) (llm.Provider, error)

// Engines builds a research engine per request from the server configuration.
type Engines struct {
	Config   *config.Config
	Registry *search.Registry
	NewModel ModelFactory
}

// Build resolves the models and the search backend for req.
func (e *Engines) Build(ctx context.Context, req ResearchRequest, sink research.EventSink, logger *slog.Logger) (*research.Engine, research.ReportOptions, error) {
	cfg := e.Config
	rcfg := cfg.Research()
	opts := cfg.ReportOptions()
	searchSettings := cfg.Search

	if req.Language != "" {
		rcfg.Language = req.Language
	}
	if req.Requirement != "" {
		rcfg.Requirement = req.Requirement
	}
	if req.MaxResults > 0 {
		rcfg.MaxResults = req.MaxResults
		searchSettings.MaxResults = req.MaxResults
	}
	if req.Scope != "" {
		rcfg.Scope = req.Scope
		searchSettings.Scope = req.Scope
	}
	if req.SearchProvider != "" {
		searchSettings.Provider = req.SearchProvider
	}
	if req.EnableCitationImage != nil {
		opts.EnableCitationImage = *req.EnableCitationImage
	}
	if req.EnableReferences != nil {
		opts.EnableReferences = *req.EnableReferences
	}

	newModel := e.NewModel
	if newModel == nil {
		newModel = llm.New
	}
	thinking, err := newModel(ctx, cfg.ThinkingModel)
	if err != nil {
		return nil, opts, fmt.Errorf("thinking model: %w", err)
	}
	task := thinking
	if cfg.TaskModel.Model != "" {
		if task, err = newModel(ctx, cfg.TaskModel); err != nil {
			return nil, opts, fmt.Errorf("task model: %w", err)
		}
	}

	searcher, err := e.Registry.Resolve(searchSettings)
	if err != nil {
		return nil, opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	engine, err := research.NewEngine(rcfg, thinking, task, searcher, sink)
	if err != nil {
		return nil, opts, err
	}
	if logger != nil {
		engine.Logger = logger
	}
	return engine, opts, nil
}

// Service runs research jobs in the background and tracks them until they finish.
type Service struct {
	Store   JobStore
	Engines *Engines
	Broker  *Broker
	// Indexer is optional; nil skips indexing of finished jobs.
	Indexer Indexer
	Logger  *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(store JobStore, engines *Engines, broker *Broker, indexer Indexer) *Service {
	return &Service{
		Store:   store,
		Engines: engines,
		Broker:  broker,
		Indexer: indexer,
		Logger:  slog.Default(),
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// CreateJob persists a pending job and starts it on a background goroutine.
func (s *Service) CreateJob(ctx context.Context, req ResearchRequest) (*database.Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job config: %w", err)
	}

	job, err := s.Store.CreateJob(ctx, uuid.New(), req.Query, configJSON)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runJob(runCtx, job.ID, req)

	return job, nil
}

// CancelJob stops a running job. The job ends as cancelled.
func (s *Service) CancelJob(id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	cancel()
	return nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]database.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.Store.ListJobs(ctx, limit)
}

func (s *Service) GetJobLogs(ctx context.Context, id uuid.UUID) ([]database.LogEntry, error) {
	return s.Store.GetJobLogs(ctx, id)
}

// Wait blocks until every background job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels the running jobs and waits for them until ctx expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jobResult is the JSON stored in research_jobs.result.
type jobResult struct {
	research.FinalReportResult
	Plan  string                      `json:"plan"`
	Tasks []research.SearchTaskResult `json:"tasks"`
}

// jobRecorder keeps the plan and the finished tasks of a run and saves the
// plan as soon as it is written.
type jobRecorder struct {
	store  JobStore
	jobID  uuid.UUID
	logger *slog.Logger

	plan  string
	tasks []research.SearchTaskResult
}

func (r *jobRecorder) Emit(ev research.Event) {
	switch e := ev.(type) {
	case research.StepEnded:
		if e.Step != research.StepReportPlan {
			return
		}
		plan, _ := e.Data.(string)
		r.plan = plan
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.store.SaveJobPlan(ctx, r.jobID, plan); err != nil {
			r.logger.Error("Failed to save plan", "error", err)
		}
	case research.TaskEnded:
		r.tasks = append(r.tasks, e.Result)
	}
}

func (s *Service) runJob(ctx context.Context, jobID uuid.UUID, req ResearchRequest) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.running[jobID]; ok {
			cancel()
			delete(s.running, jobID)
		}
		s.mu.Unlock()
	}()

	started := time.Now()
	RunsActive.Inc()
	defer RunsActive.Dec()

	jobLogger := slog.New(NewDBLogHandler(s.Store, jobID, s.logger().Handler()))
	s.setStatus(jobID, database.StatusRunning, "", jobLogger)

	recorder := &jobRecorder{store: s.Store, jobID: jobID, logger: jobLogger}
	brokerSink := s.Broker.Sink(jobID.String())
	sink := research.MultiSink{brokerSink, recorder, NewMetricsSink()}

	engine, opts, err := s.Engines.Build(ctx, req, sink, jobLogger)
	if err != nil {
		jobLogger.Error("Failed to init engine", "error", err)
		brokerSink.Emit(research.ErrorEvent{Message: err.Error()})
		s.finish(jobID, database.StatusFailed, err.Error(), started, jobLogger)
		return
	}

	result, err := engine.Start(ctx, req.Query, opts)
	if err != nil {
		if research.IsCanceled(ctx, err) {
			s.finish(jobID, database.StatusCancelled, "", started, jobLogger)
			return
		}
		s.finish(jobID, database.StatusFailed, err.Error(), started, jobLogger)
		return
	}

	resultJSON, err := json.Marshal(jobResult{FinalReportResult: result, Plan: recorder.plan, Tasks: recorder.tasks})
	if err != nil {
		resultJSON = []byte("{}")
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.Store.CompleteJob(persistCtx, jobID, result.Title, result.FinalReport, resultJSON); err != nil {
		jobLogger.Error("Failed to save final report to DB", "error", err)
	}

	if s.Indexer != nil {
		n, err := s.Indexer.IndexResearch(persistCtx, jobID.String(), recorder.tasks)
		if err != nil {
			jobLogger.Error("Failed to index research", "error", err)
		} else {
			jobLogger.Info("Indexed research", "chunks", n)
		}
	}

	observeRun(database.StatusCompleted, started)
	s.Broker.Finish(jobID.String(), database.StatusCompleted)
}

func (s *Service) finish(jobID uuid.UUID, status, reason string, started time.Time, logger *slog.Logger) {
	s.setStatus(jobID, status, reason, logger)
	observeRun(status, started)
	s.Broker.Finish(jobID.String(), status)
}

func (s *Service) setStatus(jobID uuid.UUID, status, reason string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.Store.SetJobStatus(ctx, jobID, status, reason); err != nil {
		logger.Error("Failed to update job status", "status", status, "error", err)
	}
}
