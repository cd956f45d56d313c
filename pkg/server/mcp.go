package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/research"
)

const mcpServerName = "deep-research"

type PlanArgs struct {
	Query    string `json:"query" jsonschema:"the topic or question to plan a research for"`
	Language string `json:"language,omitempty" jsonschema:"language of the plan"`
}

type PlanResult struct {
	Plan string `json:"plan"`
}

type QueriesArgs struct {
	Plan string `json:"plan" jsonschema:"the research plan written by write-research-plan"`
}

type QueriesResult struct {
	Tasks []research.SearchTask `json:"tasks"`
}

type SearchTaskArgs struct {
	Query               string `json:"query" jsonschema:"the search query"`
	ResearchGoal        string `json:"researchGoal" jsonschema:"what the query should find out"`
	Language            string `json:"language,omitempty" jsonschema:"language of the learning"`
	SearchProvider      string `json:"searchProvider,omitempty" jsonschema:"search backend id, model uses the model's own knowledge"`
	MaxResults          int    `json:"maxResults,omitempty" jsonschema:"maximum search results"`
	Scope               string `json:"scope,omitempty" jsonschema:"backend specific scope"`
	EnableCitationImage *bool  `json:"enableCitationImage,omitempty" jsonschema:"append the images found"`
	EnableReferences    *bool  `json:"enableReferences,omitempty" jsonschema:"cite sources in the learning"`
}

type FinalReportArgs struct {
	Plan                string                      `json:"plan" jsonschema:"the research plan"`
	Tasks               []research.SearchTaskResult `json:"tasks" jsonschema:"results of the search tasks"`
	Language            string                      `json:"language,omitempty" jsonschema:"language of the report"`
	Requirement         string                      `json:"requirement,omitempty" jsonschema:"extra instructions for the report"`
	EnableCitationImage *bool                       `json:"enableCitationImage,omitempty" jsonschema:"embed images in the report"`
	EnableReferences    *bool                       `json:"enableReferences,omitempty" jsonschema:"cite sources and append a source list"`
}

// NewMCPServer exposes the full pipeline and each of its stages as MCP tools.
func NewMCPServer(engines *Engines, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: version}, nil)
	t := &mcpTools{engines: engines}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep-research",
		Description: "Run a complete deep research: plan, search queries, search tasks and a final cited report.",
	}, t.deepResearch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "write-research-plan",
		Description: "Write a research plan for a topic.",
	}, t.writePlan)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate-search-queries",
		Description: "Derive search queries with research goals from a research plan.",
	}, t.generateQueries)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "search-task",
		Description: "Search for one query and summarize the findings into a learning with sources.",
	}, t.searchTask)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "write-final-report",
		Description: "Write the final report from a plan and the results of its search tasks.",
	}, t.writeFinalReport)

	return server
}

// NewMCPHandler serves server over the streamable HTTP transport.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

type mcpTools struct {
	engines *Engines
}

func (t *mcpTools) engine(ctx context.Context, req ResearchRequest) (*research.Engine, research.ReportOptions, error) {
	return t.engines.Build(ctx, req, nil, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (t *mcpTools) deepResearch(ctx context.Context, _ *mcp.CallToolRequest, args ResearchRequest) (*mcp.CallToolResult, research.FinalReportResult, error) {
	if err := args.validate(); err != nil {
		return nil, research.FinalReportResult{}, err
	}
	engine, opts, err := t.engine(ctx, args)
	if err != nil {
		return nil, research.FinalReportResult{}, err
	}
	result, err := engine.Start(ctx, args.Query, opts)
	if err != nil {
		return nil, research.FinalReportResult{}, err
	}
	return textResult(result.FinalReport), result, nil
}

func (t *mcpTools) writePlan(ctx context.Context, _ *mcp.CallToolRequest, args PlanArgs) (*mcp.CallToolResult, PlanResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, PlanResult{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	engine, _, err := t.engine(ctx, ResearchRequest{Query: args.Query, Language: args.Language})
	if err != nil {
		return nil, PlanResult{}, err
	}
	plan, err := engine.WritePlan(ctx, args.Query)
	if err != nil {
		return nil, PlanResult{}, err
	}
	return textResult(plan), PlanResult{Plan: plan}, nil
}

func (t *mcpTools) generateQueries(ctx context.Context, _ *mcp.CallToolRequest, args QueriesArgs) (*mcp.CallToolResult, QueriesResult, error) {
	if strings.TrimSpace(args.Plan) == "" {
		return nil, QueriesResult{}, fmt.Errorf("%w: plan is required", ErrInvalidRequest)
	}
	engine, _, err := t.engine(ctx, ResearchRequest{})
	if err != nil {
		return nil, QueriesResult{}, err
	}
	tasks, err := engine.GenerateQueries(ctx, args.Plan)
	if err != nil {
		return nil, QueriesResult{}, err
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, QueriesResult{}, err
	}
	return textResult(string(data)), QueriesResult{Tasks: tasks}, nil
}

func (t *mcpTools) searchTask(ctx context.Context, _ *mcp.CallToolRequest, args SearchTaskArgs) (*mcp.CallToolResult, research.SearchTaskResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, research.SearchTaskResult{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	engine, opts, err := t.engine(ctx, ResearchRequest{
		Language:            args.Language,
		SearchProvider:      args.SearchProvider,
		MaxResults:          args.MaxResults,
		Scope:               args.Scope,
		EnableCitationImage: args.EnableCitationImage,
		EnableReferences:    args.EnableReferences,
	})
	if err != nil {
		return nil, research.SearchTaskResult{}, err
	}
	result, err := engine.RunSearchTask(ctx, research.SearchTask{Query: args.Query, ResearchGoal: args.ResearchGoal}, opts)
	if err != nil {
		return nil, research.SearchTaskResult{}, err
	}
	return textResult(result.Learning), result, nil
}

func (t *mcpTools) writeFinalReport(ctx context.Context, _ *mcp.CallToolRequest, args FinalReportArgs) (*mcp.CallToolResult, research.FinalReportResult, error) {
	if strings.TrimSpace(args.Plan) == "" {
		return nil, research.FinalReportResult{}, fmt.Errorf("%w: plan is required", ErrInvalidRequest)
	}
	engine, opts, err := t.engine(ctx, ResearchRequest{
		Language:            args.Language,
		Requirement:         args.Requirement,
		EnableCitationImage: args.EnableCitationImage,
		EnableReferences:    args.EnableReferences,
	})
	if err != nil {
		return nil, research.FinalReportResult{}, err
	}
	result, err := engine.WriteFinalReport(ctx, args.Plan, args.Tasks, opts)
	if err != nil {
		return nil, research.FinalReportResult{}, err
	}
	return textResult(result.FinalReport), result, nil
}
