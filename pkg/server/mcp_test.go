package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/research"
)

func newTestTools(t *testing.T, searchFails bool) *mcpTools {
	t.Helper()
	ts := newTestServer(t, &fakeModel{}, searchFails)
	return &mcpTools{engines: ts.service.Engines}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want text", res.Content[0])
	}
	return text.Text
}

func TestNewMCPServerRegistersTools(t *testing.T) {
	ts := newTestServer(t, &fakeModel{}, false)
	if NewMCPServer(ts.service.Engines, "test") == nil {
		t.Fatal("server is nil")
	}
	if NewMCPHandler(NewMCPServer(ts.service.Engines, "test")) == nil {
		t.Fatal("handler is nil")
	}
}

func TestMCPStageTools(t *testing.T) {
	tools := newTestTools(t, false)
	ctx := context.Background()

	res, plan, err := tools.writePlan(ctx, nil, PlanArgs{Query: "rates"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Plan != "1. Rates and multiples" || resultText(t, res) != plan.Plan {
		t.Errorf("plan = %q", plan.Plan)
	}

	_, queries, err := tools.generateQueries(ctx, nil, QueriesArgs{Plan: plan.Plan})
	if err != nil {
		t.Fatal(err)
	}
	if len(queries.Tasks) != 1 {
		t.Fatalf("tasks = %+v", queries.Tasks)
	}

	task := queries.Tasks[0]
	_, learned, err := tools.searchTask(ctx, nil, SearchTaskArgs{Query: task.Query, ResearchGoal: task.ResearchGoal})
	if err != nil {
		t.Fatal(err)
	}
	if learned.State != research.TaskCompleted || len(learned.Sources) != 1 {
		t.Errorf("search task = %+v", learned)
	}

	off := false
	res, report, err := tools.writeFinalReport(ctx, nil, FinalReportArgs{
		Plan:             plan.Plan,
		Tasks:            []research.SearchTaskResult{learned},
		EnableReferences: &off,
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Title != "Report Title" {
		t.Errorf("title = %q", report.Title)
	}
	if strings.Contains(resultText(t, res), "## Sources") {
		t.Error("references were disabled")
	}
}

func TestMCPDeepResearch(t *testing.T) {
	tools := newTestTools(t, false)
	res, report, err := tools.deepResearch(context.Background(), nil, ResearchRequest{Query: "rates"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Title != "Report Title" || !strings.Contains(resultText(t, res), "## Sources") {
		t.Errorf("report = %+v", report)
	}
}

func TestMCPToolErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing query", func(t *testing.T) {
		tools := newTestTools(t, false)
		if _, _, err := tools.deepResearch(ctx, nil, ResearchRequest{}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("error = %v, want invalid request", err)
		}
		if _, _, err := tools.writePlan(ctx, nil, PlanArgs{}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("error = %v, want invalid request", err)
		}
		if _, _, err := tools.generateQueries(ctx, nil, QueriesArgs{}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("error = %v, want invalid request", err)
		}
	})

	t.Run("search failure", func(t *testing.T) {
		tools := newTestTools(t, true)
		_, _, err := tools.searchTask(ctx, nil, SearchTaskArgs{Query: "rates", ResearchGoal: "g"})
		if err == nil || !strings.Contains(err.Error(), "stub search failed") {
			t.Errorf("error = %v, want the search failure", err)
		}
	})
}
