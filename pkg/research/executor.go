package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
	"github.com/mikeboe/deep-research/pkg/search"
)

// RunSearchTask executes a single task without the surrounding task-list
// events. With no search provider configured the task model answers from
// its own knowledge, optionally with its web-search tool.
func (e *Engine) RunSearchTask(ctx context.Context, task SearchTask, opts ReportOptions) (SearchTaskResult, error) {
	var (
		sources []Source
		images  []ImageSource
		req     llm.Request
	)

	system := buildSystemPrompt(e.now())
	if e.Search == nil {
		e.logger().Info("Running task from model knowledge", "query", task.Query, "web_search", e.Config.ModelWebSearch)
		req = llm.Request{
			System:    system,
			Prompt:    buildKnowledgeTaskPrompt(task, e.Config.Language),
			WebSearch: e.Config.ModelWebSearch,
		}
	} else {
		e.logger().Info("Searching", "provider", e.Search.Name(), "query", task.Query)
		res, err := e.Search.Search(ctx, search.Request{
			Query:      task.Query,
			MaxResults: e.Config.MaxResults,
			Scope:      e.Config.Scope,
		})
		if err != nil {
			return SearchTaskResult{}, err
		}
		sources = res.Sources
		images = res.Images
		e.logger().Info("Search complete", "query", task.Query, "sources", len(sources), "images", len(images))
		req = llm.Request{
			System: system,
			Prompt: buildSearchResultPrompt(task, sources, opts.EnableReferences, e.Config.Language),
		}
	}

	learning, err := e.streamText(ctx, e.Task, req, func(s Source) {
		sources = append(sources, s)
	})
	if err != nil {
		return SearchTaskResult{}, err
	}

	// Sources the model found itself may repeat a search hit.
	sources = DedupSources(sources)

	if len(images) > 0 {
		block := "\n\n---\n\n" + imageMarkdown(images)
		learning += block
		e.emit(MessageChunk{Text: block})
	}
	if len(sources) > 0 {
		block := "\n\n---\n\n" + referenceList(sources)
		learning += block
		e.emit(MessageChunk{Text: block})
	}

	return SearchTaskResult{
		Query:        task.Query,
		ResearchGoal: task.ResearchGoal,
		State:        TaskCompleted,
		Learning:     learning,
		Sources:      nonNil(sources),
		Images:       nonNil(images),
	}, nil
}

func imageMarkdown(images []ImageSource) string {
	lines := make([]string, 0, len(images))
	for _, img := range images {
		desc := img.Description
		if desc == "" {
			desc = img.URL
		}
		lines = append(lines, fmt.Sprintf("![%s](%s)", desc, img.URL))
	}
	return strings.Join(lines, "\n")
}

// referenceList renders sources as markdown reference definitions,
// numbered from 1 in slice order.
func referenceList(sources []Source) string {
	lines := make([]string, 0, len(sources))
	for i, src := range sources {
		line := fmt.Sprintf("[%d]: %s", i+1, src.URL)
		if src.Title != "" {
			line += ` "` + strings.ReplaceAll(src.Title, `"`, " ") + `"`
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
