package research

import (
	"context"
	"strings"

	"github.com/mikeboe/deep-research/pkg/llm"
)

// WriteFinalReport synthesizes the task results into the final report.
// Sources the model surfaces while writing are merged before the reference
// list is appended.
func (e *Engine) WriteFinalReport(ctx context.Context, plan string, results []SearchTaskResult, opts ReportOptions) (FinalReportResult, error) {
	e.emit(StepStarted{Step: StepFinalReport})

	learnings := make([]string, 0, len(results))
	sourceLists := make([][]Source, 0, len(results))
	imageLists := make([][]ImageSource, 0, len(results))
	for _, r := range results {
		learnings = append(learnings, r.Learning)
		sourceLists = append(sourceLists, r.Sources)
		imageLists = append(imageLists, r.Images)
	}
	sources := DedupSources(sourceLists...)
	images := DedupImages(imageLists...)

	e.logger().Info("Writing final report", "learnings", len(learnings), "sources", len(sources), "images", len(images))

	report, err := e.streamText(ctx, e.Thinking, llm.Request{
		System: buildSystemPrompt(e.now()),
		Prompt: buildFinalReportPrompt(plan, learnings, sources, images, e.Config.Requirement, opts, e.Config.Language),
	}, func(s Source) {
		sources = append(sources, s)
	})
	if err != nil {
		return FinalReportResult{}, stageErr(StepFinalReport, err)
	}
	sources = DedupSources(sources)

	if opts.EnableReferences && len(sources) > 0 {
		block := "\n\n---\n\n## Sources\n\n" + referenceList(sources)
		report += block
		e.emit(MessageChunk{Text: block})
	}

	result := FinalReportResult{
		Title:       ReportTitle(report),
		FinalReport: report,
		Learnings:   learnings,
		Sources:     sources,
		Images:      images,
	}
	e.emit(StepEnded{Step: StepFinalReport, Data: result})
	e.logger().Info("Final report generated", "title", result.Title, "length", len(report))
	return result, nil
}

// ReportTitle returns the first non-empty line of report with heading and
// emphasis markers removed.
func ReportTitle(report string) string {
	for _, line := range strings.Split(report, "\n") {
		title := strings.TrimSpace(strings.NewReplacer("#", "", "*", "").Replace(line))
		if title != "" {
			return title
		}
	}
	return ""
}
