package research

import (
	"fmt"
	"strings"
	"time"
)

const systemPrompt = `You are an expert researcher. Today is %s. Follow these instructions when responding:
- You may be asked to research subjects that are after your knowledge cutoff, assume the user is right when presented with news.
- The user is a highly experienced analyst, no need to simplify it, be as detailed as possible and make sure your response is correct.
- Be highly organized.
- Suggest solutions that I didn't think about.
- Be proactive and anticipate my needs.
- Treat me as an expert in all subject matter.
- Mistakes erode my trust, so be accurate and thorough.
- Value good arguments over authorities, the source is irrelevant.
- Consider new technologies and contrarian ideas, not just the conventional wisdom.
- You may use high levels of speculation or prediction, just flag it for me.`

const planPrompt = `Given the following query from the user:
<QUERY>
%s
</QUERY>

Generate a list of sections of the report based on the topic and feedback.
Your plan should be tight and focused with NO overlapping sections or unnecessary filler. Each section needs a sentence summarizing its content.

Integration guidelines:
- Ensure each section has a distinct purpose with no content overlap.
- Combine related concepts rather than separating them.
- CRITICAL: Every section MUST be directly relevant to the main topic.
- Avoid tangential or loosely related sections that don't directly address the core topic.

Make sure the plan is concise and actionable.`

const serpQueriesPrompt = `This is the report plan after user confirmation:
<PLAN>
%s
</PLAN>

Based on the previous report plan, generate a list of SERP queries to further research the topic. Make sure each query is unique and not similar to each other.

You MUST respond in **JSON** matching this **JSON schema**:

` + "```json\n%s\n```" + `

Expected output:

` + "```json\n[\n  {\n    \"query\": \"This is a sample query.\",\n    \"researchGoal\": \"This is the reason for the query.\"\n  }\n]\n```"

const serpQueriesSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "query": {"type": "string", "description": "The SERP query."},
      "researchGoal": {"type": "string", "description": "First talk about the goal of the research that this query is meant to accomplish, then go deeper into how to advance the research once the results are found, mention additional research directions. Be as specific as possible, especially for additional research directions."}
    },
    "required": ["query", "researchGoal"],
    "additionalProperties": false
  }
}`

const knowledgeTaskPrompt = `Please use the following query to get the latest information via the web:
<QUERY>
%s
</QUERY>

You need to organize the searched information according to the following requirements:
<RESEARCH_GOAL>
%s
</RESEARCH_GOAL>

You need to think like a human researcher.
Generate a list of learnings from the search results.
Make sure each learning is unique and not similar to each other.
The learnings should be to the point, as detailed and information dense as possible.
Make sure to include any entities like people, places, companies, products, things, etc in the learnings, as well as any specific entities, metrics, numbers, and dates when available. The learnings will be used to research the topic further.`

const searchResultPrompt = `Given the following contexts from a SERP search for the query:
<QUERY>
%s
</QUERY>

You need to organize the searched information according to the following requirements:
<RESEARCH_GOAL>
%s
</RESEARCH_GOAL>

The following context from the SERP search:
<CONTEXT>
%s
</CONTEXT>

You need to think like a human researcher.
%s
Generate a list of learnings from the contexts.
Make sure each learning is unique and not similar to each other.
The learnings should be to the point, as detailed and information dense as possible.
Make sure to include any entities like people, places, companies, products, things, etc in the learnings, as well as any specific entities, metrics, numbers, and dates when available. The learnings will be used to research the topic further.`

const citationRules = `Citation Rules:

- Please cite the context at the end of sentences when appropriate.
- Please use the format of citation number [number] to reference the context in corresponding parts of your answer.
- If a sentence comes from multiple contexts, please list all relevant citation numbers, e.g., [1][2]. Remember not to group citations at the end but list them in the corresponding parts of your answer.`

const finalReportPrompt = `This is the report plan after user confirmation:
<PLAN>
%s
</PLAN>

Here are all the learnings from previous research:
<LEARNINGS>
%s
</LEARNINGS>
%s%s%s
Write a final report based on the report plan using the learnings from research.
Make it as detailed as possible, aim for 5 pages or more, the more the better, include ALL the learnings from research.
The report must start with a first-level markdown heading that is the title of the report.
**Respond only the final report content, and no additional text before or after.**`

const finalReportImageRules = `
Image Rules:

- Images related to the paragraph content at the appropriate location in the article according to the image description.
- Include images using ` + "`![Image Description](image_url)`" + ` in a separate section.
- **Do not add any images at the end of the article.**
`

func buildSystemPrompt(now time.Time) string {
	return fmt.Sprintf(systemPrompt, now.UTC().Format(time.RFC3339))
}

func languageInstruction(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "**Respond in the same language as the user's language**"
	}
	return fmt.Sprintf("**Respond in %s**", lang)
}

func withLanguage(prompt, lang string) string {
	return prompt + "\n\n" + languageInstruction(lang)
}

func buildPlanPrompt(query, lang string) string {
	return withLanguage(fmt.Sprintf(planPrompt, query), lang)
}

func buildSerpQueriesPrompt(plan string) string {
	return fmt.Sprintf(serpQueriesPrompt, plan, serpQueriesSchema)
}

func buildKnowledgeTaskPrompt(task SearchTask, lang string) string {
	return withLanguage(fmt.Sprintf(knowledgeTaskPrompt, task.Query, task.ResearchGoal), lang)
}

func buildSearchResultPrompt(task SearchTask, sources []Source, enableReferences bool, lang string) string {
	var ctx strings.Builder
	for i, src := range sources {
		fmt.Fprintf(&ctx, "<content index=\"%d\" url=\"%s\">\n%s\n</content>\n\n", i+1, src.URL, src.Content)
	}
	rules := ""
	if enableReferences {
		rules = citationRules + "\n"
	}
	return withLanguage(fmt.Sprintf(searchResultPrompt, task.Query, task.ResearchGoal, strings.TrimSpace(ctx.String()), rules), lang)
}

func buildFinalReportPrompt(plan string, learnings []string, sources []Source, images []ImageSource, requirement string, opts ReportOptions, lang string) string {
	var ls strings.Builder
	for _, l := range learnings {
		fmt.Fprintf(&ls, "<learning>\n%s\n</learning>\n", l)
	}

	srcBlock := ""
	if opts.EnableReferences && len(sources) > 0 {
		var sb strings.Builder
		sb.WriteString("\nHere are all the sources from previous research, if any:\n<SOURCES>\n")
		for i, s := range sources {
			fmt.Fprintf(&sb, "<source index=\"%d\" url=\"%s\">\n%s\n</source>\n", i+1, s.URL, s.Title)
		}
		sb.WriteString("</SOURCES>\n\n" + citationRules + "\n- Do not add a references list, it is appended automatically.\n")
		srcBlock = sb.String()
	}

	imgBlock := ""
	if opts.EnableCitationImage && len(images) > 0 {
		var sb strings.Builder
		sb.WriteString("\nHere are all the images from previous research, if any:\n<IMAGES>\n")
		for i, img := range images {
			fmt.Fprintf(&sb, "%d. ![%s](%s)\n", i+1, img.Description, img.URL)
		}
		sb.WriteString("</IMAGES>\n" + finalReportImageRules)
		imgBlock = sb.String()
	}

	reqBlock := ""
	if strings.TrimSpace(requirement) != "" {
		reqBlock = fmt.Sprintf("\nPlease write according to the user's writing requirements, if any:\n<REQUIREMENT>\n%s\n</REQUIREMENT>\n", requirement)
	}

	return withLanguage(fmt.Sprintf(finalReportPrompt, plan, strings.TrimSpace(ls.String()), srcBlock, imgBlock, reqBlock), lang)
}
