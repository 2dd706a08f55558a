package agent

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/reportflow/internal/helpers"
	"github.com/mohammad-safakhou/reportflow/internal/search"
	"github.com/mohammad-safakhou/reportflow/internal/workflow"
)

const researcherSystemPrompt = `You are a research agent working on one step of a research plan.
Use the supplied findings and search results. Cite URLs inline when you rely on them.
Write concise Markdown with concrete facts and figures. Do not invent sources.`

const processorSystemPrompt = `You are an analysis agent. Work only from the observations gathered so far.
Compute, compare and structure the data the step asks for. Show intermediate figures.
Write concise Markdown. Flag any gap in the data instead of guessing.`

const synthesizerSystemPrompt = `You are a report writer. Assemble a complete, well structured Markdown report
from the observations. Start with a short executive summary, then one section per topic,
then key takeaways. Keep every figure and citation from the observations.`

const sectionSystemPrompt = `You are writing one section of a longer report. Write only this section,
in Markdown, without repeating the report title. Ground every statement in the supplied notes.`

// maxObservationRunes bounds how much earlier work is replayed into a prompt.
const maxObservationRunes = 4000

func localeLine(locale string) string {
	if locale == "" {
		return ""
	}
	return fmt.Sprintf("Write the answer in the language for locale %s.\n", locale)
}

func stepPrompt(in workflow.StepInput, findings []search.Result, fresh []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "REQUEST: %s\n", in.Request)
	if in.PlanTitle != "" {
		fmt.Fprintf(&b, "PLAN: %s\n", in.PlanTitle)
	}
	fmt.Fprintf(&b, "STEP %d: %s\n", in.StepIndex+1, in.Step.Title)
	if d := strings.TrimSpace(in.Step.Description); d != "" {
		fmt.Fprintf(&b, "DETAILS: %s\n", d)
	}
	b.WriteString(localeLine(in.Locale))
	if prior := joinObservations(in.Observations); prior != "" {
		fmt.Fprintf(&b, "\nEARLIER OBSERVATIONS:\n%s\n", prior)
	}
	writeResults(&b, "BACKGROUND FINDINGS", findings)
	writeResults(&b, "SEARCH RESULTS", fresh)
	return b.String()
}

func writeResults(b *strings.Builder, heading string, results []search.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", heading)
	for _, r := range results {
		fmt.Fprintf(b, "- %s (%s)\n  %s\n", r.Title, r.URL, trimRunes(r.Text(), 600))
	}
}

func joinObservations(obs []string) string {
	if len(obs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, o := range obs {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(o))
	}
	out := b.String()
	r := []rune(out)
	if len(r) > maxObservationRunes {
		// keep the most recent work
		out = "..." + string(r[len(r)-maxObservationRunes:])
	}
	return out
}

func trimRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func references(results []search.Result) string {
	citations := make([]helpers.Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, helpers.Citation{Title: r.Title, URL: r.URL})
	}
	if block := helpers.SourcesBlock(citations); block != "" {
		return "\n\n" + block
	}
	return ""
}
